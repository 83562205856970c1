package pomelo

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// versionField is the reserved top-level entry holding the schema version
// tuple. It is never treated as a table.
const versionField = "__version__"

// schemaVersion is stamped into newly initialized databases.
var schemaVersion = []int{1, 0, 0}

// Database is the root structure: a mapping from table name to Table plus
// the schema version tuple.
type Database struct {
	Version []int
	tables  map[string]*Table
}

// NewDatabase creates an empty database stamped with the given version.
func NewDatabase(version []int) *Database {
	return &Database{
		Version: append([]int(nil), version...),
		tables:  make(map[string]*Table),
	}
}

// Table returns the named table, or nil if it does not exist.
func (db *Database) Table(name string) *Table {
	return db.tables[name]
}

// EnsureTable returns the named table, creating it on demand.
func (db *Database) EnsureTable(name string) *Table {
	t, ok := db.tables[name]
	if !ok {
		t = newTable()
		db.tables[name] = t
	}
	return t
}

// DropTable removes the named table.
func (db *Database) DropTable(name string) {
	delete(db.tables, name)
}

// TableNames returns all table names in sorted order. The version entry is
// not a table and never appears here.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table maps record ids to records. Ids are allocated in strictly increasing
// order starting at 0 and are never reused or renumbered.
type Table struct {
	records map[int64]*Document
}

func newTable() *Table {
	return &Table{records: make(map[int64]*Document)}
}

// Get returns the record with the given id.
func (t *Table) Get(id int64) (*Document, bool) {
	doc, ok := t.records[id]
	return doc, ok
}

// Put stores a record under the given id.
func (t *Table) Put(id int64, doc *Document) {
	t.records[id] = doc
}

// Delete removes the record with the given id.
func (t *Table) Delete(id int64) {
	delete(t.records, id)
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// IDs returns all record ids in ascending order.
func (t *Table) IDs() []int64 {
	ids := make([]int64, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Records returns all records in id order.
func (t *Table) Records() []*Document {
	ids := t.IDs()
	out := make([]*Document, len(ids))
	for i, id := range ids {
		out[i] = t.records[id]
	}
	return out
}

// NextID allocates the next record id by scanning existing keys: one past
// the maximum, or 0 for an empty table. Scanning instead of keeping a
// counter tolerates external edits to the backing file between operations.
func (t *Table) NextID() int64 {
	if len(t.records) == 0 {
		return 0
	}
	var max int64 = -1
	for id := range t.records {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// marshalDatabase renders the database into its persisted JSON form: the
// version entry first, then each table with decimal-string record ids and
// codec-encoded records.
func marshalDatabase(db *Database) ([]byte, error) {
	root := NewDocument()
	version := make([]any, len(db.Version))
	for i, n := range db.Version {
		version[i] = int64(n)
	}
	root.Set(versionField, version)

	for _, name := range db.TableNames() {
		table := db.tables[name]
		tableDoc := NewDocument()
		for _, id := range table.IDs() {
			enc, err := encodeDocument(table.records[id])
			if err != nil {
				return nil, err
			}
			tableDoc.Set(strconv.FormatInt(id, 10), enc)
		}
		root.Set(name, tableDoc)
	}
	return root.MarshalJSON()
}

// unmarshalDatabase parses and fully decodes the persisted JSON form.
// Malformed structure of any kind reports ErrCorruptStore.
func unmarshalDatabase(data []byte) (*Database, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty database file", ErrCorruptStore)
	}
	root, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	db := NewDatabase(nil)
	for _, name := range root.Fields() {
		v, _ := root.Get(name)
		if name == versionField {
			version, err := parseVersion(v)
			if err != nil {
				return nil, err
			}
			db.Version = version
			continue
		}
		tableDoc, ok := v.(*Document)
		if !ok {
			return nil, fmt.Errorf("%w: table %q is not an object", ErrCorruptStore, name)
		}
		table := db.EnsureTable(name)
		for _, key := range tableDoc.Fields() {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil || id < 0 {
				return nil, fmt.Errorf("%w: table %q has invalid record id %q", ErrCorruptStore, name, key)
			}
			raw, _ := tableDoc.Get(key)
			recDoc, ok := raw.(*Document)
			if !ok {
				return nil, fmt.Errorf("%w: record %s/%s is not an object", ErrCorruptStore, name, key)
			}
			rec, err := decodeDocument(recDoc)
			if err != nil {
				return nil, err
			}
			table.Put(id, rec)
		}
	}
	return db, nil
}

func parseVersion(v any) ([]int, error) {
	parts, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: malformed version entry", ErrCorruptStore)
	}
	version := make([]int, len(parts))
	for i, p := range parts {
		n, ok := numeric(p)
		if !ok {
			return nil, fmt.Errorf("%w: malformed version entry", ErrCorruptStore)
		}
		version[i] = int(n)
	}
	return version, nil
}
