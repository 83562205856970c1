package pomelo

import (
	"context"
	"errors"
	"fmt"
)

// DB is the main database handle. Each handle targets one table; Table()
// derives a handle over another table sharing the same backing store.
//
// DB performs no locking: every operation reads the full database from the
// store, applies its change and writes the result back. Concurrent writers
// follow last-write-wins, which is the contract of the single-blob format.
type DB struct {
	store  *Store
	table  string
	config Config
}

// Open opens (and, unless DisableCreate is set, initializes) a database at
// path. The path argument takes precedence over cfg.Path when both are set.
func Open(path string, cfg Config) (*DB, error) {
	cfg.normalize()
	if path != "" {
		cfg.Path = path
	}

	backend := cfg.Backend
	if backend == nil {
		var err error
		switch {
		case cfg.SQLite != nil:
			backend, err = NewSQLiteBackend(*cfg.SQLite)
		case cfg.S3 != nil:
			backend, err = NewS3Backend(context.Background(), *cfg.S3)
		default:
			if cfg.Path == "" {
				return nil, errors.New("database path is required")
			}
			backend = NewFileBackend()
		}
		if err != nil {
			return nil, err
		}
	}

	store := NewStore(StoreConfig{
		Backend:     backend,
		Key:         cfg.Path,
		Compression: cfg.Compression,
		Encryption:  cfg.Encryption,
	})

	db := &DB{store: store, table: cfg.DefaultTable, config: cfg}

	exists, err := store.Exists(context.Background())
	if err != nil {
		return nil, err
	}
	if !exists {
		if cfg.DisableCreate {
			return nil, fmt.Errorf("%w: database %q does not exist", ErrNotFound, cfg.Path)
		}
		if err := store.Initialize(context.Background(), schemaVersion, cfg.DefaultTable); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Close releases the underlying storage backend. The handle must not be
// used afterwards.
func (db *DB) Close() error {
	return db.store.Close()
}

// Path returns the configured blob location.
func (db *DB) Path() string {
	return db.config.Path
}

// TableName returns the table this handle targets.
func (db *DB) TableName() string {
	return db.table
}

// Table returns a handle over another table of the same database. The table
// is created lazily on first insert.
func (db *DB) Table(name string) *DB {
	if name == "" {
		name = db.config.DefaultTable
	}
	clone := *db
	clone.table = name
	return &clone
}

// load reads and decodes the full database.
func (db *DB) load() (*Database, error) {
	return db.store.Read(context.Background())
}

// flush writes the full database back, replacing the stored blob.
func (db *DB) flush(data *Database) error {
	return db.store.Write(context.Background(), data, WriteReplace)
}

// Insert adds one record to the active table and returns its id. The stored
// record is the given document, so only the id is returned rather than an
// (id, record) pair. If the backing blob has disappeared since Open, a fresh
// database is initialized first, so a deleted file does not strand the
// handle.
func (db *DB) Insert(doc *Document) (id int64, err error) {
	defer func() { observeOp("insert", err) }()

	data, err := db.loadOrInit()
	if err != nil {
		return 0, err
	}
	table := data.EnsureTable(db.table)
	id = table.NextID()
	table.Put(id, doc.Clone())
	if err := db.flush(data); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertMany adds records in iteration order within a single read/write
// cycle and returns their ids.
func (db *DB) InsertMany(docs []*Document) (ids []int64, err error) {
	defer func() { observeOp("insert_many", err) }()

	data, err := db.loadOrInit()
	if err != nil {
		return nil, err
	}
	table := data.EnsureTable(db.table)
	ids = make([]int64, 0, len(docs))
	for _, doc := range docs {
		id := table.NextID()
		table.Put(id, doc.Clone())
		ids = append(ids, id)
	}
	if err := db.flush(data); err != nil {
		return nil, err
	}
	return ids, nil
}

// loadOrInit loads the database, re-initializing a missing blob.
func (db *DB) loadOrInit() (*Database, error) {
	data, err := db.load()
	if errors.Is(err, ErrNotFound) && !db.config.DisableCreate {
		if err := db.store.Initialize(context.Background(), schemaVersion, db.config.DefaultTable); err != nil {
			return nil, err
		}
		return db.load()
	}
	return data, err
}

// Search evaluates a query over the active table and returns a cursor over
// the matches in record-id order. A nil query matches everything.
func (db *DB) Search(q *Query) (*Cursor, error) {
	return db.SearchRate(q, 0)
}

// SearchRate is Search with a result bound: rate 0 is unbounded, 1 (or any
// value below) keeps only the first match, larger values keep the first
// rate matches.
func (db *DB) SearchRate(q *Query, rate int) (c *Cursor, err error) {
	defer func() { observeOp("search", err) }()

	data, err := db.load()
	if err != nil {
		return nil, err
	}
	var docs []*Document
	if t := data.Table(db.table); t != nil {
		docs = t.Records()
	}
	result, err := evaluateQuery(q, docs, rate)
	if err != nil {
		return nil, err
	}
	return newCursor(result), nil
}

// FindOne returns the first record matching the query, or nil (with no
// error) when nothing matches.
func (db *DB) FindOne(q *Query) (*Document, error) {
	cur, err := db.SearchRate(q, 1)
	if err != nil {
		return nil, err
	}
	return cur.First(), nil
}

// Update merges patch into the first record matching the query. Fields
// present in the patch overwrite, fields absent are kept. When nothing
// matches, Update fails with ErrNotFound before any write happens, so the
// stored blob is untouched.
func (db *DB) Update(q *Query, patch *Document) (err error) {
	defer func() { observeOp("update", err) }()

	data, err := db.load()
	if err != nil {
		return err
	}

	var docs []*Document
	if t := data.Table(db.table); t != nil {
		docs = t.Records()
	}
	matches, err := evaluateQuery(q, docs, 1)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w: update query matched no record", ErrNotFound)
	}

	// Locate the stored record equal to the match and merge in place.
	target := matches[0]
	if rec, _, ok := findRecord(data, target); ok {
		rec.Merge(patch)
	} else {
		return fmt.Errorf("%w: update target vanished", ErrNotFound)
	}
	return db.flush(data)
}

// Delete resolves the query over the active table and removes the resolved
// records: all matches when removeAll is set, only the first otherwise. It
// returns the removed records. A query matching nothing is a no-op, not an
// error.
func (db *DB) Delete(q *Query, removeAll bool) (deleted []*Document, err error) {
	defer func() { observeOp("delete", err) }()

	data, err := db.load()
	if err != nil {
		return nil, err
	}

	var docs []*Document
	if t := data.Table(db.table); t != nil {
		docs = t.Records()
	}
	rate := 1
	if removeAll {
		rate = 0
	}
	matches, err := evaluateQuery(q, docs, rate)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	for _, m := range matches {
		if rec, loc, ok := findRecord(data, m); ok {
			loc.table.Delete(loc.id)
			deleted = append(deleted, rec)
		}
	}
	if err := db.flush(data); err != nil {
		return nil, err
	}
	return deleted, nil
}

// DeleteDocument removes records equal to the literal document: every equal
// record when removeAll is set, only the first otherwise. It returns the
// removed records; removing nothing is a no-op, not an error.
func (db *DB) DeleteDocument(doc *Document, removeAll bool) (deleted []*Document, err error) {
	defer func() { observeOp("delete", err) }()

	data, err := db.load()
	if err != nil {
		return nil, err
	}

	for {
		rec, loc, ok := findRecord(data, doc)
		if !ok {
			break
		}
		loc.table.Delete(loc.id)
		deleted = append(deleted, rec)
		if !removeAll {
			break
		}
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	if err := db.flush(data); err != nil {
		return nil, err
	}
	return deleted, nil
}

// recordLoc points at one stored record.
type recordLoc struct {
	table *Table
	id    int64
}

// findRecord scans every table in name order, records in id order, and
// returns the first stored record equal to doc.
func findRecord(data *Database, doc *Document) (*Document, recordLoc, bool) {
	for _, name := range data.TableNames() {
		table := data.Table(name)
		for _, id := range table.IDs() {
			rec, _ := table.Get(id)
			if rec.Equal(doc) {
				return rec, recordLoc{table: table, id: id}, true
			}
		}
	}
	return nil, recordLoc{}, false
}

// All returns every record of the active table in id order.
func (db *DB) All() (c *Cursor, err error) {
	return db.Search(nil)
}

// Len returns the number of records in the active table.
func (db *DB) Len() (int, error) {
	data, err := db.load()
	if err != nil {
		return 0, err
	}
	if t := data.Table(db.table); t != nil {
		return t.Len(), nil
	}
	return 0, nil
}

// Tables returns the sorted table names of the database. The version
// metadata entry is not a table and is never listed.
func (db *DB) Tables() (names []string, err error) {
	defer func() { observeOp("tables", err) }()

	data, err := db.load()
	if err != nil {
		return nil, err
	}
	return data.TableNames(), nil
}

// Clear resets the database to its freshly initialized shape: the version
// entry plus one empty default table.
func (db *DB) Clear() (err error) {
	defer func() { observeOp("clear", err) }()
	return db.store.Initialize(context.Background(), schemaVersion, db.config.DefaultTable)
}
