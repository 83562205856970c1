package pomelo

import (
	"errors"
	"strings"
	"testing"
)

func TestTableNextID(t *testing.T) {
	table := newTable()
	if got := table.NextID(); got != 0 {
		t.Errorf("NextID on empty table = %d, want 0", got)
	}

	table.Put(0, NewDocument().Set("n", int64(0)))
	table.Put(1, NewDocument().Set("n", int64(1)))
	table.Put(2, NewDocument().Set("n", int64(2)))

	// Ids are never reused after deletion: allocation scans the maximum.
	table.Delete(1)
	if got := table.NextID(); got != 3 {
		t.Errorf("NextID after mid delete = %d, want 3", got)
	}
	table.Delete(2)
	if got := table.NextID(); got != 1 {
		t.Errorf("NextID after max delete = %d, want 1", got)
	}
}

func TestTableRecordsOrdered(t *testing.T) {
	table := newTable()
	table.Put(5, NewDocument().Set("n", int64(5)))
	table.Put(1, NewDocument().Set("n", int64(1)))
	table.Put(3, NewDocument().Set("n", int64(3)))

	var got []int64
	for _, doc := range table.Records() {
		v, _ := doc.Get("n")
		got = append(got, v.(int64))
	}
	want := []int64{1, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Records order = %v, want %v", got, want)
		}
	}
}

func TestDatabaseTableNames(t *testing.T) {
	db := NewDatabase(schemaVersion)
	db.EnsureTable("zeta")
	db.EnsureTable("alpha")

	names := db.TableNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("TableNames = %v", names)
	}
}

func TestDatabaseMarshalRoundTrip(t *testing.T) {
	db := NewDatabase([]int{1, 0, 0})
	users := db.EnsureTable("users")
	users.Put(0, NewDocument().Set("name", "ada").Set("blob", []byte{1, 2}))
	users.Put(1, NewDocument().Set("name", "grace"))
	db.EnsureTable("empty")

	data, err := marshalDatabase(db)
	if err != nil {
		t.Fatalf("marshalDatabase: %v", err)
	}

	// The version entry leads and record ids are decimal strings.
	text := string(data)
	if !strings.HasPrefix(text, `{"__version__":[1,0,0]`) {
		t.Errorf("version entry not first: %s", text)
	}
	if !strings.Contains(text, `"0":{`) {
		t.Errorf("record ids not decimal strings: %s", text)
	}

	back, err := unmarshalDatabase(data)
	if err != nil {
		t.Fatalf("unmarshalDatabase: %v", err)
	}
	if len(back.Version) != 3 || back.Version[0] != 1 {
		t.Errorf("Version = %v", back.Version)
	}
	names := back.TableNames()
	if len(names) != 2 {
		t.Fatalf("TableNames = %v", names)
	}
	rec, ok := back.Table("users").Get(0)
	if !ok {
		t.Fatal("record 0 lost")
	}
	if v, _ := rec.Get("blob"); string(v.([]byte)) != "\x01\x02" {
		t.Errorf("blob = %v", v)
	}
	if back.Table("empty").Len() != 0 {
		t.Error("empty table grew records")
	}
}

func TestUnmarshalDatabaseCorrupt(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"not json":      "not json at all",
		"table scalar":  `{"__version__":[1,0,0],"t":5}`,
		"bad id":        `{"__version__":[1,0,0],"t":{"abc":{}}}`,
		"negative id":   `{"__version__":[1,0,0],"t":{"-1":{}}}`,
		"record scalar": `{"__version__":[1,0,0],"t":{"0":7}}`,
		"no manifest":   `{"__version__":[1,0,0],"t":{"0":{"a":1}}}`,
		"bad version":   `{"__version__":"1.0.0"}`,
	}
	for name, input := range cases {
		if _, err := unmarshalDatabase([]byte(input)); !errors.Is(err, ErrCorruptStore) {
			t.Errorf("%s: err = %v, want ErrCorruptStore", name, err)
		}
	}
}
