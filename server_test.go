package pomelo

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "remote.json")
	db, err := Open(path, DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := NewServer(db, ServerConfig{Addr: "127.0.0.1:0"}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	client, err := Dial("ws://" + srv.Addr() + "/ws")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func TestRelayInsertAndSearch(t *testing.T) {
	_, client := startTestServer(t)

	when := time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC)
	doc := NewDocument().
		Set("name", "ada").
		Set("blob", []byte{1, 2, 3}).
		Set("at", when)

	id, err := client.Insert(doc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}

	got, err := client.Search(Match(NewDocument().Set("name", "ada")))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search = %d docs", len(got))
	}
	// Types survive the wire in both directions.
	if !got[0].Equal(doc) {
		t.Errorf("record lost fidelity over the wire: %v", got[0])
	}
}

func TestRelayInsertMany(t *testing.T) {
	_, client := startTestServer(t)

	ids, err := client.InsertMany(sampleDocs())
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if len(ids) != 3 || ids[2] != 2 {
		t.Errorf("ids = %v", ids)
	}

	got, err := client.SearchRate(nil, 2)
	if err != nil || len(got) != 2 {
		t.Errorf("SearchRate = %d docs, %v", len(got), err)
	}
}

func TestRelayFindOne(t *testing.T) {
	_, client := startTestServer(t)
	if _, err := client.InsertMany(sampleDocs()); err != nil {
		t.Fatal(err)
	}

	doc, err := client.FindOne(Compare("age", OpGt, int64(80)))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc == nil {
		t.Fatal("FindOne = nil")
	}
	if v, _ := doc.Get("name"); v.(string) != "Grace Hopper" {
		t.Errorf("name = %v", v)
	}

	doc, err = client.FindOne(Compare("age", OpGt, int64(1000)))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc != nil {
		t.Errorf("FindOne on no match = %v", doc)
	}
}

func TestRelayUpdate(t *testing.T) {
	_, client := startTestServer(t)
	if _, err := client.InsertMany(sampleDocs()); err != nil {
		t.Fatal(err)
	}

	err := client.Update(
		Match(NewDocument().Set("name", "Alan Turing")),
		NewDocument().Set("lang", "universal"),
	)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := client.FindOne(Match(NewDocument().Set("name", "Alan Turing")))
	if err != nil || doc == nil {
		t.Fatalf("FindOne = %v, %v", doc, err)
	}
	if v, _ := doc.Get("lang"); v.(string) != "universal" {
		t.Errorf("lang = %v", v)
	}

	// A miss maps back onto the local sentinel.
	err = client.Update(Match(NewDocument().Set("name", "nobody")), NewDocument().Set("x", int64(1)))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update miss err = %v, want ErrNotFound", err)
	}
}

func TestRelayDelete(t *testing.T) {
	_, client := startTestServer(t)
	if _, err := client.InsertMany(sampleDocs()); err != nil {
		t.Fatal(err)
	}

	deleted, err := client.Delete(Compare("age", OpGt, int64(40)), true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %d, want 2", len(deleted))
	}

	rest, err := client.Search(nil)
	if err != nil || len(rest) != 1 {
		t.Errorf("remaining = %d docs, %v", len(rest), err)
	}
}

func TestRelayTablesAndClear(t *testing.T) {
	_, client := startTestServer(t)

	if _, err := client.Table("users").Insert(NewDocument().Set("n", int64(1))); err != nil {
		t.Fatalf("Insert into users: %v", err)
	}

	names, err := client.Tables()
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(names) != 2 || names[1] != "users" {
		t.Errorf("Tables = %v", names)
	}

	if err := client.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	names, err = client.Tables()
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(names) != 1 || names[0] != DefaultTableName {
		t.Errorf("Tables after Clear = %v", names)
	}
}

func TestRelaySerializesAcrossConnections(t *testing.T) {
	srv, client := startTestServer(t)

	second, err := Dial("ws://" + srv.Addr() + "/ws")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	// Writes racing in from two connections are dispatched one at a time,
	// so none of the read-modify-write cycles can drop another's record.
	const perClient = 10
	var wg sync.WaitGroup
	for _, c := range []*Client{client, second} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				if _, err := c.Insert(NewDocument().Set("n", int64(i))); err != nil {
					t.Errorf("Insert: %v", err)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	docs, err := client.Search(nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 2*perClient {
		t.Errorf("stored %d records, want %d", len(docs), 2*perClient)
	}
}

func TestRelayPredicateRejectedLocally(t *testing.T) {
	_, client := startTestServer(t)

	_, err := client.Search(MatchFunc(func(*Document) bool { return true }))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("predicate over wire err = %v, want ErrInvalidQuery", err)
	}
}

func TestRelayUnknownOp(t *testing.T) {
	_, client := startTestServer(t)

	if _, err := client.do(Request{Op: "explode"}); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestRelayErrorKeepsConnectionAlive(t *testing.T) {
	_, client := startTestServer(t)

	if _, err := client.do(Request{Op: "bogus"}); err == nil {
		t.Fatal("bogus op accepted")
	}
	// The connection survives a failed request.
	if _, err := client.Insert(NewDocument().Set("n", int64(1))); err != nil {
		t.Errorf("Insert after error: %v", err)
	}
}
