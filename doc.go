// Package pomelo provides an embedded, single-file JSON document store with
// type-preserving persistence and a small remote relay.
//
// Data is organized as tables of records. Records are ordered documents
// whose values round-trip through storage without losing their types:
// binary and timestamp values survive the JSON encoding via a per-record
// type manifest.
//
// # Basic Usage
//
// Open a database:
//
//	db, err := pomelo.Open("data.json", pomelo.DefaultConfig("data.json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Insert a record:
//
//	id, err := db.Insert(pomelo.NewDocument().
//	    Set("name", "ada").
//	    Set("joined", time.Now()))
//
// Search:
//
//	cur, err := db.Search(pomelo.Compare("name", pomelo.OpEq, "ada"))
//	for _, doc := range cur.All() {
//	    ...
//	}
//
// # Queries
//
// Four query forms are recognized: MatchAll (everything), Match (structural,
// any shared field/value pair), Compare (one field against an operand) and
// MatchPattern (case-insensitive text over every leaf). MatchFunc adds
// arbitrary predicates for local use; predicate queries cannot cross the
// wire.
//
// # Storage
//
// The whole database is one blob, rewritten on every mutation. Blobs live
// in a plain file by default, or in SQLite or S3-compatible object storage,
// optionally snappy-compressed and encrypted with AES-256-GCM.
//
// # Remote access
//
// Server exposes the store over WebSocket; Client is the matching caller.
// See the cmd/pomelo command for the CLI.
package pomelo
