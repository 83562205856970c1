package pomelo

// Cursor is an ordered, finite view over a query's result set. Cursors are
// materialized: the result list is captured when the query runs and is not
// affected by later mutations of the store.
type Cursor struct {
	docs []*Document
}

func newCursor(docs []*Document) *Cursor {
	return &Cursor{docs: docs}
}

// All returns the backing result list.
func (c *Cursor) All() []*Document {
	return c.docs
}

// Len returns the number of results.
func (c *Cursor) Len() int {
	return len(c.docs)
}

// First returns the first result, or nil when the cursor is empty.
func (c *Cursor) First() *Document {
	if len(c.docs) == 0 {
		return nil
	}
	return c.docs[0]
}

// Where returns a new cursor over the subset matching the predicate. The
// original cursor is not mutated, so filters chain. Predicate panics count
// as non-match.
func (c *Cursor) Where(pred func(*Document) bool) *Cursor {
	var out []*Document
	for _, doc := range c.docs {
		if evalOrSkip(doc, pred) {
			out = append(out, doc)
		}
	}
	return newCursor(out)
}

// Clone returns a shallow copy of the cursor.
func (c *Cursor) Clone() *Cursor {
	docs := make([]*Document, len(c.docs))
	copy(docs, c.docs)
	return newCursor(docs)
}

// Close clears the backing list. The cursor stays valid: subsequent calls
// return empty results rather than errors.
func (c *Cursor) Close() {
	c.docs = nil
}
