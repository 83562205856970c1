package pomelo

import "testing"

func TestCursorBasics(t *testing.T) {
	cur := newCursor(sampleDocs())

	if cur.Len() != 3 {
		t.Errorf("Len = %d", cur.Len())
	}
	first := cur.First()
	if first == nil {
		t.Fatal("First = nil")
	}
	if v, _ := first.Get("name"); v.(string) != "Ada Lovelace" {
		t.Errorf("First name = %v", v)
	}

	empty := newCursor(nil)
	if empty.First() != nil {
		t.Error("First on empty cursor not nil")
	}
	if empty.Len() != 0 || len(empty.All()) != 0 {
		t.Error("empty cursor has results")
	}
}

func TestCursorWhereChains(t *testing.T) {
	cur := newCursor(sampleDocs())

	adults := cur.Where(func(d *Document) bool {
		v, _ := d.Get("age")
		return v.(int64) > 40
	})
	if adults.Len() != 2 {
		t.Fatalf("first filter Len = %d", adults.Len())
	}

	grace := adults.Where(func(d *Document) bool {
		v, _ := d.Get("lang")
		return v.(string) == "cobol"
	})
	if grace.Len() != 1 {
		t.Errorf("chained filter Len = %d", grace.Len())
	}

	// Filtering never mutates the source cursor.
	if cur.Len() != 3 || adults.Len() != 2 {
		t.Error("Where mutated its receiver")
	}
}

func TestCursorWherePanicIsNonMatch(t *testing.T) {
	cur := newCursor(sampleDocs())
	got := cur.Where(func(d *Document) bool {
		v, _ := d.Get("missing")
		return v.(int64) > 0
	})
	if got.Len() != 0 {
		t.Errorf("panicking filter Len = %d", got.Len())
	}
}

func TestCursorCloneAndClose(t *testing.T) {
	cur := newCursor(sampleDocs())
	clone := cur.Clone()

	cur.Close()
	if cur.Len() != 0 || cur.First() != nil {
		t.Error("Close did not clear the cursor")
	}
	// A closed cursor stays usable.
	if cur.Where(func(*Document) bool { return true }).Len() != 0 {
		t.Error("closed cursor produced results")
	}
	// Clones are independent.
	if clone.Len() != 3 {
		t.Errorf("clone Len after source Close = %d", clone.Len())
	}
}
