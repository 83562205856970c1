package pomelo

import (
	"errors"
	"testing"
	"time"
)

func TestDocumentSetGetOrder(t *testing.T) {
	doc := NewDocument().
		Set("name", "ada").
		Set("age", int64(36)).
		Set("active", true)

	if got := doc.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	fields := doc.Fields()
	want := []string{"name", "age", "active"}
	for i, name := range want {
		if fields[i] != name {
			t.Errorf("Fields()[%d] = %q, want %q", i, fields[i], name)
		}
	}

	v, ok := doc.Get("age")
	if !ok || v.(int64) != 36 {
		t.Errorf("Get(age) = %v, %v", v, ok)
	}

	// Re-setting keeps the original position.
	doc.Set("name", "grace")
	if doc.Fields()[0] != "name" {
		t.Errorf("re-set moved field, order = %v", doc.Fields())
	}
	if v, _ := doc.Get("name"); v.(string) != "grace" {
		t.Errorf("Get(name) = %v after re-set", v)
	}
}

func TestDocumentRemove(t *testing.T) {
	doc := NewDocument().Set("a", int64(1)).Set("b", int64(2))

	v, ok := doc.Remove("a")
	if !ok || v.(int64) != 1 {
		t.Fatalf("Remove(a) = %v, %v", v, ok)
	}
	if _, ok := doc.Get("a"); ok {
		t.Error("field still present after Remove")
	}
	if _, ok := doc.Remove("a"); ok {
		t.Error("second Remove reported existing field")
	}
	if doc.Len() != 1 || doc.Fields()[0] != "b" {
		t.Errorf("unexpected shape after Remove: %v", doc.Fields())
	}
}

func TestDocumentMerge(t *testing.T) {
	doc := NewDocument().Set("name", "ada").Set("age", int64(36))
	patch := NewDocument().Set("age", int64(37)).Set("city", "london")

	doc.Merge(patch)

	if v, _ := doc.Get("age"); v.(int64) != 37 {
		t.Errorf("age = %v, want 37", v)
	}
	if v, _ := doc.Get("name"); v.(string) != "ada" {
		t.Errorf("name = %v, patch must not drop untouched fields", v)
	}
	if v, ok := doc.Get("city"); !ok || v.(string) != "london" {
		t.Errorf("city = %v, %v", v, ok)
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	inner := NewDocument().Set("x", int64(1))
	doc := NewDocument().
		Set("blob", []byte{1, 2, 3}).
		Set("list", []any{int64(1), int64(2)}).
		Set("nested", inner)

	clone := doc.Clone()

	inner.Set("x", int64(99))
	b, _ := doc.Get("blob")
	b.([]byte)[0] = 42
	l, _ := doc.Get("list")
	l.([]any)[0] = int64(99)

	cb, _ := clone.Get("blob")
	if cb.([]byte)[0] != 1 {
		t.Error("clone shares blob storage")
	}
	cl, _ := clone.Get("list")
	if cl.([]any)[0].(int64) != 1 {
		t.Error("clone shares list storage")
	}
	cn, _ := clone.Get("nested")
	if v, _ := cn.(*Document).Get("x"); v.(int64) != 1 {
		t.Error("clone shares nested document")
	}
}

func TestDocumentEqual(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := NewDocument().
		Set("name", "ada").
		Set("n", int64(3)).
		Set("blob", []byte{1, 2}).
		Set("at", when)
	b := NewDocument().
		Set("at", when).
		Set("blob", []byte{1, 2}).
		Set("n", float64(3)).
		Set("name", "ada")

	if !a.Equal(b) {
		t.Error("order and int/float differences must not break equality")
	}

	c := b.Clone()
	c.Set("name", "grace")
	if a.Equal(c) {
		t.Error("different values reported equal")
	}

	d := NewDocument().Set("name", "ada")
	if a.Equal(d) {
		t.Error("different field sets reported equal")
	}
}

func TestDocumentJSONOrder(t *testing.T) {
	doc := NewDocument().
		Set("z", int64(1)).
		Set("a", "two").
		Set("m", []any{true, nil})

	data, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"z":1,"a":"two","m":[true,null]}`
	if string(data) != want {
		t.Errorf("MarshalJSON = %s, want %s", data, want)
	}

	back, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	fields := back.Fields()
	if fields[0] != "z" || fields[1] != "a" || fields[2] != "m" {
		t.Errorf("parsed field order = %v", fields)
	}
}

func TestDocumentJSONNested(t *testing.T) {
	data := []byte(`{"outer":{"b":1,"a":2},"list":[{"x":true}]}`)

	doc, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	outer, _ := doc.Get("outer")
	nested, ok := outer.(*Document)
	if !ok {
		t.Fatalf("nested object parsed as %T", outer)
	}
	if nested.Fields()[0] != "b" {
		t.Errorf("nested order = %v", nested.Fields())
	}

	round, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(round) != string(data) {
		t.Errorf("round trip changed bytes: %s", round)
	}
}

func TestParseDocumentNumbers(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"big":9007199254740993,"neg":-9007199254740993,"f":1.5,"e":1e100}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	// Integer literals parse as int64 so they survive beyond float64's
	// 53-bit mantissa; everything else stays float64.
	if v, _ := doc.Get("big"); v.(int64) != 9007199254740993 {
		t.Errorf("big = %T %v", v, v)
	}
	if v, _ := doc.Get("neg"); v.(int64) != -9007199254740993 {
		t.Errorf("neg = %T %v", v, v)
	}
	if v, _ := doc.Get("f"); v.(float64) != 1.5 {
		t.Errorf("f = %T %v", v, v)
	}
	if v, _ := doc.Get("e"); v.(float64) != 1e100 {
		t.Errorf("e = %T %v", v, v)
	}
}

func TestDocumentMarshalUnsupported(t *testing.T) {
	doc := NewDocument().Set("ch", make(chan int))
	if _, err := doc.MarshalJSON(); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("MarshalJSON err = %v, want ErrUnsupportedType", err)
	}
}

func TestWalkLeaves(t *testing.T) {
	doc := NewDocument().
		Set("a", int64(1)).
		Set("b", NewDocument().Set("c", "deep")).
		Set("d", []any{int64(2), []any{"deeper"}})

	var leaves []any
	doc.walkLeaves(func(v any) bool {
		leaves = append(leaves, v)
		return true
	})

	if len(leaves) != 4 {
		t.Fatalf("visited %d leaves, want 4: %v", len(leaves), leaves)
	}
	if leaves[1].(string) != "deep" || leaves[3].(string) != "deeper" {
		t.Errorf("leaf order = %v", leaves)
	}

	// Early stop.
	count := 0
	doc.walkLeaves(func(any) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("visitor ran %d times after stop", count)
	}
}
