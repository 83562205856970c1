package pomelo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Document is one stored record: an ordered mapping from field name to
// value. Field order is preserved across serialization because the codec's
// type manifest is positional.
//
// Supported field values: nil, bool, int64, float64, string, []byte,
// time.Time, []any (whose elements are themselves supported values) and
// *Document for nesting.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set stores a field value, appending the field at the end of the order if
// it is new. Returns the document for chaining.
func (d *Document) Set(name string, value any) *Document {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[name]; !ok {
		d.keys = append(d.keys, name)
	}
	d.values[name] = value
	return d
}

// Get returns a field value and whether the field exists.
func (d *Document) Get(name string) (any, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Remove deletes a field, returning its value and whether it existed.
func (d *Document) Remove(name string) (any, bool) {
	v, ok := d.values[name]
	if !ok {
		return nil, false
	}
	delete(d.values, name)
	for i, k := range d.keys {
		if k == name {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Fields returns the field names in insertion order.
func (d *Document) Fields() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return len(d.keys)
}

// Merge copies every field of patch into the document, overwriting existing
// fields and retaining the rest. This is the update semantics of the store.
func (d *Document) Merge(patch *Document) {
	if patch == nil {
		return
	}
	for _, k := range patch.keys {
		d.Set(k, patch.values[k])
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.values[k]))
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case *Document:
		return val.Clone()
	default:
		return v
	}
}

// Equal reports structural equality: same field set with deeply equal
// values, regardless of field order. Numbers compare across int64/float64.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.keys) != len(other.keys) {
		return false
	}
	for k, v := range d.values {
		ov, ok := other.values[k]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, aok := numeric(a); aok {
		nb, bok := numeric(b)
		return bok && na == nb
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Document:
		bv, ok := b.(*Document)
		return ok && av.Equal(bv)
	}
	return false
}

// numeric converts int64 and float64 values to a common float64 form.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// walkLeaves visits every leaf value of the document depth-first in field
// order, descending into nested documents and sequences. Returns false when
// the visitor stopped the walk.
func (d *Document) walkLeaves(visit func(v any) bool) bool {
	for _, k := range d.keys {
		if !walkValue(d.values[k], visit) {
			return false
		}
	}
	return true
}

func walkValue(v any, visit func(v any) bool) bool {
	switch val := v.(type) {
	case *Document:
		return val.walkLeaves(visit)
	case []any:
		for _, e := range val {
			if !walkValue(e, visit) {
				return false
			}
		}
		return true
	default:
		return visit(v)
	}
}

// MarshalJSON writes the document as a JSON object preserving field order.
// Only JSON-native values are accepted; binary and timestamp values must be
// coerced by the codec first.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := marshalValue(&buf, d.values[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%w: non-finite float", ErrUnsupportedType)
		}
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Document:
		b, err := val.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(b)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// UnmarshalJSON parses a JSON object into the document, preserving key
// order. Integer literals parse as int64 so values beyond float64's 53-bit
// mantissa survive; anything else numeric parses as float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// ParseDocument decodes a JSON object into an order-preserving document.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return parseDocument(dec)
}

func parseDocument(dec *json.Decoder) (*Document, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	return parseObject(dec)
}

// parseObject consumes tokens after an opening '{'.
func parseObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, val)
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			var arr []any
			for dec.More() {
				v, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if arr == nil {
				arr = []any{}
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		// Keep integer literals exact: float64 cannot hold every int64.
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n, nil
		}
		return t.Float64()
	case bool, string, float64:
		return t, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}
