package pomelo

import (
	"encoding/base64"
	"fmt"
	"time"
)

// manifestField is the reserved per-record field holding the type manifest.
const manifestField = "$type"

// Type tags recorded in the manifest, one per field in field order. A nested
// document or sequence contributes a nested tag list instead of a scalar tag.
const (
	tagNull   = "null"
	tagBool   = "bool"
	tagInt    = "int"
	tagFloat  = "float"
	tagString = "str"
	tagBytes  = "bytes"
	tagTime   = "datetime"
)

// timeLayout is the canonical textual form for timestamps.
const timeLayout = time.RFC3339Nano

// encodeDocument converts a document into its serializable form: binary
// values become base64 text, timestamps become RFC 3339 text, and the
// resulting type manifest is appended as the "$type" field. Nested documents
// are encoded in place; their manifest is a nested list inside the parent's
// manifest rather than a "$type" field of their own.
func encodeDocument(doc *Document) (*Document, error) {
	enc, manifest, err := encodeFields(doc)
	if err != nil {
		return nil, err
	}
	enc.Set(manifestField, manifest)
	return enc, nil
}

func encodeFields(doc *Document) (*Document, []any, error) {
	enc := NewDocument()
	manifest := make([]any, 0, doc.Len())
	for _, name := range doc.Fields() {
		v, _ := doc.Get(name)
		ev, tag, err := encodeValue(v)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", name, err)
		}
		enc.Set(name, ev)
		manifest = append(manifest, tag)
	}
	return enc, manifest, nil
}

// encodeValue returns the serializable form of a value and its manifest
// entry: a scalar tag for leaves, a nested tag list for documents and
// sequences.
func encodeValue(v any) (any, any, error) {
	switch val := v.(type) {
	case nil:
		return nil, tagNull, nil
	case bool:
		return val, tagBool, nil
	case int:
		return int64(val), tagInt, nil
	case int64:
		return val, tagInt, nil
	case float64:
		return val, tagFloat, nil
	case string:
		return val, tagString, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(val), tagBytes, nil
	case time.Time:
		return val.Format(timeLayout), tagTime, nil
	case []any:
		elems := make([]any, len(val))
		tags := make([]any, len(val))
		for i, e := range val {
			ev, tag, err := encodeValue(e)
			if err != nil {
				return nil, nil, err
			}
			elems[i] = ev
			tags[i] = tag
		}
		return elems, tags, nil
	case *Document:
		enc, manifest, err := encodeFields(val)
		if err != nil {
			return nil, nil, err
		}
		return enc, manifest, nil
	}
	return nil, nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// decodeDocument pops the "$type" manifest and, zipping it against the
// fields in order, reverses every leaf conversion performed by
// encodeDocument. Records without a manifest are rejected as corrupt.
func decodeDocument(doc *Document) (*Document, error) {
	raw, ok := doc.Get(manifestField)
	if !ok {
		return nil, fmt.Errorf("%w: record has no %s manifest", ErrCorruptStore, manifestField)
	}
	manifest, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: malformed %s manifest", ErrCorruptStore, manifestField)
	}
	fields := make([]string, 0, doc.Len())
	for _, name := range doc.Fields() {
		if name != manifestField {
			fields = append(fields, name)
		}
	}
	return decodeFields(doc, fields, manifest)
}

func decodeFields(doc *Document, fields []string, manifest []any) (*Document, error) {
	if len(fields) != len(manifest) {
		return nil, fmt.Errorf("%w: manifest length %d does not match %d fields",
			ErrCorruptStore, len(manifest), len(fields))
	}
	out := NewDocument()
	for i, name := range fields {
		v, _ := doc.Get(name)
		dv, err := decodeValue(v, manifest[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out.Set(name, dv)
	}
	return out, nil
}

func decodeValue(v any, entry any) (any, error) {
	if nested, ok := entry.([]any); ok {
		switch val := v.(type) {
		case *Document:
			return decodeFields(val, val.Fields(), nested)
		case []any:
			if len(val) != len(nested) {
				return nil, fmt.Errorf("%w: sequence manifest length mismatch", ErrCorruptStore)
			}
			out := make([]any, len(val))
			for i, e := range val {
				dv, err := decodeValue(e, nested[i])
				if err != nil {
					return nil, err
				}
				out[i] = dv
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: nested manifest for scalar value", ErrCorruptStore)
	}

	tag, ok := entry.(string)
	if !ok {
		return nil, fmt.Errorf("%w: malformed manifest entry %v", ErrCorruptStore, entry)
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %T", ErrCorruptStore, v)
		}
		return b, nil
	case tagInt:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int64:
			return n, nil
		}
		return nil, fmt.Errorf("%w: expected number, got %T", ErrCorruptStore, v)
	case tagFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("%w: expected number, got %T", ErrCorruptStore, v)
	case tagString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrCorruptStore, v)
		}
		return s, nil
	case tagBytes:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected base64 string, got %T", ErrCorruptStore, v)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64: %v", ErrCorruptStore, err)
		}
		return b, nil
	case tagTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected timestamp string, got %T", ErrCorruptStore, v)
		}
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp: %v", ErrCorruptStore, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown type tag %q", ErrCorruptStore, tag)
}
