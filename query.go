package pomelo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// QueryKind discriminates the recognized query forms.
type QueryKind int

const (
	// QueryAll is the identity pass: every record of the active table.
	QueryAll QueryKind = iota
	// QueryStructural matches records whose top-level (field, value) pairs
	// intersect a partial record.
	QueryStructural
	// QueryComparative compares one field against an operand.
	QueryComparative
	// QueryPattern matches a case-insensitive text pattern against every
	// leaf value, depth-first.
	QueryPattern
	// QueryPredicate matches records a caller-supplied function accepts.
	QueryPredicate
)

// Operator enumerates the comparison operators of comparative queries.
type Operator string

const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpLe Operator = "<="
	OpGt Operator = ">"
	OpGe Operator = ">="
)

var operators = map[Operator]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
}

// Query is a tagged union with one case per recognized query form. Build
// values with MatchAll, Match, Compare, MatchPattern or MatchFunc; the
// evaluator switches exhaustively on the kind.
type Query struct {
	kind    QueryKind
	doc     *Document
	field   string
	op      Operator
	operand any
	pattern string
	pred    func(*Document) bool
}

// MatchAll returns the identity query.
func MatchAll() *Query {
	return &Query{kind: QueryAll}
}

// Match returns a structural query: records are included when the
// intersection of their top-level (field, value) pairs with doc's pairs is
// non-empty. Any single matching field is enough.
func Match(doc *Document) *Query {
	return &Query{kind: QueryStructural, doc: doc}
}

// Compare returns a comparative query over one field.
func Compare(field string, op Operator, operand any) *Query {
	return &Query{kind: QueryComparative, field: field, op: op, operand: operand}
}

// MatchPattern returns a free-text pattern query. The pattern is a regular
// expression applied case-insensitively to the string form of every leaf
// value.
func MatchPattern(pattern string) *Query {
	return &Query{kind: QueryPattern, pattern: pattern}
}

// MatchFunc returns a predicate query. Predicate panics are swallowed and
// count as non-match. Predicate queries cannot cross the wire.
func MatchFunc(pred func(*Document) bool) *Query {
	return &Query{kind: QueryPredicate, pred: pred}
}

// Kind returns the query form.
func (q *Query) Kind() QueryKind {
	return q.kind
}

// evaluateQuery filters docs according to the query and applies the rate
// bound. A nil query is the identity pass.
func evaluateQuery(q *Query, docs []*Document, rate int) ([]*Document, error) {
	if q == nil {
		q = MatchAll()
	}

	var result []*Document
	switch q.kind {
	case QueryAll:
		result = docs

	case QueryStructural:
		if q.doc == nil {
			return nil, fmt.Errorf("%w: structural query has no document", ErrInvalidQuery)
		}
		for _, doc := range docs {
			if structuralMatch(doc, q.doc) {
				result = append(result, doc)
			}
		}

	case QueryComparative:
		if q.field == "" || !operators[q.op] {
			return nil, fmt.Errorf("%w: bad comparison %q %q", ErrInvalidQuery, q.field, q.op)
		}
		for _, doc := range docs {
			if evalOrSkip(doc, func(d *Document) bool {
				return compareMatch(d, q.field, q.op, q.operand)
			}) {
				result = append(result, doc)
			}
		}

	case QueryPattern:
		re, err := regexp.Compile("(?i)" + q.pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidQuery, q.pattern, err)
		}
		for _, doc := range docs {
			if patternMatch(doc, re) {
				result = append(result, doc)
			}
		}

	case QueryPredicate:
		if q.pred == nil {
			return nil, fmt.Errorf("%w: predicate query has no function", ErrInvalidQuery)
		}
		for _, doc := range docs {
			if evalOrSkip(doc, q.pred) {
				result = append(result, doc)
			}
		}

	default:
		return nil, fmt.Errorf("%w: unrecognized query kind %d", ErrInvalidQuery, q.kind)
	}

	return applyRate(result, rate), nil
}

// applyRate bounds a result list: 0 means unbounded, anything below 1 means
// the single first match, otherwise the first rate matches. An empty list
// stays empty regardless of rate.
func applyRate(docs []*Document, rate int) []*Document {
	if rate == 0 || len(docs) == 0 {
		return docs
	}
	if rate < 1 {
		rate = 1
	}
	if rate > len(docs) {
		rate = len(docs)
	}
	return docs[:rate]
}

// evalOrSkip runs a predicate over one record, treating panics as
// non-match. Defensive filtering: per-record evaluation errors must never
// propagate out of a search.
func evalOrSkip(doc *Document, pred func(*Document) bool) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return pred(doc)
}

// structuralMatch reports whether the intersection of top-level
// (field, value) pairs is non-empty: any single matching pair includes the
// record.
func structuralMatch(doc, partial *Document) bool {
	for _, name := range partial.Fields() {
		qv, _ := partial.Get(name)
		if dv, ok := doc.Get(name); ok && valueEqual(dv, qv) {
			return true
		}
	}
	return false
}

// compareMatch evaluates operator(doc[field], operand). A textual operand
// first tries a case-insensitive pattern match against the field's string
// form; the matched substring becomes the right-hand operand, falling back
// to the raw operand when nothing matches.
func compareMatch(doc *Document, field string, op Operator, operand any) bool {
	v, ok := doc.Get(field)
	if !ok {
		return false
	}

	rhs := operand
	if s, isStr := operand.(string); isStr {
		if re, err := regexp.Compile("(?i)" + s); err == nil {
			// FindStringIndex distinguishes a genuine empty-string match
			// from no match at all.
			if loc := re.FindStringIndex(stringify(v)); loc != nil {
				rhs = stringify(v)[loc[0]:loc[1]]
			}
		}
	}
	return compareValues(v, rhs, op)
}

// compareValues applies op across two values. Numbers compare numerically
// across int64/float64, strings lexicographically, timestamps
// chronologically, binary bytewise. Mismatched or unordered types satisfy
// only != .
func compareValues(a, b any, op Operator) bool {
	if na, aok := numeric(a); aok {
		if nb, bok := numeric(b); bok {
			return compareOrdered(na, nb, op)
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return compareOrdered(av, bv, op)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch op {
			case OpEq:
				return av.Equal(bv)
			case OpNe:
				return !av.Equal(bv)
			case OpLt:
				return av.Before(bv)
			case OpLe:
				return av.Before(bv) || av.Equal(bv)
			case OpGt:
				return av.After(bv)
			case OpGe:
				return av.After(bv) || av.Equal(bv)
			}
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			c := bytes.Compare(av, bv)
			return compareOrdered(c, 0, op)
		}
	}

	switch op {
	case OpEq:
		return valueEqual(a, b)
	case OpNe:
		return !valueEqual(a, b)
	}
	return false
}

func compareOrdered[T int | float64 | string](a, b T, op Operator) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

// patternMatch walks every leaf value depth-first and reports whether any
// leaf's string form matches the pattern.
func patternMatch(doc *Document, re *regexp.Regexp) bool {
	found := false
	doc.walkLeaves(func(v any) bool {
		if re.MatchString(stringify(v)) {
			found = true
			return false
		}
		return true
	})
	return found
}

// stringify renders a leaf value as text for pattern matching.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(timeLayout)
	}
	return fmt.Sprintf("%v", v)
}

// wireQuery is the serialized form of a query for the remote relay.
type wireQuery struct {
	Kind    string          `json:"kind"`
	Doc     json.RawMessage `json:"doc,omitempty"`
	Field   string          `json:"field,omitempty"`
	Op      string          `json:"op,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	ValueT  any             `json:"value_type,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
}

// MarshalJSON encodes the query for transport. Predicate queries are
// functions and cannot be serialized.
func (q *Query) MarshalJSON() ([]byte, error) {
	w := wireQuery{}
	switch q.kind {
	case QueryAll:
		w.Kind = "all"
	case QueryStructural:
		w.Kind = "structural"
		enc, err := encodeDocument(q.doc)
		if err != nil {
			return nil, err
		}
		raw, err := enc.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Doc = raw
	case QueryComparative:
		w.Kind = "comparative"
		w.Field = q.field
		w.Op = string(q.op)
		ev, tag, err := encodeValue(q.operand)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		w.Value = raw
		w.ValueT = tag
	case QueryPattern:
		w.Kind = "pattern"
		w.Pattern = q.pattern
	case QueryPredicate:
		return nil, fmt.Errorf("%w: predicate queries cannot be serialized", ErrInvalidQuery)
	default:
		return nil, fmt.Errorf("%w: unrecognized query kind %d", ErrInvalidQuery, q.kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a query from its transport form.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "all", "":
		*q = Query{kind: QueryAll}
	case "structural":
		doc, err := ParseDocument(w.Doc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		dec, err := decodeDocument(doc)
		if err != nil {
			return err
		}
		*q = Query{kind: QueryStructural, doc: dec}
	case "comparative":
		if !operators[Operator(w.Op)] {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, w.Op)
		}
		var raw any
		if len(w.Value) > 0 {
			v, err := parseValueJSON(w.Value)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
			raw = v
		}
		operand := raw
		if w.ValueT != nil {
			v, err := decodeValue(raw, w.ValueT)
			if err != nil {
				return err
			}
			operand = v
		}
		*q = Query{kind: QueryComparative, field: w.Field, op: Operator(w.Op), operand: operand}
	case "pattern":
		*q = Query{kind: QueryPattern, pattern: w.Pattern}
	default:
		return fmt.Errorf("%w: unrecognized query kind %q", ErrInvalidQuery, w.Kind)
	}
	return nil
}

// parseValueJSON decodes one JSON value into the document value model.
func parseValueJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return parseValue(dec)
}
