package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"math/big"
	"reflect"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Fields the store manipulates itself.
const (
	FieldStatus  = "Status"
	FieldFixedBy = "fixed_by"
	FieldFixedAt = "fixed_at"
)

// Record is a single entry of the collection.
//
// The zero value is an empty record ready to use.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewRecord returns a record holding the key/value pairs in order. kv must have
// an even length with string keys.
func NewRecord(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("records: NewRecord requires key/value pairs")
	}
	r := &Record{}
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// FromMap returns a record with the fields of m in sorted key order.
func FromMap(m map[string]any) *Record {
	r := &Record{}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		r.Set(k, m[k])
	}
	return r
}

func (r *Record) lazyInit() {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
}

// Get returns the value of a field.
func (r *Record) Get(key string) (any, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(key)
}

// Set assigns a field. New fields are appended after the existing ones.
func (r *Record) Set(key string, value any) {
	r.lazyInit()
	r.fields.Set(key, value)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns the field names in order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, r.Len())
	if r.fields == nil {
		return keys
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Status returns the Status field. A missing field reads as nil.
func (r *Record) Status() any {
	v, _ := r.Get(FieldStatus)
	return v
}

// StatusString returns the Status field formatted for grouping and filtering.
// Missing and null values are reported as "".
func (r *Record) StatusString() string {
	return valueString(r.Status())
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := &Record{}
	if r.fields == nil {
		return c
	}
	c.fields = orderedmap.New[string, any]()
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		c.fields.Set(p.Key, cloneValue(p.Value))
	}
	return c
}

// MarshalJSON encodes the record as a JSON object with fields in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return r.fields.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the field order of the input.
// Numbers are kept as json.Number so integers survive a round trip exactly.
func (r *Record) UnmarshalJSON(b []byte) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if tok, err := d.Token(); err != nil || tok != json.Delim('{') {
		return errors.New("record must be a JSON object")
	}
	fields := orderedmap.New[string, any]()
	for d.More() {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("record must be a JSON object: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record must be a JSON object: unexpected %v", tok)
		}
		var v any
		if err := d.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		fields.Set(key, v)
	}
	if _, err := d.Token(); err != nil {
		return fmt.Errorf("record must be a JSON object: %w", err)
	}
	if _, err := d.Token(); err != io.EOF {
		return errors.New("record must be a single JSON object")
	}
	r.fields = fields
	return nil
}

// Validate reports whether every field value can be encoded as JSON.
func (r *Record) Validate() error {
	if r == nil || r.fields == nil {
		return nil
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		if err := ValidateValue(p.Value); err != nil {
			return fmt.Errorf("field %q: %w", p.Key, err)
		}
	}
	return nil
}

// ValidateValue reports whether v can be encoded as JSON.
func ValidateValue(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnencodable, err)
	}
	return nil
}

// canonical returns the record as a plain map; encoding/json sorts its keys.
func (r *Record) canonical() map[string]any {
	m := make(map[string]any, r.Len())
	if r.fields == nil {
		return m
	}
	for p := r.fields.Oldest(); p != nil; p = p.Next() {
		m[p.Key] = p.Value
	}
	return m
}

// ValuesEqual reports whether two field values are the same JSON value.
// Numbers compare exactly by value regardless of their Go type.
func ValuesEqual(a, b any) bool {
	if x, ok := toRat(a); ok {
		if y, ok := toRat(b); ok {
			return x.Cmp(y) == 0
		}
	}
	return reflect.DeepEqual(a, b)
}

func toRat(v any) (*big.Rat, bool) {
	switch x := v.(type) {
	case json.Number:
		return new(big.Rat).SetString(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return new(big.Rat).SetFloat64(x), true
	case int:
		return new(big.Rat).SetInt64(int64(x)), true
	case int64:
		return new(big.Rat).SetInt64(x), true
	default:
		return nil, false
	}
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(x))
		for k, e := range x {
			c[k] = cloneValue(e)
		}
		return c
	case []any:
		c := make([]any, len(x))
		for i, e := range x {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
