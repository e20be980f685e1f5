package records

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Collection is the ordered sequence of records. Order is significant: records
// are addressed by index.
type Collection []*Record

// Clone returns a deep copy of the collection. The result is never nil.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for i, r := range c {
		if r == nil {
			out[i] = &Record{}
			continue
		}
		out[i] = r.Clone()
	}
	return out
}

// ErrUnencodable is returned for values that have no JSON representation.
var ErrUnencodable = errors.New("value cannot be encoded as JSON")

// Validate reports the first record holding a value that cannot be encoded.
func (c Collection) Validate() error {
	for i, r := range c {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Fingerprint returns the hex SHA-256 digest of the canonical serialization of
// c: a JSON array of objects with lexicographically sorted keys.
//
// c must pass Validate; Fingerprint panics otherwise.
func Fingerprint(c Collection) string {
	canon := make([]map[string]any, len(c))
	for i, r := range c {
		if r == nil {
			canon[i] = map[string]any{}
			continue
		}
		canon[i] = r.canonical()
	}
	h := sha256.New()
	enc := json.NewEncoder(h)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canon); err != nil {
		panic(fmt.Sprintf("records: fingerprint of an invalid collection: %v", err))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Decode reads a JSON array of objects.
func Decode(r io.Reader) (Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a JSON array of objects. An empty document is an empty
// collection.
func Parse(data []byte) (Collection, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Collection{}, nil
	}
	if data[0] != '[' {
		return nil, errors.New("records: document must be a JSON array")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("records: invalid JSON array: %w", err)
	}
	c := make(Collection, len(raw))
	for i, item := range raw {
		r := &Record{}
		if err := r.UnmarshalJSON(item); err != nil {
			return nil, fmt.Errorf("records: item %d: %w", i, err)
		}
		c[i] = r
	}
	return c, nil
}

// UnmarshalJSON decodes a JSON array of objects.
func (c *Collection) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*c = nil
		return nil
	}
	v, err := Parse(b)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Encode writes c as an indented JSON array, in collection order.
func Encode(w io.Writer, c Collection) error {
	if c == nil {
		c = Collection{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
