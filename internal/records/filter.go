package records

import "slices"

// Filter selects records by field value. For every field with a non-empty list
// of accepted values, the record's value formatted as a string must be one of
// them. An empty Filter matches every record.
type Filter map[string][]string

// Match reports whether r passes the filter.
func (f Filter) Match(r *Record) bool {
	for field, accepted := range f {
		if len(accepted) == 0 {
			continue
		}
		v, _ := r.Get(field)
		if !slices.Contains(accepted, valueString(v)) {
			return false
		}
	}
	return true
}
