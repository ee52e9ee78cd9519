package names

// Enum maps the textual values oFono uses for enumerated properties onto
// small integers. Index 0 is the "unknown" value and has no name.
type Enum struct {
	values []string
}

// NewEnum creates a table whose entries map to 1, 2, 3... in order.
func NewEnum(values ...string) *Enum {
	return &Enum{values: append([]string{""}, values...)}
}

// Value returns the integer for name, or 0 and false if name is not in the
// table.
func (e *Enum) Value(name string) (int, bool) {
	for i := 1; i < len(e.values); i++ {
		if e.values[i] == name {
			return i, true
		}
	}
	return 0, false
}

// Name returns the textual value for v, or "" if v is out of range.
func (e *Enum) Name(v int) string {
	if v <= 0 || v >= len(e.values) {
		return ""
	}
	return e.values[v]
}

// Len returns the number of named values.
func (e *Enum) Len() int {
	return len(e.values) - 1
}
