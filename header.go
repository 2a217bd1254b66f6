package warc

import (
	"iter"
	"strings"
)

// Header holds the named fields of a record. Field names are case-insensitive:
// they are stored folded to lower case, and setting a name that differs only
// in case from an existing one overwrites that field in place. Fields iterate
// in insertion order.
type Header struct {
	names  []string // folded names, in insertion order
	values map[string]string
}

// NewHeader creates an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

func fold(name string) string {
	return strings.ToLower(name)
}

// Set sets the field name to value. An existing field keeps its position.
func (h *Header) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	key := fold(name)
	if _, ok := h.values[key]; !ok {
		h.names = append(h.names, key)
	}
	h.values[key] = value
}

// Get returns the value of the field name, or "" if it is absent.
func (h *Header) Get(name string) string {
	if h == nil {
		return ""
	}
	return h.values[fold(name)]
}

// Lookup is like Get but also reports whether the field is present.
func (h *Header) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.values[fold(name)]
	return v, ok
}

// Has reports whether the field name is present.
func (h *Header) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Del removes the field name.
func (h *Header) Del(name string) {
	if h == nil {
		return
	}
	key := fold(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, n := range h.names {
		if n == key {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Len returns the number of fields.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.names)
}

// Names returns the folded field names in insertion order.
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Range calls fn for every field in insertion order until fn returns false.
// Names are passed in their folded (lower case) form.
func (h *Header) Range(fn func(name, value string) bool) {
	if h == nil {
		return
	}
	for _, n := range h.names {
		if !fn(n, h.values[n]) {
			return
		}
	}
}

// All returns an iterator over the fields in insertion order.
func (h *Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		h.Range(yield)
	}
}

// Equal reports whether h and o hold the same case-folded fields with the
// same values. Field order is not significant.
func (h *Header) Equal(o *Header) bool {
	if h.Len() != o.Len() {
		return false
	}
	equal := true
	h.Range(func(name, value string) bool {
		v, ok := o.Lookup(name)
		if !ok || v != value {
			equal = false
		}
		return equal
	})
	return equal
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	c := NewHeader()
	h.Range(func(name, value string) bool {
		c.Set(name, value)
		return true
	})
	return c
}

var canonicalFixups = []struct{ from, to string }{
	{"Warc-", "WARC-"},
	{"-Ip-", "-IP-"},
	{"-Id", "-ID"},
	{"-Uri", "-URI"},
}

// CanonicalName returns the conventional spelling of a WARC field name:
// every hyphen-separated segment is title-cased, then the well-known
// acronyms are restored (WARC-Record-ID, WARC-Target-URI, WARC-IP-Address).
func CanonicalName(name string) string {
	segments := strings.Split(strings.ToLower(name), "-")
	for i, s := range segments {
		if s == "" {
			continue
		}
		segments[i] = strings.ToUpper(s[:1]) + s[1:]
	}
	out := strings.Join(segments, "-")
	for _, f := range canonicalFixups {
		out = strings.ReplaceAll(out, f.from, f.to)
	}
	return out
}
