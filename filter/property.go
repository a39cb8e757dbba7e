package filter

import (
	"strconv"
	"strings"

	"github.com/evoliptic/ufo/ufoerr"
)

// PropertyBag holds a filter instance's construction-time configuration as
// raw strings (as parsed from a pipeline description) and coerces them to
// typed values on demand. A name that was set but is never read is ignored
// without any warning. Reading a name that was never set returns
// ufoerr.PropertyUnknown; the caller decides whether that is fatal.
type PropertyBag struct {
	values map[string]string
}

// NewPropertyBag wraps raw into a PropertyBag. A nil map is treated as
// empty.
func NewPropertyBag(raw map[string]string) PropertyBag {
	if raw == nil {
		raw = map[string]string{}
	}
	return PropertyBag{values: raw}
}

// Has reports whether name was set.
func (p PropertyBag) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Names returns every configured property name.
func (p PropertyBag) Names() []string {
	out := make([]string, 0, len(p.values))
	for k := range p.values {
		out = append(out, k)
	}
	return out
}

func (p PropertyBag) raw(name string) (string, error) {
	v, ok := p.values[name]
	if !ok {
		return "", ufoerr.New(ufoerr.PropertyUnknown, "property %q not set", name)
	}
	return v, nil
}

// String returns the raw string value of name.
func (p PropertyBag) String(name string) (string, error) {
	return p.raw(name)
}

// StringOr returns the raw string value of name, or def if unset.
func (p PropertyBag) StringOr(name, def string) string {
	if v, ok := p.values[name]; ok {
		return v
	}
	return def
}

// Bool lexically coerces name's value to a bool: "true", matched
// case-insensitively, is true, and every other value is false. There is
// no type-mismatch error for Bool, unlike the numeric coercions below —
// the pipeline description's lexical rules treat any non-"true" string
// as false rather than rejecting it.
func (p PropertyBag) Bool(name string) (bool, error) {
	v, err := p.raw(name)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(v, "true"), nil
}

// Int64 lexically coerces name's value to an int64.
func (p PropertyBag) Int64(name string) (int64, error) {
	v, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ufoerr.Wrap(ufoerr.PropertyTypeMismatch, err, "property "+name+" is not an int64")
	}
	return n, nil
}

// Uint64 lexically coerces name's value to a uint64.
func (p PropertyBag) Uint64(name string) (uint64, error) {
	v, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, ufoerr.Wrap(ufoerr.PropertyTypeMismatch, err, "property "+name+" is not a uint64")
	}
	return n, nil
}

// Float64 lexically coerces name's value to a float64.
func (p PropertyBag) Float64(name string) (float64, error) {
	v, err := p.raw(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, ufoerr.Wrap(ufoerr.PropertyTypeMismatch, err, "property "+name+" is not a float64")
	}
	return f, nil
}
