package runbook

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Inputs carries a construct's evaluated attribute values into a capability
// call. Values are cty-typed; accessors perform the usual conversions.
type Inputs struct {
	vals map[string]cty.Value
}

// NewInputs wraps a map of evaluated values. The map is not copied; the
// evaluator builds a fresh one per call.
func NewInputs(vals map[string]cty.Value) *Inputs {
	if vals == nil {
		vals = map[string]cty.Value{}
	}
	return &Inputs{vals: vals}
}

// Get returns the raw value for a name, if present and known.
func (in *Inputs) Get(name string) (cty.Value, bool) {
	v, ok := in.vals[name]
	if !ok || v.IsNull() || !v.IsKnown() {
		return cty.NilVal, false
	}
	return v, true
}

// Names returns the set of attribute names present.
func (in *Inputs) Names() []string {
	names := make([]string, 0, len(in.vals))
	for name := range in.vals {
		names = append(names, name)
	}
	return names
}

// String returns the named attribute converted to a string.
func (in *Inputs) String(name string) (string, error) {
	v, ok := in.Get(name)
	if !ok {
		return "", fmt.Errorf("missing required input %q", name)
	}
	conv, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("input %q: %w", name, err)
	}
	return conv.AsString(), nil
}

// StringOr returns the named attribute as a string, or a default when absent.
func (in *Inputs) StringOr(name, def string) string {
	s, err := in.String(name)
	if err != nil {
		return def
	}
	return s
}

// Int64 returns the named attribute converted to an integer.
func (in *Inputs) Int64(name string) (int64, error) {
	v, ok := in.Get(name)
	if !ok {
		return 0, fmt.Errorf("missing required input %q", name)
	}
	conv, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("input %q: %w", name, err)
	}
	var n int64
	if err := fromNumber(conv, &n); err != nil {
		return 0, fmt.Errorf("input %q: %w", name, err)
	}
	return n, nil
}

// Int64Or returns the named attribute as an integer, or a default when absent.
func (in *Inputs) Int64Or(name string, def int64) int64 {
	n, err := in.Int64(name)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the named attribute converted to a bool.
func (in *Inputs) Bool(name string) (bool, error) {
	v, ok := in.Get(name)
	if !ok {
		return false, fmt.Errorf("missing required input %q", name)
	}
	conv, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("input %q: %w", name, err)
	}
	return conv.True(), nil
}

// List returns the named attribute's elements. Tuples and lists both work.
func (in *Inputs) List(name string) ([]cty.Value, error) {
	v, ok := in.Get(name)
	if !ok {
		return nil, fmt.Errorf("missing required input %q", name)
	}
	if !v.CanIterateElements() {
		return nil, fmt.Errorf("input %q: not a collection", name)
	}
	var out []cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		out = append(out, ev)
	}
	return out, nil
}

func fromNumber(v cty.Value, out *int64) error {
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return fmt.Errorf("expected a whole number, got %s", bf.String())
	}
	n, _ := bf.Int64()
	*out = n
	return nil
}
