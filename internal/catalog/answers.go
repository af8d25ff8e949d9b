package catalog

import (
	"fmt"
	"strconv"
)

// Value is an optional feature value. The zero Value is unknown, which is
// distinct from a known zero.
type Value struct {
	Num float64
	Set bool
}

// Known wraps a present value.
func Known(v float64) Value { return Value{Num: v, Set: true} }

// String renders the value for state keys and logs: "?" when unknown.
func (v Value) String() string {
	if !v.Set {
		return "?"
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Answers holds one Value per catalog feature, indexed by ordinal.
type Answers []Value

// NewAnswers returns an all-unknown answer set sized for the catalog.
func (c *Catalog) NewAnswers() Answers {
	return make(Answers, len(c.features))
}

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	copy(out, a)
	return out
}

// Missing returns the ordinals without a value, in catalog order.
func (a Answers) Missing() []int {
	var out []int
	for i, v := range a {
		if !v.Set {
			out = append(out, i)
		}
	}
	return out
}

// Answered counts the ordinals with a value.
func (a Answers) Answered() int {
	n := 0
	for _, v := range a {
		if v.Set {
			n++
		}
	}
	return n
}

// ByName renders the set values keyed by feature name.
func (c *Catalog) ByName(a Answers) map[string]float64 {
	out := make(map[string]float64, len(a))
	for i, v := range a {
		if v.Set {
			out[c.features[i].Name] = v.Num
		}
	}
	return out
}

// ApplyDerivations fills every unknown derived feature whose inputs are all
// known. It returns the ordinals it filled.
func (c *Catalog) ApplyDerivations(a Answers) []int {
	var filled []int
	for i := range c.features {
		f := &c.features[i]
		if f.Derived == nil || a[i].Set {
			continue
		}
		if v, ok := f.Derived.compute(a); ok {
			a[i] = Known(v)
			filled = append(filled, i)
		}
	}
	return filled
}

func (d *Derivation) resolve(c *Catalog) error {
	want, ok := formulaArity[d.Formula]
	if !ok {
		return fmt.Errorf("unknown derivation formula %q", d.Formula)
	}
	if len(d.Inputs) != want {
		return fmt.Errorf("formula %q takes %d inputs, got %d", d.Formula, want, len(d.Inputs))
	}
	d.inputs = make([]int, len(d.Inputs))
	for i, name := range d.Inputs {
		ord, ok := c.index[name]
		if !ok {
			return fmt.Errorf("derivation input %q is not a catalog feature", name)
		}
		if c.features[ord].Derived != nil {
			return fmt.Errorf("derivation input %q is itself derived", name)
		}
		d.inputs[i] = ord
	}
	return nil
}

var formulaArity = map[string]int{
	"bmi": 2, // weight (kg), height (m)
}

func (d *Derivation) compute(a Answers) (float64, bool) {
	for _, ord := range d.inputs {
		if !a[ord].Set {
			return 0, false
		}
	}
	switch d.Formula {
	case "bmi":
		weight, height := a[d.inputs[0]].Num, a[d.inputs[1]].Num
		if height <= 0 {
			return 0, false
		}
		return weight / (height * height), true
	}
	return 0, false
}
