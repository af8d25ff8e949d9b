// Package catalog describes the ordered, typed set of features the condition
// models consume. A Catalog is built once from the model bundle and never
// mutated afterwards; everything else addresses features by ordinal.
package catalog

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

type Kind int

const (
	KindBinary Kind = iota
	KindGender
	KindCategory
	KindNumeric
)

// String returns the question type reported to clients.
func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindGender:
		return "gender"
	case KindCategory:
		return "category"
	case KindNumeric:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the bundle spelling of a kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "bool", "boolean":
		return KindBinary, nil
	case "gender", "sex":
		return KindGender, nil
	case "category", "categorical":
		return KindCategory, nil
	case "numeric", "number":
		return KindNumeric, nil
	default:
		return 0, fmt.Errorf("unknown feature kind %q", s)
	}
}

// Option is one encoded answer of a categorical feature. Label is shown to the
// user; Synonyms are additional literal spellings accepted for it.
type Option struct {
	Label    string
	Value    float64
	Synonyms []string
}

// Derivation computes a feature from other features instead of asking for it.
type Derivation struct {
	Formula string
	Inputs  []string

	inputs []int
}

type Feature struct {
	Ordinal  int
	Name     string
	Kind     Kind
	Question string
	Options  []Option

	Bounded  bool
	Min, Max float64

	Default float64
	// Positive is the value written when a keyword hint for this feature is found.
	Positive float64
	Derived  *Derivation
}

// IsDerived reports whether the feature is computed rather than asked.
func (f *Feature) IsDerived() bool { return f.Derived != nil }

// DerivedFrom returns the input ordinals of a derived feature.
func (f *Feature) DerivedFrom() []int {
	if f.Derived == nil {
		return nil
	}
	return f.Derived.inputs
}

// InBounds reports whether v lies within the feature's declared range.
// Unbounded features accept every finite value.
func (f *Feature) InBounds(v float64) bool {
	if !f.Bounded {
		return true
	}
	return v >= f.Min && v <= f.Max
}

// Clamp forces v into the declared range.
func (f *Feature) Clamp(v float64) float64 {
	if !f.Bounded {
		return v
	}
	return math.Min(f.Max, math.Max(f.Min, v))
}

// Lookup resolves a raw answer against the synonym table.
func (f *Feature) Lookup(raw string) (float64, bool) {
	key := normalizeAnswer(raw)
	if key == "" {
		return 0, false
	}
	for _, opt := range f.Options {
		if normalizeAnswer(opt.Label) == key {
			return opt.Value, true
		}
		for _, syn := range opt.Synonyms {
			if normalizeAnswer(syn) == key {
				return opt.Value, true
			}
		}
	}
	return 0, false
}

// OptionLabels lists the labels offered to the user, in bundle order.
func (f *Feature) OptionLabels() []string {
	labels := make([]string, 0, len(f.Options))
	for _, opt := range f.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// NearestOption returns the option value closest to x. Ties go to the option
// listed first.
func (f *Feature) NearestOption(x float64) (float64, bool) {
	if len(f.Options) == 0 {
		return 0, false
	}
	best := f.Options[0].Value
	bestDiff := math.Abs(x - best)
	for _, opt := range f.Options[1:] {
		if d := math.Abs(x - opt.Value); d < bestDiff {
			best, bestDiff = opt.Value, d
		}
	}
	return best, true
}

func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Phrase maps a literal text fragment to a feature's positive value.
type Phrase struct {
	Text    string
	Feature string
}

// Pattern extracts a number for a feature. The first capture group of Regex
// must hold the number.
type Pattern struct {
	Feature string
	Regex   string
}

type phraseRule struct {
	text    string
	feature int
}

type patternRule struct {
	feature int
	re      *regexp.Regexp
}

type Catalog struct {
	features []Feature
	index    map[string]int
	phrases  []phraseRule
	patterns []patternRule
}

// New validates the definitions and resolves every name to an ordinal.
func New(features []Feature, phrases []Phrase, patterns []Pattern) (*Catalog, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("catalog has no features")
	}

	c := &Catalog{
		features: make([]Feature, len(features)),
		index:    make(map[string]int, len(features)),
	}
	for i, f := range features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if _, dup := c.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		f.Ordinal = i
		if len(f.Options) == 0 {
			f.Options = defaultOptions(f.Kind)
		}
		if f.Kind != KindNumeric && len(f.Options) == 0 {
			return nil, fmt.Errorf("feature %q of kind %s needs options", f.Name, f.Kind)
		}
		if f.Bounded && f.Min > f.Max {
			return nil, fmt.Errorf("feature %q has min %v above max %v", f.Name, f.Min, f.Max)
		}
		if f.Question == "" {
			f.Question = defaultQuestion(f)
		}
		c.features[i] = f
		c.index[f.Name] = i
	}

	for i := range c.features {
		d := c.features[i].Derived
		if d == nil {
			continue
		}
		resolved := &Derivation{Formula: d.Formula, Inputs: d.Inputs}
		if err := resolved.resolve(c); err != nil {
			return nil, fmt.Errorf("feature %q: %w", c.features[i].Name, err)
		}
		c.features[i].Derived = resolved
	}

	for _, p := range phrases {
		ord, ok := c.index[p.Feature]
		if !ok {
			// Bundles share phrase lists across feature sets; skip what this one lacks.
			continue
		}
		text := normalizeAnswer(p.Text)
		if text == "" {
			continue
		}
		c.phrases = append(c.phrases, phraseRule{text: text, feature: ord})
	}

	for _, p := range patterns {
		ord, ok := c.index[p.Feature]
		if !ok {
			continue
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern for %q: %w", p.Feature, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("pattern for %q has no capture group", p.Feature)
		}
		c.patterns = append(c.patterns, patternRule{feature: ord, re: re})
	}

	return c, nil
}

// Len is the number of features.
func (c *Catalog) Len() int { return len(c.features) }

// Feature returns the feature at ordinal i.
func (c *Catalog) Feature(i int) *Feature { return &c.features[i] }

// Features returns the features in catalog order. Callers must not modify them.
func (c *Catalog) Features() []Feature { return c.features }

// Ordinal resolves a feature name.
func (c *Catalog) Ordinal(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Names returns the feature names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.features))
	for i, f := range c.features {
		names[i] = f.Name
	}
	return names
}

// MatchPhrases returns the ordinals whose phrases occur in text, in rule order.
func (c *Catalog) MatchPhrases(text string) []int {
	norm := normalizeAnswer(text)
	var hits []int
	for _, p := range c.phrases {
		if strings.Contains(norm, p.text) {
			hits = append(hits, p.feature)
		}
	}
	return hits
}

// NumericMatch is a number captured for a feature by a pattern.
type NumericMatch struct {
	Feature int
	Raw     string
}

// MatchPatterns runs every numeric pattern over text.
func (c *Catalog) MatchPatterns(text string) []NumericMatch {
	lower := strings.ToLower(text)
	var out []NumericMatch
	for _, p := range c.patterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil || m[1] == "" {
			continue
		}
		out = append(out, NumericMatch{Feature: p.feature, Raw: m[1]})
	}
	return out
}

func defaultOptions(k Kind) []Option {
	switch k {
	case KindBinary:
		return []Option{
			{Label: "yes", Value: 1, Synonyms: []string{"y", "true", "نعم", "يعاني", "يوجد", "أجل"}},
			{Label: "no", Value: 0, Synonyms: []string{"n", "false", "لا", "لا يعاني", "لا يوجد"}},
		}
	case KindGender:
		return []Option{
			{Label: "male", Value: 1, Synonyms: []string{"m", "man", "ذكر", "رجل"}},
			{Label: "female", Value: 0, Synonyms: []string{"f", "woman", "أنثى", "امرأة", "بنت"}},
		}
	default:
		return nil
	}
}

func defaultQuestion(f Feature) string {
	switch f.Kind {
	case KindBinary:
		return fmt.Sprintf("Do you have %s?", f.Name)
	default:
		return fmt.Sprintf("What is your %s?", f.Name)
	}
}
