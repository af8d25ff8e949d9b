package model

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sehha.app/diagnosis-assistant/internal/catalog"
)

//go:embed bundle.yaml
var defaultBundle []byte

// Bundle is what the serving engine needs from a trained model package.
type Bundle struct {
	Name    string
	Catalog *catalog.Catalog
	Bank    *Bank
}

type bundleFile struct {
	Name       string          `yaml:"name"`
	Features   []featureSpec   `yaml:"features"`
	Phrases    []phraseSpec    `yaml:"phrases"`
	Patterns   []patternSpec   `yaml:"patterns"`
	Conditions []conditionSpec `yaml:"conditions"`
}

type featureSpec struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Question string       `yaml:"question"`
	Options  []optionSpec `yaml:"options"`
	Min      *float64     `yaml:"min"`
	Max      *float64     `yaml:"max"`
	Default  float64      `yaml:"default"`
	Positive *float64     `yaml:"positive"`
	Derived  *derivedSpec `yaml:"derived"`
}

type optionSpec struct {
	Label    string   `yaml:"label"`
	Value    float64  `yaml:"value"`
	Synonyms []string `yaml:"synonyms"`
}

type derivedSpec struct {
	Formula string   `yaml:"formula"`
	Inputs  []string `yaml:"inputs"`
}

type phraseSpec struct {
	Phrase  string `yaml:"phrase"`
	Feature string `yaml:"feature"`
}

type patternSpec struct {
	Feature string `yaml:"feature"`
	Regex   string `yaml:"regex"`
}

type conditionSpec struct {
	ID              string     `yaml:"id"`
	Name            string     `yaml:"name"`
	Aliases         []string   `yaml:"aliases"`
	Threshold       *float64   `yaml:"threshold"`
	Recommendations string     `yaml:"recommendations"`
	Model           *modelSpec `yaml:"model"`
}

type modelSpec struct {
	Type      string             `yaml:"type"`
	Intercept float64            `yaml:"intercept"`
	Weights   map[string]float64 `yaml:"weights"`
}

// LoadBundle reads a bundle from path. An empty path selects the embedded
// default bundle.
func LoadBundle(path string) (*Bundle, error) {
	if path == "" {
		return DefaultBundle()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	return ParseBundle(data)
}

// DefaultBundle parses the embedded bundle.
func DefaultBundle() (*Bundle, error) {
	return ParseBundle(defaultBundle)
}

// ParseBundle decodes and validates a YAML bundle.
func ParseBundle(data []byte) (*Bundle, error) {
	var f bundleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}

	features := make([]catalog.Feature, 0, len(f.Features))
	for _, fs := range f.Features {
		feat, err := fs.toFeature()
		if err != nil {
			return nil, err
		}
		features = append(features, feat)
	}
	phrases := make([]catalog.Phrase, 0, len(f.Phrases))
	for _, p := range f.Phrases {
		phrases = append(phrases, catalog.Phrase{Text: p.Phrase, Feature: p.Feature})
	}
	patterns := make([]catalog.Pattern, 0, len(f.Patterns))
	for _, p := range f.Patterns {
		patterns = append(patterns, catalog.Pattern{Feature: p.Feature, Regex: p.Regex})
	}

	cat, err := catalog.New(features, phrases, patterns)
	if err != nil {
		return nil, fmt.Errorf("bundle catalog: %w", err)
	}

	conditions := make([]Condition, 0, len(f.Conditions))
	for _, cs := range f.Conditions {
		pred, err := cs.predictor(cat)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", cs.ID, err)
		}
		conditions = append(conditions, Condition{
			ID:              cs.ID,
			Name:            cs.Name,
			Aliases:         cs.Aliases,
			Recommendations: cs.Recommendations,
			Model:           pred,
		})
	}
	bank, err := NewBank(conditions)
	if err != nil {
		return nil, fmt.Errorf("bundle models: %w", err)
	}

	return &Bundle{Name: f.Name, Catalog: cat, Bank: bank}, nil
}

func (fs featureSpec) toFeature() (catalog.Feature, error) {
	kind, err := catalog.ParseKind(fs.Kind)
	if err != nil {
		return catalog.Feature{}, fmt.Errorf("feature %q: %w", fs.Name, err)
	}
	feat := catalog.Feature{
		Name:     fs.Name,
		Kind:     kind,
		Question: fs.Question,
		Default:  fs.Default,
		Positive: 1,
	}
	if fs.Positive != nil {
		feat.Positive = *fs.Positive
	}
	if (fs.Min == nil) != (fs.Max == nil) {
		return catalog.Feature{}, fmt.Errorf("feature %q: min and max must be given together", fs.Name)
	}
	if fs.Min != nil {
		feat.Bounded = true
		feat.Min, feat.Max = *fs.Min, *fs.Max
	}
	for _, o := range fs.Options {
		feat.Options = append(feat.Options, catalog.Option{Label: o.Label, Value: o.Value, Synonyms: o.Synonyms})
	}
	if fs.Derived != nil {
		feat.Derived = &catalog.Derivation{Formula: fs.Derived.Formula, Inputs: fs.Derived.Inputs}
	}
	return feat, nil
}

func (cs conditionSpec) predictor(cat *catalog.Catalog) (Predictor, error) {
	if cs.Model == nil {
		return nil, ErrUnavailable
	}
	switch cs.Model.Type {
	case "logistic", "":
	default:
		return nil, fmt.Errorf("unsupported model type %q: %w", cs.Model.Type, ErrUnavailable)
	}
	weights := make([]float64, cat.Len())
	for name, w := range cs.Model.Weights {
		ord, ok := cat.Ordinal(name)
		if !ok {
			return nil, fmt.Errorf("weight for unknown feature %q: %w", name, ErrUnavailable)
		}
		weights[ord] = w
	}
	if cs.Threshold != nil && (*cs.Threshold < 0 || *cs.Threshold > 1) {
		return nil, fmt.Errorf("threshold %v outside [0,1]", *cs.Threshold)
	}
	return NewLogistic(cs.Model.Intercept, weights, cs.Threshold), nil
}
