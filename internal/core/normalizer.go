package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"sehha.app/diagnosis-assistant/internal/catalog"
)

// Normalizer turns raw answers into encoded feature values. Normalize is the
// strict path for interactive answers; Prepare is the lenient path used to
// build the final model vector, where nobody is left to re-prompt.
type Normalizer struct {
	cat *catalog.Catalog
}

func NewNormalizer(cat *catalog.Catalog) *Normalizer {
	return &Normalizer{cat: cat}
}

// Normalize validates an answer to the question for feature ord.
func (n *Normalizer) Normalize(ord int, raw string) (float64, error) {
	f := n.cat.Feature(ord)
	if f.Kind == catalog.KindNumeric {
		v, ok := parseNumber(raw)
		if !ok {
			return 0, &InvalidInputError{Feature: f.Name, Message: "enter a number"}
		}
		if !f.InBounds(v) {
			return 0, &InvalidInputError{
				Feature: f.Name,
				Message: fmt.Sprintf("enter a value between %s and %s", formatNumber(f.Min), formatNumber(f.Max)),
			}
		}
		return v, nil
	}

	if v, ok := f.Lookup(raw); ok {
		return v, nil
	}
	labels := f.OptionLabels()
	return 0, &InvalidInputError{
		Feature: f.Name,
		Message: "choose one of: " + strings.Join(labels, ", "),
		Options: labels,
	}
}

// Encode converts a raw value without enforcing bounds. Categorical features
// accept a synonym or a number snapped to the nearest option.
func (n *Normalizer) Encode(ord int, raw string) (float64, bool) {
	f := n.cat.Feature(ord)
	if f.Kind != catalog.KindNumeric {
		if v, ok := f.Lookup(raw); ok {
			return v, true
		}
		x, ok := parseNumber(raw)
		if !ok {
			return 0, false
		}
		return f.NearestOption(x)
	}
	return parseNumber(raw)
}

// Prepare assembles the model vector: unknown features take their default
// and out-of-range values are clamped.
func (n *Normalizer) Prepare(a catalog.Answers) []float64 {
	vec := make([]float64, n.cat.Len())
	for i := range vec {
		f := n.cat.Feature(i)
		v := f.Default
		if a[i].Set {
			v = a[i].Num
		}
		vec[i] = f.Clamp(v)
	}
	return vec
}

var easternDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"٫", ".", ",", ".",
)

func parseNumber(raw string) (float64, bool) {
	s := easternDigits.Replace(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
