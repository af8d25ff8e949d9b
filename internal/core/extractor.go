package core

import (
	"log/slog"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/logging"
)

// Extractor fills features from free text using the catalog's keyword
// phrases and numeric patterns. It only ever fills unknown features.
type Extractor struct {
	cat  *catalog.Catalog
	norm *Normalizer
	log  *slog.Logger
}

func NewExtractor(cat *catalog.Catalog, norm *Normalizer) *Extractor {
	return &Extractor{cat: cat, norm: norm, log: logging.New("extractor")}
}

// Extract writes what it recognises in text into a and returns the ordinals
// it filled, derived features included.
func (e *Extractor) Extract(text string, a catalog.Answers) []int {
	var filled []int
	for _, ord := range e.cat.MatchPhrases(text) {
		if a[ord].Set {
			continue
		}
		a[ord] = catalog.Known(e.cat.Feature(ord).Positive)
		filled = append(filled, ord)
	}

	for _, m := range e.cat.MatchPatterns(text) {
		if a[m.Feature].Set {
			continue
		}
		v, ok := e.norm.Encode(m.Feature, m.Raw)
		if !ok {
			continue
		}
		a[m.Feature] = catalog.Known(v)
		filled = append(filled, m.Feature)
	}

	filled = append(filled, e.cat.ApplyDerivations(a)...)
	if len(filled) > 0 {
		e.log.Debug("Extracted features from text", "features", e.names(filled))
	}
	return filled
}

func (e *Extractor) names(ords []int) []string {
	out := make([]string, len(ords))
	for i, ord := range ords {
		out[i] = e.cat.Feature(ord).Name
	}
	return out
}
