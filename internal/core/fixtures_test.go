package core

import (
	"testing"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/model"
)

// Feature ordinals of testCatalog.
const (
	ordSmoker = iota
	ordSex
	ordSleep
	ordAge
	ordHeight
	ordWeight
	ordBMI
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Feature{
		{Name: "Smoker", Kind: catalog.KindBinary, Question: "Do you smoke?", Positive: 1},
		{Name: "Sex", Kind: catalog.KindGender},
		{Name: "SleepHours", Kind: catalog.KindNumeric, Question: "How many hours do you sleep?", Bounded: true, Min: 0, Max: 24, Default: 7},
		{Name: "AgeCategory", Kind: catalog.KindCategory, Bounded: true, Min: 18, Max: 82, Default: 27, Options: []catalog.Option{
			{Label: "18-24", Value: 20},
			{Label: "25-29", Value: 27},
			{Label: "40-44", Value: 42},
			{Label: "45-49", Value: 47},
			{Label: "80 or older", Value: 82},
		}},
		{Name: "HeightInMeters", Kind: catalog.KindNumeric, Bounded: true, Min: 0.5, Max: 2.5, Default: 1.7},
		{Name: "WeightInKilograms", Kind: catalog.KindNumeric, Bounded: true, Min: 20, Max: 200, Default: 70},
		{Name: "BMI", Kind: catalog.KindNumeric, Bounded: true, Min: 10, Max: 50, Default: 22,
			Derived: &catalog.Derivation{Formula: "bmi", Inputs: []string{"WeightInKilograms", "HeightInMeters"}}},
	}, []catalog.Phrase{
		{Text: "I smoke", Feature: "Smoker"},
		{Text: "مدخن", Feature: "Smoker"},
	}, []catalog.Pattern{
		{Feature: "AgeCategory", Regex: `(\d+)\s*years? old`},
		{Feature: "SleepHours", Regex: `(\d+(?:\.\d+)?)\s*hours? of sleep`},
		{Feature: "WeightInKilograms", Regex: `(\d+(?:\.\d+)?)\s*kg`},
		{Feature: "HeightInMeters", Regex: `(\d+(?:\.\d+)?)\s*m\b`},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

// fixedPredictor returns the same probability for every vector.
type fixedPredictor struct {
	pos       float64
	threshold float64
	hasTh     bool
	err       error
}

func (p fixedPredictor) Predict([]float64) (float64, float64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	return 1 - p.pos, p.pos, nil
}

func (p fixedPredictor) Threshold() (float64, bool) { return p.threshold, p.hasTh }

func calibrated(pos, th float64) fixedPredictor {
	return fixedPredictor{pos: pos, threshold: th, hasTh: true}
}

func testBank(t *testing.T, conditions ...model.Condition) *model.Bank {
	t.Helper()
	if len(conditions) == 0 {
		conditions = []model.Condition{
			{ID: "HadAsthma", Name: "Asthma", Recommendations: "Use your inhaler.", Model: calibrated(0.7, 0.45)},
			{ID: "HadStroke", Name: "Stroke", Model: calibrated(0.2, 0.38)},
			{ID: "CovidPos", Name: "COVID-19", Model: fixedPredictor{pos: 0.3}},
		}
	}
	bank, err := model.NewBank(conditions)
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	return bank
}
