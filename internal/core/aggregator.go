package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/model"
)

// NoConfirmedCondition is the primary diagnosis when no model fires.
const NoConfirmedCondition = "No confirmed condition"

type Diagnosis struct {
	Primary       string                       `json:"diagnosis"`
	Confidence    float64                      `json:"confidence"`
	Probabilities map[string]model.Probability `json:"probabilities"`
	Details       []model.Outcome              `json:"detailed_results"`
	// Recommendations belongs to the primary condition, empty for the sentinel.
	Recommendations string `json:"recommendations,omitempty"`
}

// Aggregator scores a complete vector against every condition model and
// ranks the results.
type Aggregator struct {
	bank *model.Bank
	log  *slog.Logger
}

func NewAggregator(bank *model.Bank) *Aggregator {
	return &Aggregator{bank: bank, log: logging.New("aggregator")}
}

type scored struct {
	neg, pos  float64
	threshold float64
	err       error
}

// Diagnose runs every condition model on vec. A failing model is skipped; if
// all fail the result is ErrModelUnavailable.
func (a *Aggregator) Diagnose(ctx context.Context, vec []float64) (*Diagnosis, error) {
	conditions := a.bank.Conditions()
	results := make([]scored, len(conditions))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conditions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			neg, pos, err := c.Model.Predict(vec)
			th, ok := c.Model.Threshold()
			if !ok {
				th = model.DefaultThreshold
			}
			results[i] = scored{neg: neg, pos: pos, threshold: th, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Diagnosis{
		Primary:       NoConfirmedCondition,
		Probabilities: make(map[string]model.Probability, len(conditions)),
	}
	best := -1
	for i, c := range conditions {
		r := results[i]
		if r.err != nil {
			a.log.Warn("Skipping condition", "condition", c.ID, "error", r.err)
			continue
		}
		positive := r.pos >= r.threshold
		d.Probabilities[c.Name] = model.Probability{Positive: r.pos, Negative: r.neg}
		d.Details = append(d.Details, model.Outcome{
			Condition:  c.Name,
			Positive:   positive,
			Confidence: r.pos,
			Threshold:  r.threshold,
		})
		if positive && (best < 0 || r.pos > results[best].pos) {
			best = i
		}
	}
	if len(d.Details) == 0 {
		return nil, fmt.Errorf("%d conditions failed: %w", len(conditions), ErrModelUnavailable)
	}

	if best >= 0 {
		d.Primary = conditions[best].Name
		d.Confidence = results[best].pos
		d.Recommendations = conditions[best].Recommendations
	}
	a.log.Info("Diagnosis", "primary", d.Primary, "confidence", d.Confidence)
	return d, nil
}

// Summary renders the diagnosis for the user: the primary condition, the
// confidence, the reported symptoms and the recommendations.
func Summary(d *Diagnosis, cat *catalog.Catalog, a catalog.Answers) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Likely diagnosis: %s\n", d.Primary)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", d.Confidence*100)

	var symptoms []string
	for i, f := range cat.Features() {
		if f.IsDerived() || !a[i].Set || a[i].Num == 0 {
			continue
		}
		symptoms = append(symptoms, fmt.Sprintf("- %s: %s", f.Name, describe(&f, a[i].Num)))
	}
	if len(symptoms) > 0 {
		b.WriteString("Reported:\n")
		b.WriteString(strings.Join(symptoms, "\n"))
		b.WriteByte('\n')
	}

	rec := d.Recommendations
	if rec == "" {
		rec = "See a doctor for an accurate diagnosis."
	}
	fmt.Fprintf(&b, "\nRecommendations: %s", rec)
	return b.String()
}

func describe(f *catalog.Feature, v float64) string {
	if f.Kind != catalog.KindNumeric {
		for _, opt := range f.Options {
			if opt.Value == v {
				return opt.Label
			}
		}
	}
	return formatNumber(v)
}

// IsModelUnavailable reports whether err came from the model bank.
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, model.ErrUnavailable)
}
