// Package model holds the per-condition probability models and the bundle
// that ships them together with the feature catalog.
package model

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is used when a model carries no calibrated threshold.
const DefaultThreshold = 0.5

// ErrUnavailable is returned by a Predictor that cannot score a vector.
var ErrUnavailable = errors.New("model unavailable")

// Predictor is a binary probability estimator for one condition.
type Predictor interface {
	// Predict returns the negative and positive class probabilities for a
	// complete feature vector in catalog order.
	Predict(vec []float64) (neg, pos float64, err error)
	// Threshold returns the calibrated decision threshold, if any.
	Threshold() (float64, bool)
}

// Condition pairs a condition identifier with its model.
type Condition struct {
	ID              string
	Name            string
	Aliases         []string
	Recommendations string
	Model           Predictor
}

// Probability holds one condition's class probabilities.
type Probability struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
}

// Outcome is one condition's thresholded decision.
type Outcome struct {
	Condition  string  `json:"condition"`
	Positive   bool    `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// Bank is the ordered set of condition models.
type Bank struct {
	conditions []Condition
}

// NewBank validates that every condition has a model and a distinct id and
// display name. Names default to the id.
func NewBank(conditions []Condition) (*Bank, error) {
	if len(conditions) == 0 {
		return nil, fmt.Errorf("model bank has no conditions")
	}
	ids := make(map[string]bool, len(conditions))
	names := make(map[string]string, len(conditions))
	out := make([]Condition, len(conditions))
	for i, c := range conditions {
		if c.ID == "" {
			return nil, fmt.Errorf("condition without id")
		}
		if ids[c.ID] {
			return nil, fmt.Errorf("duplicate condition %q", c.ID)
		}
		ids[c.ID] = true
		if c.Model == nil {
			return nil, fmt.Errorf("condition %q: %w", c.ID, ErrUnavailable)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		if other, ok := names[c.Name]; ok {
			return nil, fmt.Errorf("conditions %q and %q share the name %q", other, c.ID, c.Name)
		}
		names[c.Name] = c.ID
		out[i] = c
	}
	return &Bank{conditions: out}, nil
}

// Conditions returns the conditions in bundle order.
func (b *Bank) Conditions() []Condition { return b.conditions }

// Len is the number of conditions.
func (b *Bank) Len() int { return len(b.conditions) }

// ByName finds a condition by its display name or id.
func (b *Bank) ByName(name string) (Condition, bool) {
	for _, c := range b.conditions {
		if c.Name == name || c.ID == name {
			return c, true
		}
	}
	return Condition{}, false
}

// Logistic is a linear model squashed through the logistic function.
type Logistic struct {
	Intercept float64
	// Weights is indexed by feature ordinal.
	Weights   []float64
	threshold *float64
}

// NewLogistic builds a logistic model. A nil threshold means uncalibrated.
func NewLogistic(intercept float64, weights []float64, threshold *float64) *Logistic {
	return &Logistic{Intercept: intercept, Weights: weights, threshold: threshold}
}

func (m *Logistic) Predict(vec []float64) (float64, float64, error) {
	if len(vec) != len(m.Weights) {
		return 0, 0, fmt.Errorf("vector has %d features, model expects %d: %w", len(vec), len(m.Weights), ErrUnavailable)
	}
	z := m.Intercept
	for i, w := range m.Weights {
		z += w * vec[i]
	}
	pos := 1 / (1 + math.Exp(-z))
	if math.IsNaN(pos) {
		return 0, 0, fmt.Errorf("non-finite score: %w", ErrUnavailable)
	}
	return 1 - pos, pos, nil
}

func (m *Logistic) Threshold() (float64, bool) {
	if m.threshold == nil {
		return 0, false
	}
	return *m.threshold, true
}
