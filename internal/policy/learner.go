// Package policy chooses the next interview question with a tabular
// epsilon-greedy Q-learner shared by every session.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/logging"
)

// Table maps a state key to per-feature scores. Actions are stored by feature
// name so a persisted table survives catalog reordering.
type Table map[string]map[string]float64

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for state, actions := range t {
		row := make(map[string]float64, len(actions))
		for a, q := range actions {
			row[a] = q
		}
		out[state] = row
	}
	return out
}

// Persister stores the table between process runs. LoadTable returns an empty
// table, not an error, when nothing was stored yet.
type Persister interface {
	LoadTable(ctx context.Context) (Table, error)
	SaveTable(ctx context.Context, t Table) error
}

type Options struct {
	Alpha   float64 // learning rate
	Gamma   float64 // discount
	Epsilon float64 // exploration probability
	Rand    *rand.Rand
}

func DefaultOptions() Options {
	return Options{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1}
}

// Learner owns the Q-table. One mutex serializes selection, training and
// persistence; none of them is on a hot path.
type Learner struct {
	mu        sync.Mutex
	cat       *catalog.Catalog
	table     Table
	opts      Options
	rng       *rand.Rand
	persister Persister
	log       *slog.Logger
}

// New creates a learner with an empty table. A nil persister keeps the table
// in memory only.
func New(cat *catalog.Catalog, persister Persister, opts Options) *Learner {
	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Learner{
		cat:       cat,
		table:     make(Table),
		opts:      opts,
		rng:       rng,
		persister: persister,
		log:       logging.New("policy"),
	}
}

// StateKey renders every catalog feature and its current value, in catalog
// order. Sessions with the same answers share a key.
func StateKey(cat *catalog.Catalog, a catalog.Answers) string {
	var b strings.Builder
	for i, f := range cat.Features() {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(a[i].String())
	}
	return b.String()
}

// Choose picks one of the available ordinals for the state. With probability
// epsilon it explores uniformly; otherwise it takes the highest score, ties
// going to the earliest ordinal in available. It reports false when nothing
// is available.
func (l *Learner) Choose(state string, available []int) (int, bool) {
	if len(available) == 0 {
		return -1, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.opts.Epsilon > 0 && l.rng.Float64() < l.opts.Epsilon {
		action := available[l.rng.IntN(len(available))]
		l.log.Debug("Exploring", "feature", l.cat.Feature(action).Name)
		return action, true
	}

	row := l.table[state]
	best, bestQ := available[0], math.Inf(-1)
	for _, ord := range available {
		if q := row[l.cat.Feature(ord).Name]; q > bestQ {
			best, bestQ = ord, q
		}
	}
	l.log.Debug("Exploiting", "feature", l.cat.Feature(best).Name, "score", bestQ)
	return best, true
}

// Reward is +1 when the trained diagnosis matches the reference one.
func Reward(predicted, truth string) float64 {
	if predicted == truth {
		return 1
	}
	return -1
}

// Train applies one Q-learning step to (state, action) and persists the table.
// The step is q += alpha * (r + gamma * max_a q(state, a) - q), with unseen
// pairs scoring 0. A save failure is returned after the in-memory update has
// been applied.
func (l *Learner) Train(ctx context.Context, state string, action int, predicted, truth string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := l.cat.Feature(action).Name
	row := l.table[state]
	if row == nil {
		row = make(map[string]float64)
		l.table[state] = row
	}

	maxQ := math.Inf(-1)
	for _, f := range l.cat.Features() {
		if q := row[f.Name]; q > maxQ {
			maxQ = q
		}
	}

	q := row[name]
	q += l.opts.Alpha * (Reward(predicted, truth) + l.opts.Gamma*maxQ - q)
	row[name] = q
	l.log.Debug("Trained", "feature", name, "score", q)

	if err := l.saveLocked(ctx); err != nil {
		return q, err
	}
	return q, nil
}

// Score returns the stored score, 0 when unseen.
func (l *Learner) Score(state string, action int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table[state][l.cat.Feature(action).Name]
}

// Len is the number of distinct states in the table.
func (l *Learner) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.table)
}

// Load replaces the table with the persisted one. Missing or unreadable
// storage leaves an empty table; the error is returned for logging only.
func (l *Learner) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.persister == nil {
		return nil
	}
	t, err := l.persister.LoadTable(ctx)
	if err != nil {
		l.table = make(Table)
		l.log.Warn("Could not load policy table, starting empty", "error", err)
		return fmt.Errorf("load policy table: %w", err)
	}
	if t == nil {
		t = make(Table)
	}
	l.table = t
	l.log.Info("Loaded policy table", "states", len(t))
	return nil
}

// Save persists the current table.
func (l *Learner) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx)
}

func (l *Learner) saveLocked(ctx context.Context) error {
	if l.persister == nil {
		return nil
	}
	if err := l.persister.SaveTable(ctx, l.table); err != nil {
		return fmt.Errorf("save policy table: %w", err)
	}
	return nil
}
