package catalog

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testFeatures() []Feature {
	return []Feature{
		{Name: "Smoker", Kind: KindBinary},
		{Name: "Sex", Kind: KindGender, Question: "What is your sex?"},
		{Name: "Height", Kind: KindNumeric, Bounded: true, Min: 0.5, Max: 2.5, Default: 1.7},
		{Name: "Weight", Kind: KindNumeric, Bounded: true, Min: 20, Max: 200, Default: 70},
		{Name: "BMI", Kind: KindNumeric, Bounded: true, Min: 10, Max: 50, Default: 22,
			Derived: &Derivation{Formula: "bmi", Inputs: []string{"Weight", "Height"}}},
	}
}

func TestNew(t *testing.T) {
	c, err := New(testFeatures(), []Phrase{{Text: "I  Smoke", Feature: "Smoker"}, {Text: "x", Feature: "Missing"}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff([]string{"Smoker", "Sex", "Height", "Weight", "BMI"}, c.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	smoker := c.Feature(0)
	if smoker.Question != "Do you have Smoker?" {
		t.Errorf("default question = %q", smoker.Question)
	}
	if diff := cmp.Diff([]string{"yes", "no"}, smoker.OptionLabels()); diff != "" {
		t.Errorf("binary options mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 2}, c.Feature(4).DerivedFrom()); diff != "" {
		t.Errorf("DerivedFrom mismatch (-want +got):\n%s", diff)
	}
	if got := c.MatchPhrases("well, i smoke daily"); len(got) != 1 || got[0] != 0 {
		t.Errorf("MatchPhrases = %v", got)
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		features []Feature
		patterns []Pattern
		wantErr  string
	}{
		{name: "empty", wantErr: "no features"},
		{name: "duplicate", features: []Feature{{Name: "A", Kind: KindBinary}, {Name: "A", Kind: KindBinary}}, wantErr: "duplicate"},
		{name: "category without options", features: []Feature{{Name: "A", Kind: KindCategory}}, wantErr: "needs options"},
		{name: "inverted bounds", features: []Feature{{Name: "A", Kind: KindNumeric, Bounded: true, Min: 5, Max: 1}}, wantErr: "above max"},
		{
			name:     "unknown formula",
			features: []Feature{{Name: "A", Kind: KindNumeric, Derived: &Derivation{Formula: "bsa"}}},
			wantErr:  "unknown derivation formula",
		},
		{
			name: "derived input",
			features: []Feature{
				{Name: "A", Kind: KindNumeric, Derived: &Derivation{Formula: "bmi", Inputs: []string{"B", "C"}}},
				{Name: "B", Kind: KindNumeric, Derived: &Derivation{Formula: "bmi", Inputs: []string{"C", "C"}}},
				{Name: "C", Kind: KindNumeric},
			},
			wantErr: "itself derived",
		},
		{
			name:     "pattern without group",
			features: []Feature{{Name: "A", Kind: KindNumeric}},
			patterns: []Pattern{{Feature: "A", Regex: `\d+`}},
			wantErr:  "no capture group",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.features, nil, tt.patterns)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	c, err := New(testFeatures(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sex := c.Feature(1)
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"Male", 1, true},
		{"  WOMAN ", 0, true},
		{"أنثى", 0, true},
		{"other", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := sex.Lookup(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBoundsAndClamp(t *testing.T) {
	f := &Feature{Kind: KindNumeric, Bounded: true, Min: 0, Max: 24}
	if !f.InBounds(0) || !f.InBounds(24) || f.InBounds(24.01) || f.InBounds(-1) {
		t.Error("InBounds must be inclusive of both ends only")
	}
	if f.Clamp(30) != 24 || f.Clamp(-3) != 0 || f.Clamp(8) != 8 {
		t.Error("Clamp does not force values into range")
	}
	free := &Feature{Kind: KindNumeric}
	if !free.InBounds(1e9) || free.Clamp(-1e9) != -1e9 {
		t.Error("unbounded feature must accept any value")
	}
}

func TestApplyDerivations(t *testing.T) {
	c, err := New(testFeatures(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := c.NewAnswers()
	a[3] = Known(81)
	if got := c.ApplyDerivations(a); len(got) != 0 {
		t.Fatalf("derived with a missing input: %v", got)
	}

	a[2] = Known(1.8)
	if got := c.ApplyDerivations(a); len(got) != 1 || got[0] != 4 {
		t.Fatalf("ApplyDerivations = %v, want [4]", got)
	}
	if math.Abs(a[4].Num-25) > 1e-9 {
		t.Errorf("BMI = %v, want 25", a[4].Num)
	}

	// A known value is never recomputed.
	a[3] = Known(100)
	c.ApplyDerivations(a)
	if math.Abs(a[4].Num-25) > 1e-9 {
		t.Errorf("BMI recomputed to %v", a[4].Num)
	}
}

func TestAnswers(t *testing.T) {
	c, err := New(testFeatures(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := c.NewAnswers()
	a[0] = Known(0)
	a[3] = Known(70)

	if diff := cmp.Diff([]int{1, 2, 4}, a.Missing()); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if a.Answered() != 2 {
		t.Errorf("Answered = %d", a.Answered())
	}
	if diff := cmp.Diff(map[string]float64{"Smoker": 0, "Weight": 70}, c.ByName(a)); diff != "" {
		t.Errorf("ByName mismatch (-want +got):\n%s", diff)
	}
	if a[0].String() != "0" || a[1].String() != "?" {
		t.Errorf("String = %q, %q", a[0].String(), a[1].String())
	}

	b := a.Clone()
	b[1] = Known(1)
	if a[1].Set {
		t.Error("Clone shares storage")
	}
}
