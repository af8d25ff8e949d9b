package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sehha.app/diagnosis-assistant/internal/model"
)

type stubPredictor struct{}

func (stubPredictor) Predict([]float64) (float64, float64, error) { return 1, 0, nil }
func (stubPredictor) Threshold() (float64, bool)                  { return 0, false }

func testBank(t *testing.T) *model.Bank {
	t.Helper()
	bank, err := model.NewBank([]model.Condition{
		{ID: "HadAsthma", Name: "Asthma", Aliases: []string{"الربو"}, Recommendations: "Use your inhaler.", Model: stubPredictor{}},
		{ID: "HadStroke", Name: "Stroke", Model: stubPredictor{}},
	})
	if err != nil {
		t.Fatalf("NewBank: %v", err)
	}
	return bank
}

type stubLibrary map[string]string

func (l stubLibrary) LookupKnowledge(_ context.Context, topic string) (string, bool, error) {
	v, ok := l[strings.ToLower(topic)]
	return v, ok, nil
}

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}

func TestTopic(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"What is asthma?", "asthma", true},
		{"  tell me   about Sleep apnea ", "sleep apnea", true},
		{"ما هو الربو؟", "الربو", true},
		{"what is", "", false},
		{"I have trouble walking", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Topic(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Topic(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	bank := testBank(t)

	tests := []struct {
		name    string
		library Library
		gen     *stubGenerator
		text    string
		want    string
		wantOK  bool
	}{
		{name: "not a request", text: "I sleep 6 hours", wantOK: false},
		{name: "canned condition", text: "what is asthma", want: "Asthma: Use your inhaler.", wantOK: true},
		{name: "arabic alias", text: "ما هو الربو", want: "Asthma: Use your inhaler.", wantOK: true},
		{name: "no recommendations", text: "tell me about stroke", want: "Stroke: see a doctor for an accurate diagnosis.", wantOK: true},
		{name: "unknown topic without generator", text: "what is gout", wantOK: false},
		{
			name:    "library first",
			library: stubLibrary{"asthma": "Curated asthma entry."},
			gen:     &stubGenerator{reply: "generated"},
			text:    "what is asthma",
			want:    "Curated asthma entry.",
			wantOK:  true,
		},
		{
			name:   "generator for unknown topic",
			gen:    &stubGenerator{reply: "  Gout is a form of arthritis. "},
			text:   "what is gout",
			want:   "Gout is a form of arthritis.",
			wantOK: true,
		},
		{
			name:   "generator failure falls back to canned",
			gen:    &stubGenerator{err: errors.New("quota")},
			text:   "what is asthma",
			want:   "Asthma: Use your inhaler.",
			wantOK: true,
		},
		{
			name:   "generator failure on unknown topic declines",
			gen:    &stubGenerator{err: errors.New("quota")},
			text:   "what is gout",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gen Generator
			if tt.gen != nil {
				gen = tt.gen
			}
			r := NewResponder(bank, tt.library, gen)
			got, ok, err := r.Respond(ctx, tt.text)
			if err != nil {
				t.Fatalf("Respond: %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Respond(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRespond_GeneratorPromptNamesCondition(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	r := NewResponder(testBank(t), nil, gen)
	if _, _, err := r.Respond(context.Background(), "ما هو الربو"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gen.prompt, `"Asthma"`) {
		t.Errorf("prompt does not name the matched condition:\n%s", gen.prompt)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" Asthma narrows the airways. "}}]}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "m"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	got, err := gen.Generate(context.Background(), "explain asthma")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Asthma narrows the airways." {
		t.Errorf("Generate = %q", got)
	}
	if gotBody["model"] != "m" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if msgs, _ := gotBody["messages"].([]any); len(msgs) != 2 {
		t.Errorf("request carried %d messages, want system + user", len(msgs))
	}
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Error("NewOpenAIGenerator without key returned nil error")
	}
}
