// Package knowledge answers general questions about conditions that arrive
// outside an interview question, from curated entries, an optional language
// model, or the bundle's own recommendations.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/model"
)

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Library holds curated topic entries.
type Library interface {
	LookupKnowledge(ctx context.Context, topic string) (string, bool, error)
}

// Information-request openers, matched against the start of the message.
var requestPrefixes = []string{
	"what is", "what's", "what are", "tell me about", "explain", "information about", "info about",
	"ما هو", "ما هي", "ماهو", "ماهي", "معلومات عن", "اشرح", "أخبرني عن", "اخبرني عن",
}

// Responder declines everything that is not an information request, so those
// messages go on to the interview.
type Responder struct {
	bank    *model.Bank
	library Library
	gen     Generator
	log     *slog.Logger
}

// NewResponder wires the sources. library and gen may be nil.
func NewResponder(bank *model.Bank, library Library, gen Generator) *Responder {
	return &Responder{bank: bank, library: library, gen: gen, log: logging.New("knowledge")}
}

// Topic extracts the subject of an information request.
func Topic(text string) (string, bool) {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, p := range requestPrefixes {
		if !strings.HasPrefix(norm, p) {
			continue
		}
		topic := strings.TrimSpace(strings.TrimPrefix(norm, p))
		topic = strings.TrimRight(topic, "?؟!. ")
		if topic == "" {
			return "", false
		}
		return topic, true
	}
	return "", false
}

// Respond answers text when it asks about a topic. Source failures are logged
// and fall through to the next source; the reply is declined only when no
// source has anything.
func (r *Responder) Respond(ctx context.Context, text string) (string, bool, error) {
	topic, ok := Topic(text)
	if !ok {
		return "", false, nil
	}
	cond, known := r.condition(topic)

	if r.library != nil {
		lookup := topic
		if known {
			lookup = cond.Name
		}
		if answer, ok, err := r.library.LookupKnowledge(ctx, lookup); err != nil {
			r.log.Warn("Knowledge lookup failed", "topic", lookup, "error", err)
		} else if ok {
			return answer, true, nil
		}
	}

	if r.gen != nil {
		subject := topic
		if known {
			subject = cond.Name
		}
		answer, err := r.gen.Generate(ctx, medicalInfoPrompt(subject))
		if err != nil {
			r.log.Warn("Generator failed", "topic", subject, "error", err)
		} else if answer = strings.TrimSpace(answer); answer != "" {
			return answer, true, nil
		}
	}

	if known {
		return cannedAnswer(cond), true, nil
	}
	return "", false, nil
}

func (r *Responder) condition(topic string) (model.Condition, bool) {
	if r.bank == nil {
		return model.Condition{}, false
	}
	for _, c := range r.bank.Conditions() {
		names := append([]string{c.Name, c.ID}, c.Aliases...)
		for _, n := range names {
			if n != "" && strings.Contains(topic, strings.ToLower(n)) {
				return c, true
			}
		}
	}
	return model.Condition{}, false
}

func cannedAnswer(c model.Condition) string {
	if c.Recommendations == "" {
		return fmt.Sprintf("%s: see a doctor for an accurate diagnosis.", c.Name)
	}
	return fmt.Sprintf("%s: %s", c.Name, c.Recommendations)
}

const systemInstruction = "You are a careful medical information assistant. " +
	"Explain conditions in plain language for a general audience. " +
	"Do not diagnose the reader and always advise seeing a doctor for personal concerns."

func medicalInfoPrompt(subject string) string {
	return fmt.Sprintf(`Explain the condition %q. Cover:
- definition
- main symptoms
- causes and risk factors
- how it is diagnosed
- recommended treatment
- prevention advice, if any
- possible complications
Answer in the language of the condition name.`, subject)
}
