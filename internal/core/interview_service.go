package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sehha.app/diagnosis-assistant/internal/catalog"
	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/model"
	"sehha.app/diagnosis-assistant/internal/policy"
	"sehha.app/diagnosis-assistant/internal/session"
	"sehha.app/diagnosis-assistant/internal/store"
)

// KnowledgeResponder may answer a free-text message outright. Declining
// (ok == false) lets the message drive the interview instead.
type KnowledgeResponder interface {
	Respond(ctx context.Context, text string) (answer string, ok bool, err error)
}

// DiagnosisArchive keeps completed diagnoses. It assigns rec.ID.
type DiagnosisArchive interface {
	ArchiveDiagnosis(ctx context.Context, rec *store.DiagnosisRecord) error
}

type Request struct {
	UserID    string
	SessionID string
	Message   string
}

type ResponseKind string

const (
	KindQuestion ResponseKind = "awaiting_response"
	KindComplete ResponseKind = "complete"
	KindAnswer   ResponseKind = "answer"
)

type Question struct {
	Feature  string
	Text     string
	Options  []string
	Kind     catalog.Kind
	Progress string
}

type Response struct {
	Kind      ResponseKind
	UserID    string
	SessionID string

	Question *Question // KindQuestion

	Diagnosis   *Diagnosis // KindComplete
	DiagnosisID string     // set when the diagnosis was archived
	History     []session.HistoryEntry

	// Message is the rendered diagnosis summary or the knowledge answer.
	Message   string
	Timestamp time.Time
}

// InterviewService drives the turn-by-turn interview protocol.
type InterviewService struct {
	cat        *catalog.Catalog
	sessions   *session.Store
	policy     *policy.Learner
	norm       *Normalizer
	extractor  *Extractor
	aggregator *Aggregator
	knowledge  KnowledgeResponder
	archive    DiagnosisArchive
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*InterviewService)

func WithKnowledge(k KnowledgeResponder) Option {
	return func(s *InterviewService) { s.knowledge = k }
}

func WithArchive(a DiagnosisArchive) Option {
	return func(s *InterviewService) { s.archive = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *InterviewService) { s.now = now }
}

func NewInterviewService(cat *catalog.Catalog, bank *model.Bank, sessions *session.Store, learner *policy.Learner, opts ...Option) *InterviewService {
	norm := NewNormalizer(cat)
	s := &InterviewService{
		cat:        cat,
		sessions:   sessions,
		policy:     learner,
		norm:       norm,
		extractor:  NewExtractor(cat, norm),
		aggregator: NewAggregator(bank),
		now:        time.Now,
		log:        logging.New("interview"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InterviewService) Catalog() *catalog.Catalog { return s.cat }

// Cleanup drops every live session.
func (s *InterviewService) Cleanup() int { return s.sessions.Clear() }

// HandleTurn processes one message. When the pending answer is rejected it
// returns the re-asked question together with an *InvalidInputError.
func (s *InterviewService) HandleTurn(ctx context.Context, req Request) (*Response, error) {
	sess, release, err := s.sessions.Acquire(req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	msg := strings.TrimSpace(req.Message)

	if ord, ok := sess.Awaiting(); ok {
		v, err := s.norm.Normalize(ord, msg)
		if err != nil {
			sess.Attempts++
			s.log.Info("Rejected answer", "session_id", sess.ID, "feature", s.cat.Feature(ord).Name, "attempts", sess.Attempts)
			return s.questionResponse(sess, ord), err
		}
		sess.Answers[ord] = catalog.Known(v)
		sess.Answered()
		s.cat.ApplyDerivations(sess.Answers)
		s.log.Debug("Recorded answer", "session_id", sess.ID, "feature", s.cat.Feature(ord).Name, "value", v)
	} else if msg != "" {
		if resp := s.answerKnowledge(ctx, sess, msg); resp != nil {
			return resp, nil
		}
		s.extractor.Extract(msg, sess.Answers)
	}

	if len(sess.Answers.Missing()) == 0 {
		return s.complete(ctx, sess)
	}

	candidates := s.candidates(sess)
	state := policy.StateKey(s.cat, sess.Answers)
	ord, ok := s.policy.Choose(state, candidates)
	if !ok {
		missing := s.names(sess.Answers.Missing())
		s.log.Error("No question available for missing features", "session_id", sess.ID, "missing", missing)
		sess.Reset(s.cat.NewAnswers())
		return nil, fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), ErrPolicyExhausted)
	}
	sess.LastStateKey = state
	sess.LastAction = ord
	sess.Await(ord)
	return s.questionResponse(sess, ord), nil
}

func (s *InterviewService) answerKnowledge(ctx context.Context, sess *session.Session, msg string) *Response {
	if s.knowledge == nil {
		return nil
	}
	answer, ok, err := s.knowledge.Respond(ctx, msg)
	if err != nil {
		s.log.Warn("Knowledge responder failed", "session_id", sess.ID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &Response{
		Kind:      KindAnswer,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Message:   answer,
		Timestamp: s.now(),
	}
}

// candidates lists the features that may be asked next: unknown, not asked
// before, and not derived unless the inputs can no longer be asked.
func (s *InterviewService) candidates(sess *session.Session) []int {
	missing := sess.Answers.Missing()
	askable := make(map[int]bool, len(missing))
	for _, ord := range missing {
		if !sess.Asked[ord] {
			askable[ord] = true
		}
	}

	var out []int
	for _, ord := range missing {
		if !askable[ord] {
			continue
		}
		f := s.cat.Feature(ord)
		if f.IsDerived() && anyAskable(f.DerivedFrom(), askable) {
			continue
		}
		out = append(out, ord)
	}
	return out
}

func anyAskable(ords []int, askable map[int]bool) bool {
	for _, o := range ords {
		if askable[o] {
			return true
		}
	}
	return false
}

func (s *InterviewService) complete(ctx context.Context, sess *session.Session) (*Response, error) {
	vec := s.norm.Prepare(sess.Answers)
	d, err := s.aggregator.Diagnose(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("diagnose session %s: %w", sess.ID, err)
	}
	sess.Complete()

	// No outcome labels exist, so the prediction is its own reference.
	if sess.LastAction >= 0 {
		if _, err := s.policy.Train(ctx, sess.LastStateKey, sess.LastAction, d.Primary, d.Primary); err != nil {
			s.log.Warn("Policy persistence failed", "session_id", sess.ID, "error", err)
		}
	} else if err := s.policy.Save(ctx); err != nil {
		s.log.Warn("Policy persistence failed", "session_id", sess.ID, "error", err)
	}

	now := s.now()
	summary := Summary(d, s.cat, sess.Answers)
	sess.History = append(sess.History, session.HistoryEntry{
		Diagnosis:  d.Primary,
		Confidence: d.Confidence,
		Timestamp:  now,
	})

	resp := &Response{
		Kind:      KindComplete,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Diagnosis: d,
		History:   sess.History,
		Message:   summary,
		Timestamp: now,
	}

	if s.archive != nil {
		rec := &store.DiagnosisRecord{
			UserID:        sess.UserID,
			SessionID:     sess.ID,
			Diagnosis:     d.Primary,
			Confidence:    d.Confidence,
			Probabilities: d.Probabilities,
			Details:       d.Details,
			Answers:       s.cat.ByName(sess.Answers),
			Summary:       summary,
		}
		if err := s.archive.ArchiveDiagnosis(ctx, rec); err != nil {
			s.log.Warn("Could not archive diagnosis", "session_id", sess.ID, "error", err)
		} else {
			resp.DiagnosisID = rec.ID
		}
	}

	s.sessions.Retire(sess)
	s.log.Info("Completed interview", "user_id", sess.UserID, "session_id", sess.ID, "diagnosis", d.Primary)
	return resp, nil
}

func (s *InterviewService) questionResponse(sess *session.Session, ord int) *Response {
	f := s.cat.Feature(ord)
	return &Response{
		Kind:      KindQuestion,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Question: &Question{
			Feature:  f.Name,
			Text:     f.Question,
			Options:  f.OptionLabels(),
			Kind:     f.Kind,
			Progress: fmt.Sprintf("%d/%d", sess.Answers.Answered(), s.cat.Len()),
		},
		Timestamp: s.now(),
	}
}

func (s *InterviewService) names(ords []int) []string {
	out := make([]string, len(ords))
	for i, ord := range ords {
		out[i] = s.cat.Feature(ord).Name
	}
	return out
}

// AsInvalidInput unwraps an answer rejection.
func AsInvalidInput(err error) (*InvalidInputError, bool) {
	var inv *InvalidInputError
	if errors.As(err, &inv) {
		return inv, true
	}
	return nil, false
}
