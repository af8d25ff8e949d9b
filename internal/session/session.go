// Package session keeps the per-conversation interview state in memory.
package session

import (
	"sync"
	"time"

	"sehha.app/diagnosis-assistant/internal/catalog"
)

type Stage int

const (
	StageInitial Stage = iota
	StageAwaitingAnswer
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageAwaitingAnswer:
		return "awaiting_response"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type HistoryEntry struct {
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is one interview. All fields are owned by the turn holding the
// session lock; see Store.Acquire.
type Session struct {
	UserID string
	ID     string

	Answers catalog.Answers
	Asked   map[int]bool
	History []HistoryEntry

	// Attempts counts invalid answers to the outstanding question.
	Attempts int

	// LastStateKey and LastAction record the policy pair that produced the
	// outstanding question. LastAction is -1 before any question is asked.
	LastStateKey string
	LastAction   int

	CreatedAt       time.Time
	LastInteraction time.Time

	mu       sync.Mutex
	stage    Stage
	awaiting int
	retired  retireReason
}

type retireReason int

const (
	active retireReason = iota
	retiredCompleted
	retiredExpired
)

func newSession(userID, id string, answers catalog.Answers, now time.Time) *Session {
	return &Session{
		UserID:          userID,
		ID:              id,
		Answers:         answers,
		Asked:           make(map[int]bool),
		LastAction:      -1,
		CreatedAt:       now,
		LastInteraction: now,
		stage:           StageInitial,
		awaiting:        -1,
	}
}

func (s *Session) Stage() Stage { return s.stage }

// Awaiting returns the ordinal of the outstanding question.
func (s *Session) Awaiting() (int, bool) {
	return s.awaiting, s.awaiting >= 0
}

// Await marks ord as the outstanding question and records it as asked.
func (s *Session) Await(ord int) {
	s.awaiting = ord
	s.stage = StageAwaitingAnswer
	s.Asked[ord] = true
	s.Attempts = 0
}

// Answered clears the outstanding question after a valid answer.
func (s *Session) Answered() {
	s.awaiting = -1
	s.stage = StageInitial
	s.Attempts = 0
}

// Complete moves the session to its terminal stage.
func (s *Session) Complete() {
	s.awaiting = -1
	s.stage = StageComplete
}

// Reset discards collected answers and questions but keeps the history.
func (s *Session) Reset(answers catalog.Answers) {
	s.Answers = answers
	s.Asked = make(map[int]bool)
	s.Attempts = 0
	s.LastStateKey = ""
	s.LastAction = -1
	s.awaiting = -1
	s.stage = StageInitial
}
