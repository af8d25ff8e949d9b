package core

import (
	"errors"
	"fmt"

	"sehha.app/diagnosis-assistant/internal/session"
)

var (
	// ErrUnknownSession means the caller named a session that no longer
	// exists and should start over.
	ErrUnknownSession = session.ErrUnknownSession
	// ErrModelUnavailable means no condition model could score the vector.
	ErrModelUnavailable = errors.New("no condition model available")
	// ErrPolicyExhausted means features are missing but none can be asked.
	ErrPolicyExhausted = errors.New("no question left to ask")
)

// InvalidInputError rejects an answer. The session keeps waiting for the same
// question.
type InvalidInputError struct {
	Feature string
	Message string
	Options []string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid answer for %s: %s", e.Feature, e.Message)
}
