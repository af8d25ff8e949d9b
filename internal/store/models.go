package store

import (
	"time"

	"sehha.app/diagnosis-assistant/internal/model"
)

// DiagnosisRecord is the archived result of one completed interview.
type DiagnosisRecord struct {
	ID            string                       `json:"id"` // UUID
	UserID        string                       `json:"user_id"`
	SessionID     string                       `json:"session_id"`
	Diagnosis     string                       `json:"diagnosis"`
	Confidence    float64                      `json:"confidence"`
	Probabilities map[string]model.Probability `json:"probabilities"`
	Details       []model.Outcome              `json:"detailed_results"`
	Answers       map[string]float64           `json:"answers"` // feature name -> encoded value
	Summary       string                       `json:"response"`
	CreatedAt     time.Time                    `json:"created_at"`
}

// KnowledgeEntry is a canned explanation for a topic, loaded by ingestion.
type KnowledgeEntry struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}
