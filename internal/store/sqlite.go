package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/policy"
)

type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, log: logging.New("store")}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS q_values (
        state_key TEXT NOT NULL,
        action TEXT NOT NULL,
        score REAL NOT NULL,
        PRIMARY KEY (state_key, action)
    );

    CREATE TABLE IF NOT EXISTS diagnoses (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        session_id TEXT NOT NULL,
        diagnosis TEXT NOT NULL,
        confidence REAL NOT NULL,
        probabilities_json TEXT NOT NULL,
        details_json TEXT NOT NULL,
        answers_json TEXT NOT NULL,
        summary TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_diagnoses_user ON diagnoses (user_id, created_at);

    CREATE TABLE IF NOT EXISTS knowledge_entries (
        topic TEXT PRIMARY KEY, -- lower-cased
        content TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Policy table methods

func (s *SQLiteStore) LoadTable(ctx context.Context) (policy.Table, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state_key, action, score FROM q_values")
	if err != nil {
		return nil, fmt.Errorf("failed to query q_values: %w", err)
	}
	defer rows.Close()

	t := make(policy.Table)
	for rows.Next() {
		var state, action string
		var score float64
		if err := rows.Scan(&state, &action, &score); err != nil {
			return nil, fmt.Errorf("failed to scan q_values row: %w", err)
		}
		row := t[state]
		if row == nil {
			row = make(map[string]float64)
			t[state] = row
		}
		row[action] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read q_values: %w", err)
	}
	return t, nil
}

// SaveTable replaces the stored table in one transaction.
func (s *SQLiteStore) SaveTable(ctx context.Context, t policy.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM q_values"); err != nil {
		return fmt.Errorf("failed to clear q_values: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO q_values (state_key, action, score) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare q_values insert: %w", err)
	}
	defer stmt.Close()

	for state, actions := range t {
		for action, score := range actions {
			if _, err := stmt.ExecContext(ctx, state, action, score); err != nil {
				return fmt.Errorf("failed to execute q_values insert: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit q_values: %w", err)
	}
	return nil
}

// Diagnosis methods

// ArchiveDiagnosis stores rec, assigning its ID and CreatedAt.
func (s *SQLiteStore) ArchiveDiagnosis(ctx context.Context, rec *DiagnosisRecord) error {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	probs, err := json.Marshal(rec.Probabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal probabilities: %w", err)
	}
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	stmt, err := s.db.PrepareContext(ctx, `INSERT INTO diagnoses
        (id, user_id, session_id, diagnosis, confidence, probabilities_json, details_json, answers_json, summary, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare diagnosis insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, rec.ID, rec.UserID, rec.SessionID, rec.Diagnosis, rec.Confidence,
		string(probs), string(details), string(answers), rec.Summary, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute diagnosis insert: %w", err)
	}
	return nil
}

const diagnosisColumns = "id, user_id, session_id, diagnosis, confidence, probabilities_json, details_json, answers_json, summary, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row rowScanner) (*DiagnosisRecord, error) {
	var rec DiagnosisRecord
	var probs, details, answers string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &rec.Diagnosis, &rec.Confidence,
		&probs, &details, &answers, &rec.Summary, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(probs), &rec.Probabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal probabilities for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal details for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answers for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// GetDiagnosis returns nil, nil when no record has the id.
func (s *SQLiteStore) GetDiagnosis(ctx context.Context, id string) (*DiagnosisRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+diagnosisColumns+" FROM diagnoses WHERE id = ?", id)
	rec, err := scanDiagnosis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get diagnosis: %w", err)
	}
	return rec, nil
}

// ListDiagnosesByUser returns the user's diagnoses, newest first.
func (s *SQLiteStore) ListDiagnosesByUser(ctx context.Context, userID string, limit int) ([]DiagnosisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+diagnosisColumns+" FROM diagnoses WHERE user_id = ? ORDER BY created_at DESC LIMIT ?", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnoses: %w", err)
	}
	defer rows.Close()

	var records []DiagnosisRecord
	for rows.Next() {
		rec, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagnosis row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read diagnoses: %w", err)
	}
	return records, nil
}

// Knowledge methods

// LookupKnowledge returns the canned entry for topic, if any.
func (s *SQLiteStore) LookupKnowledge(ctx context.Context, topic string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM knowledge_entries WHERE topic = ?",
		normalizeTopic(topic)).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query knowledge entry: %w", err)
	}
	return content, true, nil
}

func (s *SQLiteStore) ClearKnowledge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_entries"); err != nil {
		return fmt.Errorf("failed to delete knowledge entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) putKnowledge(ctx context.Context, e KnowledgeEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO knowledge_entries (topic, content) VALUES (?, ?) ON CONFLICT(topic) DO UPDATE SET content = excluded.content",
		normalizeTopic(e.Topic), e.Content)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}
	return nil
}

func normalizeTopic(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IngestKnowledgeFromFile replaces the knowledge entries with the rows of a
// two-column Markdown table (| topic | content |) and returns how many rows it
// stored.
func (s *SQLiteStore) IngestKnowledgeFromFile(ctx context.Context, filePath string) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge file %s: %w", filePath, err)
	}
	entries := ParseKnowledgeTable(string(contentBytes))
	if len(entries) == 0 {
		s.log.Warn("No entries found in knowledge file; expected a Markdown table with topic and content columns", "path", filePath)
		return 0, nil
	}

	if err := s.ClearKnowledge(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear existing knowledge: %w", err)
	}
	count := 0
	for _, e := range entries {
		if err := s.putKnowledge(ctx, e); err != nil {
			s.log.Warn("Skipping knowledge entry", "topic", e.Topic, "error", err)
			continue
		}
		count++
	}
	s.log.Info("Ingested knowledge entries", "count", count, "path", filePath)
	return count, nil
}

// ParseKnowledgeTable extracts rows from a Markdown table. The header row and
// the separator row are skipped; rows without two non-empty cells are dropped.
func ParseKnowledgeTable(text string) []KnowledgeEntry {
	var entries []KnowledgeEntry
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") || !strings.HasSuffix(trimmed, "|") {
			continue
		}
		// "| topic | content |" splits into ["", " topic ", " content ", ""].
		parts := strings.Split(trimmed, "|")
		if len(parts) < 4 {
			continue
		}
		topic := strings.TrimSpace(parts[1])
		content := strings.TrimSpace(strings.Join(parts[2:len(parts)-1], "|"))
		if topic == "" || content == "" || strings.Trim(topic, "-: ") == "" {
			continue
		}
		if strings.EqualFold(topic, "topic") {
			continue
		}
		entries = append(entries, KnowledgeEntry{Topic: topic, Content: content})
	}
	return entries
}
