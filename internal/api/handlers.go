package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"sehha.app/diagnosis-assistant/internal/auth"
	"sehha.app/diagnosis-assistant/internal/core"
	"sehha.app/diagnosis-assistant/internal/logging"
	"sehha.app/diagnosis-assistant/internal/model"
	"sehha.app/diagnosis-assistant/internal/report"
	"sehha.app/diagnosis-assistant/internal/session"
	"sehha.app/diagnosis-assistant/internal/store"
)

// DiagnosisReader serves archived diagnoses.
type DiagnosisReader interface {
	GetDiagnosis(ctx context.Context, id string) (*store.DiagnosisRecord, error)
	ListDiagnosesByUser(ctx context.Context, userID string, limit int) ([]store.DiagnosisRecord, error)
}

type ReportRenderer interface {
	Render(rec *store.DiagnosisRecord) ([]byte, error)
}

type contextKey string

const userIDKey contextKey = "userID"

const defaultListLimit = 20

type APIHandler struct {
	interview *core.InterviewService
	archive   DiagnosisReader
	reports   ReportRenderer
	log       *slog.Logger
}

// NewAPIHandler wires the handlers. archive and reports may be nil, in which
// case their routes answer 404.
func NewAPIHandler(svc *core.InterviewService, archive DiagnosisReader, reports ReportRenderer) *APIHandler {
	return &APIHandler{interview: svc, archive: archive, reports: reports, log: logging.New("api")}
}

// JWTAuthMiddleware requires a bearer token when a JWT secret is configured
// and makes its subject the request's user id.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			h.log.Debug("Rejected token", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authenticatedUser(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

type DiagnoseRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// DiagnoseResponse is the flat wire form of one turn. State is
// awaiting_response, complete or answer; failed turns set ErrorKind.
type DiagnoseResponse struct {
	State     string `json:"state,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Feature      string   `json:"feature,omitempty"`
	Question     string   `json:"question,omitempty"`
	Options      []string `json:"options,omitempty"`
	QuestionType string   `json:"question_type,omitempty"`
	Progress     string   `json:"progress,omitempty"`

	Diagnosis     string                       `json:"diagnosis,omitempty"`
	Confidence    *float64                     `json:"confidence,omitempty"`
	Probabilities map[string]model.Probability `json:"probabilities,omitempty"`
	Details       []model.Outcome              `json:"detailed_results,omitempty"`
	DiagnosisID   string                       `json:"diagnosis_id,omitempty"`
	History       []session.HistoryEntry       `json:"history,omitempty"`

	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

func toWire(resp *core.Response) DiagnoseResponse {
	out := DiagnoseResponse{
		State:     string(resp.Kind),
		UserID:    resp.UserID,
		SessionID: resp.SessionID,
		Response:  resp.Message,
		History:   resp.History,
		Timestamp: resp.Timestamp,
	}
	if q := resp.Question; q != nil {
		out.Feature = q.Feature
		out.Question = q.Text
		out.Options = q.Options
		out.QuestionType = q.Kind.String()
		out.Progress = q.Progress
	}
	if d := resp.Diagnosis; d != nil {
		confidence := d.Confidence
		out.Diagnosis = d.Primary
		out.Confidence = &confidence
		out.Probabilities = d.Probabilities
		out.Details = d.Details
		out.DiagnosisID = resp.DiagnosisID
	}
	return out
}

func (h *APIHandler) DiagnoseHandler(w http.ResponseWriter, r *http.Request) {
	var req DiagnoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if id, ok := authenticatedUser(r.Context()); ok {
		req.UserID = id
	}

	resp, err := h.interview.HandleTurn(r.Context(), core.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		h.writeTurnError(w, req, resp, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(resp))
}

func (h *APIHandler) writeTurnError(w http.ResponseWriter, req DiagnoseRequest, resp *core.Response, err error) {
	if inv, ok := core.AsInvalidInput(err); ok {
		out := DiagnoseResponse{UserID: req.UserID, SessionID: req.SessionID}
		if resp != nil {
			out = toWire(resp)
		}
		out.Error = inv.Message
		out.ErrorKind = "invalid_input"
		writeJSON(w, http.StatusBadRequest, out)
		return
	}

	status, kind, msg := http.StatusInternalServerError, "internal", "Failed to process message"
	switch {
	case errors.Is(err, core.ErrUnknownSession):
		status, kind, msg = http.StatusNotFound, "unknown_session", "Session expired, start a new one"
	case core.IsModelUnavailable(err):
		status, kind, msg = http.StatusServiceUnavailable, "model_unavailable", "Diagnosis models are unavailable"
	case errors.Is(err, core.ErrPolicyExhausted):
		kind, msg = "policy_exhausted", "No question left to ask, the session was reset"
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("Turn failed", "user_id", req.UserID, "session_id", req.SessionID, "error", err)
	}
	writeJSON(w, status, DiagnoseResponse{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Error:     msg,
		ErrorKind: kind,
	})
}

func (h *APIHandler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	n := h.interview.Cleanup()
	writeJSON(w, http.StatusOK, map[string]any{"status": "Cleared all conversation state", "sessions": n})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type FeatureInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Derived  bool     `json:"derived,omitempty"`
}

func (h *APIHandler) CatalogHandler(w http.ResponseWriter, r *http.Request) {
	features := h.interview.Catalog().Features()
	out := make([]FeatureInfo, 0, len(features))
	for i := range features {
		f := &features[i]
		info := FeatureInfo{
			Name:     f.Name,
			Kind:     f.Kind.String(),
			Question: f.Question,
			Options:  f.OptionLabels(),
			Derived:  f.IsDerived(),
		}
		if f.Bounded {
			lo, hi := f.Min, f.Max
			info.Min, info.Max = &lo, &hi
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) ListDiagnosesHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if id, ok := authenticatedUser(r.Context()); ok && id != userID {
		writeError(w, http.StatusForbidden, "forbidden", "Cannot read another user's diagnoses")
		return
	}
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "not_found", "Diagnosis archive is disabled")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := h.archive.ListDiagnosesByUser(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("Error listing diagnoses", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to list diagnoses")
		return
	}
	if recs == nil {
		recs = []store.DiagnosisRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// loadDiagnosis fetches the record named in the path, writing the error
// response itself when it returns nil.
func (h *APIHandler) loadDiagnosis(w http.ResponseWriter, r *http.Request) *store.DiagnosisRecord {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "not_found", "Diagnosis archive is disabled")
		return nil
	}
	id := chi.URLParam(r, "diagnosisID")
	rec, err := h.archive.GetDiagnosis(r.Context(), id)
	if err != nil {
		h.log.Error("Error getting diagnosis", "diagnosis_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to get diagnosis")
		return nil
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not_found", "Diagnosis not found")
		return nil
	}
	if user, ok := authenticatedUser(r.Context()); ok && user != rec.UserID {
		writeError(w, http.StatusNotFound, "not_found", "Diagnosis not found")
		return nil
	}
	return rec
}

func (h *APIHandler) GetDiagnosisHandler(w http.ResponseWriter, r *http.Request) {
	if rec := h.loadDiagnosis(w, r); rec != nil {
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *APIHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	rec := h.loadDiagnosis(w, r)
	if rec == nil {
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "not_found", "Reports are disabled")
		return
	}
	pdf, err := h.reports.Render(rec)
	if err != nil {
		h.log.Error("Error rendering report", "diagnosis_id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to render report")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(rec, time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, DiagnoseResponse{Error: msg, ErrorKind: kind})
}
