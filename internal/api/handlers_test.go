package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sehha.app/diagnosis-assistant/internal/auth"
	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/core"
	"sehha.app/diagnosis-assistant/internal/model"
	"sehha.app/diagnosis-assistant/internal/policy"
	"sehha.app/diagnosis-assistant/internal/session"
	"sehha.app/diagnosis-assistant/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeArchive struct {
	records []store.DiagnosisRecord
}

func (a *fakeArchive) GetDiagnosis(_ context.Context, id string) (*store.DiagnosisRecord, error) {
	for i := range a.records {
		if a.records[i].ID == id {
			return &a.records[i], nil
		}
	}
	return nil, nil
}

func (a *fakeArchive) ListDiagnosesByUser(_ context.Context, userID string, limit int) ([]store.DiagnosisRecord, error) {
	var out []store.DiagnosisRecord
	for _, r := range a.records {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRenderer struct{ err error }

func (f fakeRenderer) Render(rec *store.DiagnosisRecord) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 " + rec.ID), nil
}

type testServer struct {
	handler  http.Handler
	sessions *session.Store
	clock    *testClock
	archive  *fakeArchive
}

func newTestServer(t *testing.T, renderer ReportRenderer) *testServer {
	t.Helper()
	b, err := model.DefaultBundle()
	if err != nil {
		t.Fatalf("DefaultBundle: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	sessions := session.NewStore(b.Catalog, time.Hour, session.WithClock(clock.Now))
	learner := policy.New(b.Catalog, nil, policy.Options{Alpha: 0.1, Gamma: 0.9})
	svc := core.NewInterviewService(b.Catalog, b.Bank, sessions, learner, core.WithClock(clock.Now))

	archive := &fakeArchive{records: []store.DiagnosisRecord{
		{ID: "d-1", UserID: "u1", Diagnosis: "Asthma", Confidence: 0.7},
		{ID: "d-2", UserID: "u1", Diagnosis: core.NoConfirmedCondition},
		{ID: "d-3", UserID: "u2", Diagnosis: "Stroke", Confidence: 0.6},
	}}
	return &testServer{
		handler:  NewRouter(NewAPIHandler(svc, archive, renderer)),
		sessions: sessions,
		clock:    clock,
		archive:  archive,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) DiagnoseResponse {
	t.Helper()
	var out DiagnoseResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})
	rec := s.do(t, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"ok"`)) {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestCatalog(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})
	rec := s.do(t, http.MethodGet, "/api/catalog", nil, nil)
	var features []FeatureInfo
	if err := json.NewDecoder(rec.Body).Decode(&features); err != nil {
		t.Fatal(err)
	}
	if len(features) != 19 {
		t.Fatalf("got %d features, want 19", len(features))
	}
	bmi := features[16]
	if bmi.Name != "BMI" || !bmi.Derived || *bmi.Min != 10 || *bmi.Max != 50 {
		t.Errorf("BMI = %+v", bmi)
	}
}

func TestDiagnose_QuestionFlow(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})

	rec := s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode(t, rec)
	want := DiagnoseResponse{
		State:        "awaiting_response",
		UserID:       "u1",
		SessionID:    "s1",
		Feature:      "GeneralHealth",
		Question:     "How would you describe your general health?",
		Options:      []string{"excellent", "very good", "good", "fair", "poor"},
		QuestionType: "category",
		Progress:     "0/19",
		Timestamp:    s.clock.Now(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("first turn mismatch (-want +got):\n%s", diff)
	}

	rec = s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1", Message: "good"}, nil)
	got = decode(t, rec)
	if got.Feature != "PhysicalHealthDays" || got.Progress != "1/19" {
		t.Fatalf("second question = %s at %s", got.Feature, got.Progress)
	}

	rec = s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1", Message: "45"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range answer: status = %d", rec.Code)
	}
	got = decode(t, rec)
	if got.ErrorKind != "invalid_input" || got.Error != "enter a value between 0 and 30" || got.Feature != "PhysicalHealthDays" {
		t.Errorf("invalid input response = %+v", got)
	}
}

func TestDiagnose_Errors(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})

	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1"}, nil)
	s.clock.Advance(2 * time.Hour)
	s.sessions.Sweep()

	rec = s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1", Message: "good"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expired session: status = %d", rec.Code)
	}
	if got := decode(t, rec); got.ErrorKind != "unknown_session" {
		t.Errorf("error_kind = %q", got.ErrorKind)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})
	s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1"}, nil)

	rec := s.do(t, http.MethodPost, "/api/cleanup", nil, nil)
	if rec.Code != http.StatusOK || s.sessions.Len() != 0 {
		t.Errorf("cleanup = %d with %d sessions left", rec.Code, s.sessions.Len())
	}
}

func TestDiagnosesArchive(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})

	rec := s.do(t, http.MethodGet, "/api/users/u1/diagnoses?limit=1", nil, nil)
	var list []store.DiagnosisRecord
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "d-1" {
		t.Errorf("list = %+v", list)
	}

	if rec := s.do(t, http.MethodGet, "/api/users/u1/diagnoses?limit=-3", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/diagnoses/d-3", nil, nil)
	var got store.DiagnosisRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Diagnosis != "Stroke" {
		t.Errorf("diagnosis = %+v", got)
	}

	if rec := s.do(t, http.MethodGet, "/api/diagnoses/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing diagnosis: status = %d", rec.Code)
	}
}

func TestReport(t *testing.T) {
	s := newTestServer(t, fakeRenderer{})
	rec := s.do(t, http.MethodGet, "/api/diagnoses/d-1/report", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="report_d-1.pdf"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	broken := newTestServer(t, fakeRenderer{err: errors.New("no font")})
	if rec := broken.do(t, http.MethodGet, "/api/diagnoses/d-1/report", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("render failure: status = %d", rec.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	prev := config.AppConfig
	config.AppConfig.JWTSecret = "test-secret"
	t.Cleanup(func() { config.AppConfig = prev })

	s := newTestServer(t, fakeRenderer{})

	if rec := s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1"}, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", rec.Code)
	}
	bad := http.Header{"Authorization": {"Bearer garbage"}}
	if rec := s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1"}, bad); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}

	token, err := auth.GenerateJWT("u2")
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	hdr := http.Header{"Authorization": {"Bearer " + token}}

	// The token subject wins over the body.
	rec := s.do(t, http.MethodPost, "/api/diagnose", DiagnoseRequest{UserID: "u1", SessionID: "s1"}, hdr)
	if got := decode(t, rec); rec.Code != http.StatusOK || got.UserID != "u2" {
		t.Errorf("authenticated turn = %d for %q", rec.Code, got.UserID)
	}

	if rec := s.do(t, http.MethodGet, "/api/users/u1/diagnoses", nil, hdr); rec.Code != http.StatusForbidden {
		t.Errorf("other user's list: status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/diagnoses/d-1", nil, hdr); rec.Code != http.StatusNotFound {
		t.Errorf("other user's diagnosis: status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/diagnoses/d-3", nil, hdr); rec.Code != http.StatusOK {
		t.Errorf("own diagnosis: status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health behind auth: status = %d", rec.Code)
	}
}
