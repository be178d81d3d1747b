package rounds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/rounds/internal/platform/auth"
)

func newTestHandler(t *testing.T, opts ...ServiceOption) (*Handler, *echo.Echo, *Patient) {
	t.Helper()
	svc, _, p := newTestService(t, opts...)
	return NewHandler(svc), echo.New(), p
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func createTestSession(t *testing.T, h *Handler, patientID string) *Session {
	t.Helper()
	sess, err := h.svc.CreateSession(context.Background(), patientID, ModeWardRound)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestHandler_CreateSession(t *testing.T) {
	h, e, p := newTestHandler(t)

	req := jsonRequest(http.MethodPost, "/api/v1/sessions", `{"patient_id":"`+p.ID+`","mode":"dictation"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var sess Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Mode != ModeDictation || sess.PatientID != p.ID {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestHandler_CreateSession_BadRequest(t *testing.T) {
	h, e, p := newTestHandler(t)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing patient", `{"mode":"ward_round"}`, http.StatusBadRequest},
		{"bad mode", `{"patient_id":"` + p.ID + `","mode":"handover"}`, http.StatusBadRequest},
		{"unknown patient", `{"patient_id":"patient-404"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(jsonRequest(http.MethodPost, "/", tt.body), httptest.NewRecorder())
			expectHTTPStatus(t, h.CreateSession(c), tt.code)
		})
	}
}

func TestHandler_GetSession_NotFound(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("session-404")
	expectHTTPStatus(t, h.GetSession(c), http.StatusNotFound)
}

func TestHandler_RecordTurnAndCommit(t *testing.T) {
	h, e, p := newTestHandler(t)
	sess := createTestSession(t, h, p.ID)

	body := `{
		"diff": {"tasks_to_add": [{"text": "order BNP"}], "task_ids_completed": ["task-1"]},
		"assistant_message": "Done.",
		"human_summary": "- Order BNP\n- Echo chased",
		"user_input": "order a BNP, echo is done"
	}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	if err := h.RecordTurn(c); err != nil {
		t.Fatalf("record turn: %v", err)
	}
	var updated Session
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if len(updated.PendingDiff.TasksToAdd) != 1 || len(updated.SummaryLines) != 2 {
		t.Errorf("unexpected session %+v", updated)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	if err := h.Commit(c); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var result CommitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Patient == nil || result.Patient.Version != 2 || len(result.Patient.Tasks) != 2 {
		t.Errorf("unexpected commit result %+v", result.Patient)
	}
	if result.Entry.Transcript != "Order BNP\nEcho chased" {
		t.Errorf("unexpected transcript %q", result.Entry.Transcript)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	if err := h.Commit(c); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "no changes to apply") {
		t.Errorf("expected no-op commit, got %s", rec.Body.String())
	}
}

func TestHandler_RecordTurn_ShapeError(t *testing.T) {
	h, e, p := newTestHandler(t)
	sess := createTestSession(t, h, p.ID)

	for _, body := range []string{
		`{"diff": {"issues_to_add": "AF"}}`,
		`{"diff": {}, "human_summary": 7}`,
	} {
		c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(sess.ID)
		expectHTTPStatus(t, h.RecordTurn(c), http.StatusBadRequest)
	}
}

func TestHandler_RunTurn(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"not json at all"}}
	h, e, p := newTestHandler(t, WithCompleter(completer))
	sess := createTestSession(t, h, p.ID)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"input":"hmm"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	if err := h.RunTurn(c); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	var resp struct {
		AssistantMessage string   `json:"assistant_message"`
		SummaryLines     []string `json:"human_summary"`
		Fallback         bool     `json:"fallback"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Fallback || resp.AssistantMessage != "not json at all" || resp.SummaryLines == nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandler_RunTurn_NoCompleter(t *testing.T) {
	h, e, p := newTestHandler(t)
	sess := createTestSession(t, h, p.ID)
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"input":"hmm"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	expectHTTPStatus(t, h.RunTurn(c), http.StatusServiceUnavailable)
}

func TestHandler_DiscardSession(t *testing.T) {
	h, e, p := newTestHandler(t)
	sess := createTestSession(t, h, p.ID)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID)
	if err := h.DiscardSession(c); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_QuickAddAndListPatients(t *testing.T) {
	h, e, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"John Smith","scratchpad":"?PE"}`), rec)
	if err := h.QuickAddPatient(c); err != nil {
		t.Fatalf("quick add: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=active&limit=1", nil), rec)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var page struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 {
		t.Errorf("unexpected page total=%d len=%d", page.Total, len(page.Data))
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?status=archived", nil), httptest.NewRecorder())
	expectHTTPStatus(t, h.ListPatients(c), http.StatusBadRequest)
}

func TestHandler_VersionConflictMapsTo409(t *testing.T) {
	expectHTTPStatus(t, httpError(ErrVersionConflict), http.StatusConflict)
	expectHTTPStatus(t, httpError(&ShapeError{Field: "x"}), http.StatusBadRequest)
	expectHTTPStatus(t, httpError(errors.New("boom")), http.StatusInternalServerError)
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	h, e, p := newTestHandler(t)
	withRoles := func(roles ...string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				ctx := auth.WithUser(c.Request().Context(), "user-1", roles)
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			}
		}
	}

	nurse := e.Group("/nurse", withRoles(auth.RoleNurse))
	h.RegisterRoutes(nurse)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nurse/patients/"+p.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("nurse read: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/nurse/sessions", `{"patient_id":"`+p.ID+`"}`))
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse write: expected 403, got %d", rec.Code)
	}
}
