package rounds

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/rounds/internal/platform/auth"
	"github.com/ehr/rounds/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleNurse))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/ward-entries", h.ListWardEntries)
	read.GET("/sessions", h.ListSessions)
	read.GET("/sessions/:id", h.GetSession)

	write := api.Group("", auth.RequireRole(auth.RoleClinician))
	write.POST("/patients", h.QuickAddPatient)
	write.POST("/patients/:id/discharge", h.DischargePatient)
	write.POST("/sessions", h.CreateSession)
	write.DELETE("/sessions/:id", h.DiscardSession)
	write.POST("/sessions/:id/turns", h.RunTurn)
	write.POST("/sessions/:id/diffs", h.RecordTurn)
	write.POST("/sessions/:id/commit", h.Commit)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var shape *ShapeError
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &shape), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoCompleter):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrCompletion):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Patients --

type quickAddRequest struct {
	Name       string `json:"name"`
	Scratchpad string `json:"scratchpad"`
	Ward       string `json:"ward"`
}

func (h *Handler) QuickAddPatient(c echo.Context) error {
	var req quickAddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.QuickAddPatient(c.Request().Context(), req.Name, req.Scratchpad, req.Ward)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type dischargeRequest struct {
	Note string `json:"note"`
}

func (h *Handler) DischargePatient(c echo.Context) error {
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.DischargePatient(c.Request().Context(), c.Param("id"), req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListWardEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWardEntries(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Sessions --

type createSessionRequest struct {
	PatientID string `json:"patient_id"`
	Mode      string `json:"mode"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.CreateSession(c.Request().Context(), req.PatientID, mode)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	f := SessionFilter{PatientID: c.QueryParam("patient_id")}
	if m := c.QueryParam("mode"); m != "" {
		mode, err := ParseMode(m)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Mode = mode
	}
	return c.JSON(http.StatusOK, h.svc.ListSessions(c.Request().Context(), f))
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) DiscardSession(c echo.Context) error {
	if err := h.svc.DiscardSession(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type runTurnRequest struct {
	Input string `json:"input"`
}

type turnResponse struct {
	Session          *Session `json:"session"`
	AssistantMessage string   `json:"assistant_message"`
	SummaryLines     []string `json:"human_summary"`
	Fallback         bool     `json:"fallback"`
}

func (h *Handler) RunTurn(c echo.Context) error {
	var req runTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, result, err := h.svc.RunTurn(c.Request().Context(), c.Param("id"), req.Input)
	if err != nil {
		return httpError(err)
	}
	resp := turnResponse{Session: sess, SummaryLines: []string{}}
	switch r := result.(type) {
	case *ParsedTurn:
		resp.AssistantMessage = r.AssistantMessage
		resp.SummaryLines = r.SummaryLines
	case *FallbackTurn:
		resp.AssistantMessage = r.AssistantMessage
		resp.Fallback = true
	}
	return c.JSON(http.StatusOK, resp)
}

type recordTurnRequest struct {
	Diff             json.RawMessage `json:"diff"`
	AssistantMessage string          `json:"assistant_message"`
	HumanSummary     json.RawMessage `json:"human_summary"`
	UserInput        *string         `json:"user_input"`
}

// RecordTurn accepts a turn that was structured elsewhere. Unlike model
// replies, a malformed diff here is rejected.
func (h *Handler) RecordTurn(c echo.Context) error {
	var req recordTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	diff := EmptyDiff()
	if !isNull(req.Diff) {
		d, err := DecodeDiff(req.Diff)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		diff = d
	}
	summary, err := decodeSummary(req.HumanSummary)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := h.svc.RecordTurn(c.Request().Context(), c.Param("id"), Turn{
		RawDiff:          &diff,
		AssistantMessage: req.AssistantMessage,
		SummaryLines:     summary,
		UserInput:        req.UserInput,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type commitRequest struct {
	Transcript *string `json:"transcript"`
}

func (h *Handler) Commit(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.ApplyPendingDiff(c.Request().Context(), c.Param("id"), req.Transcript)
	if err != nil {
		return httpError(err)
	}
	if result == nil {
		return c.JSON(http.StatusOK, map[string]string{"message": "no changes to apply"})
	}
	return c.JSON(http.StatusOK, result)
}
