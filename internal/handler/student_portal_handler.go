package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam taking).
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Creates a session, or returns the open one (recovery after reload).
func (h *StudentPortalHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, created, err := h.sessionService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"session_id": view.SessionID, "snapshot": view})
}

// GetSession godoc
// GET /api/v1/student/sessions/:session_id
// Returns the session snapshot. Safe to poll.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	view, err := h.sessionService.GetSnapshot(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// SaveAnswer godoc
// POST /api/v1/student/sessions/:session_id/answers
// Upserts one answer. Retrying is safe.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sessionService.SaveAnswer(c.Request.Context(), sessionID, claims.UserID, req.QuestionID, *req.SelectedIndex)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
// Finalizes the session. Repeated submits return the same result.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/student/sessions/:session_id/result
// Returns the result once the session is closed.
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	claims, sessionID, ok := sessionParams(c)
	if !ok {
		return
	}

	result, err := h.sessionService.GetResult(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// sessionParams extracts the caller and the :session_id path param, writing
// the failure response itself when either is missing.
func sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}
