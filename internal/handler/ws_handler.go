package handler

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the live exam stream.
type WSHandler struct {
	sessionService *service.ExamSessionService
	syncInterval   time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, syncInterval time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	if syncInterval <= 0 {
		syncInterval = 15 * time.Second
	}
	return &WSHandler{
		sessionService: sessionService,
		syncInterval:   syncInterval,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// streamConn is the per-connection state.
type streamConn struct {
	conn      *ws.Conn
	sessionID uuid.UUID
	userID    int
	graded    atomic.Bool
	log       zerolog.Logger
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/sessions/:session_id/stream?token=...
// Autosave and submit over one connection, with the server pushing the
// authoritative countdown and the result when the deadline passes.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership is checked before the upgrade so failures are plain HTTP.
	view, err := h.sessionService.GetSnapshot(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sc := &streamConn{
		conn:      ws.Wrap(raw),
		sessionID: sessionID,
		userID:    claims.UserID,
		log: h.log.With().
			Int("user_id", claims.UserID).
			Str("session_id", sessionID.String()).
			Logger(),
	}
	defer sc.conn.Close()

	sc.log.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.pushState(ctx, sc, view)
	go h.syncLoop(ctx, sc)

	for {
		var msg ws.RequestPayload
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sc.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				sc.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, sc, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, sc)
		case ws.ActionSync:
			h.handleSync(ctx, sc)
		case ws.ActionPing:
			sc.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			sc.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			sc.conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// syncLoop pushes the snapshot on every tick. When the deadline closes the
// session it pushes the result even though the client asked for nothing.
func (h *WSHandler) syncLoop(ctx context.Context, sc *streamConn) {
	ticker := time.NewTicker(h.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.handleSync(ctx, sc)
			if sc.graded.Load() {
				return
			}
		}
	}
}

func (h *WSHandler) handleSync(ctx context.Context, sc *streamConn) {
	view, err := h.sessionService.GetSnapshot(ctx, sc.sessionID, sc.userID)
	if err != nil {
		h.writeError(sc, err)
		return
	}
	h.pushState(ctx, sc, view)
}

func (h *WSHandler) pushState(ctx context.Context, sc *streamConn, view *model.SessionView) {
	if err := sc.conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Session: view}); err != nil {
		sc.log.Debug().Err(err).Msg("State push failed")
		return
	}
	if view.State == model.SessionStateInProgress {
		return
	}
	result, err := h.sessionService.GetResult(ctx, sc.sessionID, sc.userID)
	if err != nil {
		h.writeError(sc, err)
		return
	}
	h.pushGraded(sc, result)
}

func (h *WSHandler) handleAutosave(ctx context.Context, sc *streamConn, msg *ws.RequestPayload) {
	if msg.QID == "" || msg.Answer == nil {
		sc.conn.WriteError(string(response.ErrValidation), "q_id and ans are required")
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		sc.conn.WriteError(string(response.ErrInvalidID), "invalid q_id format")
		return
	}

	err = h.sessionService.SaveAnswer(ctx, sc.sessionID, sc.userID, questionID, *msg.Answer)
	if err != nil {
		h.writeError(sc, err)
		return
	}

	sc.conn.WriteTyped(ws.AutosaveResponse{Event: ws.EventSuccess, Status: "saved", QID: msg.QID})
}

func (h *WSHandler) handleSubmit(ctx context.Context, sc *streamConn) {
	result, err := h.sessionService.Submit(ctx, sc.sessionID, sc.userID)
	if err != nil {
		h.writeError(sc, err)
		return
	}

	sc.log.Info().
		Int("score", result.TotalScore).
		Int("total", result.TotalQuestions).
		Int("percentage", result.Percentage).
		Msg("Exam submitted over stream")

	// An explicit submit always gets an answer, even on retry.
	sc.graded.Store(true)
	writeGraded(sc, result)
}

// pushGraded sends an unsolicited result at most once per connection.
func (h *WSHandler) pushGraded(sc *streamConn, result *model.ExamResult) {
	if sc.graded.Swap(true) {
		return
	}
	writeGraded(sc, result)
}

func writeGraded(sc *streamConn, result *model.ExamResult) {
	sc.conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Status: string(result.FinalState()), Result: result})
}

func (h *WSHandler) writeError(sc *streamConn, err error) {
	_, code, known := mapError(err)
	if !known {
		sc.log.Error().Err(err).Msg("Stream operation failed")
	}
	sc.conn.WriteError(string(code), response.GetMessage(code))
}
