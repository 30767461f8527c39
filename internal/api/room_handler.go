package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sprout-budget-go/internal/core"
	"sprout-budget-go/internal/middleware"
)

// RoomHandler handles room lifecycle API endpoints.
type RoomHandler struct {
	sessions *core.SessionManager
	logger   *zap.Logger
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(sessions *core.SessionManager, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{sessions: sessions, logger: logger}
}

// session resolves the authenticated user's session, creating it on
// first use. A nil return means the response has been written.
func (h *RoomHandler) session(c *gin.Context) *core.Session {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		h.logger.Error("authenticated route reached without user in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication error: user not found in context"})
		return nil
	}
	s, err := h.sessions.GetOrCreate(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("session creation failed", zap.String("user", user.ID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Could not start a session", Details: err.Error()})
		return nil
	}
	return s
}

// CreateRoom handles POST /api/v1/rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	// The body is optional; room names are not required.
	var req CreateRoomRequest
	_ = c.ShouldBindJSON(&req)

	code, err := s.Manager.CreateRoom(c.Request.Context(), req.RoomName)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to create room", Details: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, CreateRoomResponse{Code: code, RoomName: req.RoomName})
}

// JoinRoom handles POST /api/v1/rooms/join.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	err := s.Manager.JoinRoom(c.Request.Context(), req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, SuccessResponse{Message: "Joined room"})
	case errors.Is(err, core.ErrInvalidRoomCode):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid room code", Details: err.Error()})
	case errors.Is(err, core.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found", Details: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to join room", Details: err.Error()})
	}
}

// LeaveRoom handles POST /api/v1/rooms/leave. Leaving while not in a
// room succeeds without doing anything.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	if err := s.Manager.Leave(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to leave room", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Left room"})
}

// SwitchToOwnedRoom handles POST /api/v1/rooms/owned/switch. 404 here
// means the user has no (or a stale, now cleared) owned room and
// should create or join one instead.
func (h *RoomHandler) SwitchToOwnedRoom(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	err := s.Manager.SwitchToOwnedRoom(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, SuccessResponse{Message: "Switched to owned room"})
	case errors.Is(err, core.ErrNoOwnedRoom):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No owned room", Details: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to switch to owned room", Details: err.Error()})
	}
}

// SwitchToPersonal handles POST /api/v1/rooms/personal/switch. The
// user keeps their room membership; only the active view changes.
func (h *RoomHandler) SwitchToPersonal(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	if err := s.Manager.SwitchToPersonal(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to switch view", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Switched to personal view"})
}

// GetState handles GET /api/v1/state: lifecycle state, derived
// presence, and pending notices (which this call drains).
func (h *RoomHandler) GetState(c *gin.Context) {
	s := h.session(c)
	if s == nil {
		return
	}
	state, roomID, roomName := s.Manager.Status()
	c.JSON(http.StatusOK, StateResponse{
		State:    state,
		RoomID:   roomID,
		RoomName: roomName,
		Presence: s.Manager.Presence().Snapshot(),
		Notices:  s.Manager.DrainNotices(),
	})
}

// CloseSession handles POST /api/v1/session/close: a clean logout
// that leaves presence gracefully instead of waiting for idle expiry.
func (h *RoomHandler) CloseSession(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authentication error: user not found in context"})
		return
	}
	if err := h.sessions.CloseSession(c.Request.Context(), user.ID); err != nil {
		h.logger.Warn("clean session close failed", zap.String("user", user.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Failed to close session", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Session closed"})
}
