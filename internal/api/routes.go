package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
	"github.com/lumenkb/voicebridge/internal/auth"
	"github.com/lumenkb/voicebridge/internal/websocket"
)

// InitRoutes initializes all API routes. transcripts may be nil when no
// archive backend is configured; the history endpoints then report 503.
func InitRoutes(e *echo.Echo, hub *websocket.Hub, transcripts repositories.TranscriptReader, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicebridge",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/auth/token", func(c echo.Context) error {
		return issueSessionToken(c, logger)
	})

	v1.GET("/sessions", func(c echo.Context) error {
		return listSessions(c, hub, logger)
	})

	v1.GET("/transcripts", func(c echo.Context) error {
		return listTranscripts(c, transcripts, logger)
	})
	v1.GET("/transcripts/:session_id", func(c echo.Context) error {
		return getTranscript(c, transcripts, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, c, logger)
	})
}

// issueSessionToken mints a short-lived JWT for a user about to open a
// voice session. Upstream auth (the SaaS gateway) is expected to sit in
// front of this endpoint; it only translates an identity into a socket
// credential.
func issueSessionToken(c echo.Context, logger *zap.Logger) error {
	var req SessionTokenRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "User ID is required",
		})
	}

	role := entities.Role(req.Role)
	if role == "" {
		role = entities.RoleMember
	}
	if role != entities.RoleMember && role != entities.RoleAdmin {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_role",
			Message: "Role must be member or admin",
		})
	}

	token, err := auth.GenerateSessionToken(req.UserID, role, req.Privileged)
	if err != nil {
		logger.Error("Failed to generate session token",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}

	logger.Info("Session token issued",
		zap.String("user_id", req.UserID),
		zap.String("role", string(role)))

	return c.JSON(http.StatusOK, SessionTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(auth.SessionTokenDuration),
		UserID:    req.UserID,
	})
}

// listSessions reports the live sessions on this instance.
func listSessions(c echo.Context, hub *websocket.Hub, logger *zap.Logger) error {
	snapshots := hub.Snapshot()
	sessions := make([]SessionInfo, 0, len(snapshots))
	for _, snap := range snapshots {
		sessions = append(sessions, SessionInfo{
			SessionID: snap.SessionID,
			UserID:    snap.UserID,
			State:     string(snap.State),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

// listTranscripts returns a user's archived transcripts.
func listTranscripts(c echo.Context, transcripts repositories.TranscriptReader, logger *zap.Logger) error {
	if transcripts == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "archive_disabled",
			Message: "No transcript archive is configured",
		})
	}

	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "user_id query parameter is required",
		})
	}

	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)

	records, err := transcripts.ListByUser(c.Request().Context(), userID, limit)
	if err != nil {
		logger.Error("Failed to list transcripts",
			zap.String("user_id", userID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_error",
			Message: "Failed to list transcripts",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"transcripts": records,
	})
}

// getTranscript returns one archived session transcript.
func getTranscript(c echo.Context, transcripts repositories.TranscriptReader, logger *zap.Logger) error {
	if transcripts == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "archive_disabled",
			Message: "No transcript archive is configured",
		})
	}

	sessionID := c.Param("session_id")
	record, err := transcripts.GetBySession(c.Request().Context(), sessionID)
	if err != nil {
		logger.Error("Failed to get transcript",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_error",
			Message: "Failed to get transcript",
		})
	}
	if record == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No transcript for this session",
		})
	}

	return c.JSON(http.StatusOK, record)
}

// websocketWithAuth handles WebSocket connections with JWT authentication.
// Browsers cannot set headers on WebSocket upgrades, so the token is
// accepted from either the Authorization header or the token query param.
func websocketWithAuth(hub *websocket.Hub, c echo.Context, logger *zap.Logger) error {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}
	if token == "" {
		token = c.QueryParam("token")
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required",
		})
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.UserID == "" {
		logger.Error("WebSocket connection rejected: missing user ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "User ID not found in token",
		})
	}

	identity := websocket.Identity{
		UserID:     claims.UserID,
		Role:       entities.Role(claims.Role),
		Privileged: claims.Privileged,
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)))

	return websocket.HandleWebSocket(hub, c, identity, logger)
}
