package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/lumenkb/voicebridge/adapters/llm"
	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/internal/auth"
	"github.com/lumenkb/voicebridge/internal/websocket"
	"github.com/lumenkb/voicebridge/usecase"
)

func newTestServer(t *testing.T) (*httptest.Server, *websocket.Hub) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	pipeline := llm.NewScriptedPipeline(nil, logger)
	tools := usecase.NewToolGateway(logger)
	hub := websocket.NewHub(pipeline, tools, nil, websocket.DefaultConfig(), logger)
	go hub.Run()

	e := echo.New()
	InitRoutes(e, hub, nil, logger)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, hub
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestIssueSessionToken(t *testing.T) {
	server, _ := newTestServer(t)

	body := `{"user_id":"user-7","role":"admin","privileged":true}`
	resp, err := http.Post(server.URL+"/api/v1/auth/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /auth/token: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var tokenResp SessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tokenResp.UserID != "user-7" {
		t.Errorf("UserID = %q, want %q", tokenResp.UserID, "user-7")
	}

	claims, err := auth.ValidateToken(tokenResp.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Role != "admin" || !claims.Privileged {
		t.Errorf("claims = %+v, want admin/privileged", claims)
	}
}

func TestIssueSessionToken_Rejections(t *testing.T) {
	server, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing user", `{"role":"member"}`},
		{"bad role", `{"user_id":"u","role":"superuser"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/v1/auth/token", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestTranscripts_ArchiveDisabled(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/transcripts?user_id=user-1")
	if err != nil {
		t.Fatalf("GET /transcripts: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	server, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestWebSocket_ConnectsWithQueryToken(t *testing.T) {
	server, _ := newTestServer(t)

	token, err := auth.GenerateSessionToken("user-ws", entities.RoleMember, false)
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Handshake emits a config message followed by the idle state.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var config struct {
		Type          string `json:"type"`
		TTSSampleRate int    `json:"ttsSampleRate"`
	}
	if err := conn.ReadJSON(&config); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if config.Type != "config" || config.TTSSampleRate != 24000 {
		t.Errorf("config = %+v, want config/24000", config)
	}

	var state struct {
		Type  string `json:"type"`
		State string `json:"state"`
	}
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state.Type != "state" || state.State != "idle" {
		t.Errorf("state = %+v, want state/idle", state)
	}

	// The session listing should now show the connection.
	resp, err := http.Get(server.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Sessions) != 1 || listing.Sessions[0].UserID != "user-ws" {
		t.Errorf("sessions = %+v, want one session for user-ws", listing.Sessions)
	}
}
