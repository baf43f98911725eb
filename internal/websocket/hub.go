package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumenkb/voicebridge/domain/entities"
	"github.com/lumenkb/voicebridge/domain/repositories"
	"github.com/lumenkb/voicebridge/internal/audio"
	"github.com/lumenkb/voicebridge/internal/queue"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config holds the bridge parameters announced to clients on connect and
// applied to every session.
type Config struct {
	// InputSampleRate is the rate the pipeline consumes; inbound audio is
	// resampled down to it.
	InputSampleRate int

	// TTSSampleRate is the rate of outbound synthesized audio.
	TTSSampleRate int

	// DefaultCaptureRate is assumed for clients that omit sampleRate on
	// their start message.
	DefaultCaptureRate int

	// AudioBuffer bounds the chunk channel between transport and pipeline.
	AudioBuffer int

	// PipelineTimeout bounds one pipeline execution. Zero means no
	// timeout; a stalled pipeline then holds the session until disconnect.
	PipelineTimeout time.Duration
}

// DefaultConfig returns the bridge parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		InputSampleRate:    16000,
		TTSSampleRate:      24000,
		DefaultCaptureRate: 48000,
	}
}

// Hub is the process-wide session registry. Sessions are created on connect
// and removed eagerly on cleanup; lifecycle is tied to connection lifetime,
// so there is no background sweep.
type Hub struct {
	// Registered clients, keyed by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	pipeline repositories.AgentPipeline
	tools    repositories.ToolGateway

	// archive receives finished session transcripts; nil disables archiving.
	archive repositories.TranscriptArchive

	config Config
	logger *zap.Logger
}

// NewHub creates a new session hub.
func NewHub(
	pipeline repositories.AgentPipeline,
	tools repositories.ToolGateway,
	archive repositories.TranscriptArchive,
	config Config,
	logger *zap.Logger,
) *Hub {
	if config.InputSampleRate == 0 {
		config.InputSampleRate = 16000
	}
	if config.TTSSampleRate == 0 {
		config.TTSSampleRate = 24000
	}
	if config.DefaultCaptureRate == 0 {
		config.DefaultCaptureRate = 48000
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		pipeline:   pipeline,
		tools:      tools,
		archive:    archive,
		config:     config,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.session.ID] = client
			h.mu.Unlock()
			h.logger.Info("Session registered",
				zap.String("sessionID", client.session.ID),
				zap.String("userID", client.session.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.session.ID]; ok {
				delete(h.clients, client.session.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Session unregistered",
				zap.String("sessionID", client.session.ID))
		}
	}
}

// GetSession returns the client registered under a session ID.
func (h *Hub) GetSession(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	return client, ok
}

// ActiveSessions returns the IDs of all registered sessions.
func (h *Hub) ActiveSessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// SessionSnapshot is a point-in-time view of one registered session.
type SessionSnapshot struct {
	SessionID string
	UserID    string
	State     entities.SessionState
}

// Snapshot reports the current state of every registered session.
func (h *Hub) Snapshot() []SessionSnapshot {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	snapshots := make([]SessionSnapshot, 0, len(clients))
	for _, client := range clients {
		client.mutex.Lock()
		snapshots = append(snapshots, SessionSnapshot{
			SessionID: client.session.ID,
			UserID:    client.session.UserID,
			State:     client.session.State,
		})
		client.mutex.Unlock()
	}
	return snapshots
}

// SendToSession queues a text message for one session.
func (h *Hub) SendToSession(sessionID string, payload []byte) error {
	h.mu.RLock()
	client, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	select {
	case client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", sessionID)
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Identity is the authenticated principal behind a connection, extracted
// from the JWT before the upgrade.
type Identity struct {
	UserID     string
	Role       entities.Role
	Privileged bool
}

// HandleWebSocket upgrades an authenticated request and starts the session
// bridge for it.
func HandleWebSocket(hub *Hub, c echo.Context, identity Identity, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	session := entities.NewSession(uuid.NewString(), identity.UserID, identity.Role, identity.Privileged)

	sessionLogger := logger.With(zap.String("sessionID", session.ID))
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan WriteData, 256),
		session: session,
		queue:   queue.New(sessionLogger),
		logger:  sessionLogger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	client.handshake()

	return nil
}

// Client is a middleman between the websocket connection and the pipeline.
// It owns its session exclusively: every mutation happens under mutex, so
// the session is single-threaded at the protocol level.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	session *entities.Session

	// capture is the audio manager for the in-flight listening interaction.
	capture *audio.Manager

	// captureRate is the client's declared rate for inbound binary frames.
	captureRate int

	// exec is the in-flight audio pipeline execution; textExec the active
	// text one. At most one of each per session.
	exec     repositories.PipelineExecution
	textExec repositories.PipelineExecution

	// generation increments on barge-in and cleanup; events from an older
	// generation are discarded rather than forwarded.
	generation uint64

	// queue serializes text interactions in arrival order.
	queue *queue.Queue

	// idleWait releases deferred text tasks once the voice track returns
	// the session to idle. Lazily created under mutex.
	idleWait *sync.Cond

	closed bool

	logger *zap.Logger

	mutex sync.Mutex
}

// readPump pumps messages from the websocket connection into the bridge.
func (c *Client) readPump() {
	defer func() {
		c.cleanup()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryFrame(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the bridge to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
