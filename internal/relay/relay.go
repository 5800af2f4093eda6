// Package relay manages WebSocket connections for both Windows agents and
// dashboard frontends, and routes status updates and commands between them.
//
// All live state — the connection registry, the per-computer subscription
// directory, and the pending-command table — is in-memory and guarded by a
// single RWMutex. A process restart drops every connection and in-flight
// command; clients reconnect and resubscribe.
package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/auth"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients (agents)
			}
			return originSet[origin]
		},
	}
}

// Relay owns the live connection state and routes messages.
type Relay struct {
	store        store.Store
	authProvider auth.Provider
	agentAuth    auth.AgentAuthProvider
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	commandTimeout     time.Duration
	maxFrontendMsgSize int64
	maxAgentMsgSize    int64
	maxConnsPerUser    int

	mu          sync.RWMutex
	agents      map[string]*agentConn               // computer_id -> conn
	frontends   map[string]*frontendConn            // conn_id -> conn
	subscribers map[string]map[string]*frontendConn // computer_id -> conn_id -> conn
	pending     map[string]*pendingCommand          // command_id -> in-flight command
	connsByUser map[string]int
}

type agentConn struct {
	computerID string
	conn       *websocket.Conn
	mu         sync.Mutex
}

type frontendConn struct {
	id       string
	userID   string
	username string
	role     string
	conn     *websocket.Conn
	mu       sync.Mutex
}

// pendingCommand is one dispatched command awaiting its result. caller is
// nil for fire-and-forget room broadcasts.
type pendingCommand struct {
	commandID   string
	computerID  string
	commandText string
	issuedAt    time.Time
	caller      *frontendConn
	requestID   string // envelope id echoed in the command_response
	timer       *time.Timer
}

// Options configures the Relay.
type Options struct {
	CommandTimeout      time.Duration // deadline for an agent's command result (default 30s)
	AllowedOrigins      []string      // for WebSocket origin check
	MaxFrontendMsgBytes int64         // max WebSocket message size from frontends (default 64KB)
	MaxAgentMsgBytes    int64         // max WebSocket message size from agents (default 256KB)
	MaxConnsPerUser     int           // max dashboard connections per user (default 10)
}

// New creates a new Relay.
func New(s store.Store, ap auth.Provider, aa auth.AgentAuthProvider, logger *slog.Logger, opts Options) *Relay {
	frontendLimit := opts.MaxFrontendMsgBytes
	if frontendLimit == 0 {
		frontendLimit = 64 * 1024
	}
	agentLimit := opts.MaxAgentMsgBytes
	if agentLimit == 0 {
		agentLimit = 256 * 1024
	}
	timeout := opts.CommandTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxConns := opts.MaxConnsPerUser
	if maxConns == 0 {
		maxConns = 10
	}

	return &Relay{
		store:              s,
		authProvider:       ap,
		agentAuth:          aa,
		logger:             logger.With("component", "relay"),
		upgrader:           makeUpgrader(opts.AllowedOrigins),
		commandTimeout:     timeout,
		maxFrontendMsgSize: frontendLimit,
		maxAgentMsgSize:    agentLimit,
		maxConnsPerUser:    maxConns,
		agents:             make(map[string]*agentConn),
		frontends:          make(map[string]*frontendConn),
		subscribers:        make(map[string]map[string]*frontendConn),
		pending:            make(map[string]*pendingCommand),
		connsByUser:        make(map[string]int),
	}
}

// AgentOnline reports whether a live agent connection exists for a computer.
func (r *Relay) AgentOnline(computerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[computerID]
	return ok
}

// sendToFrontend marshals an envelope and writes it under the connection's
// write mutex.
func (r *Relay) sendToFrontend(cc *frontendConn, msgType, id string, payload any) {
	data, err := marshalEnvelope(msgType, id, payload)
	if err != nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logger.Debug("send to frontend failed", "conn_id", cc.id, "error", err)
	}
}

// sendToAgent marshals an envelope and writes it under the connection's
// write mutex.
func (r *Relay) sendToAgent(ac *agentConn, msgType, id string, payload any) {
	data, err := marshalEnvelope(msgType, id, payload)
	if err != nil {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if err := ac.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logger.Warn("send to agent failed", "computer_id", ac.computerID, "error", err)
	}
}

// sendToConn writes to a raw connection not yet in the registry (used by the
// authentication gate before or instead of admitting the socket).
func (r *Relay) sendToConn(conn *websocket.Conn, msgType, id string, payload any) {
	data, err := marshalEnvelope(msgType, id, payload)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
