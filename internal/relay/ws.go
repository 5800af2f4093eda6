package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
	"github.com/LoGGGG2402/computer-management-system-sub001/pkg/protocol"
)

func marshalEnvelope(msgType, id string, payload any) ([]byte, error) {
	return json.Marshal(protocol.Envelope{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// decodePayload re-marshals the envelope's generic payload into a typed struct.
func decodePayload(payload any, dst any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// HandleWS serves the single WebSocket endpoint shared by agents and
// frontends. A fresh socket is inert until its first message authenticates
// it; anything else gets an error response and a forced close.
func (r *Relay) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Frontend limit until the socket proves it is an agent.
	conn.SetReadLimit(r.maxFrontendMsgSize)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		r.logger.Debug("read before authentication failed", "error", err)
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		r.sendToConn(conn, protocol.TypeAuthResponse, "", protocol.AuthResponse{
			Status: protocol.StatusError, Message: "invalid message",
		})
		return
	}

	switch env.Type {
	case protocol.TypeAgentAuthenticate:
		r.serveAgent(conn, env)
	case protocol.TypeFrontendAuthenticate:
		r.serveFrontend(conn, env)
	default:
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "authentication required",
		})
	}
}

// --- Agent side ---

func (r *Relay) serveAgent(conn *websocket.Conn, env protocol.Envelope) {
	var authMsg protocol.AgentAuthenticate
	if err := decodePayload(env.Payload, &authMsg); err != nil || authMsg.AgentID == "" || authMsg.Token == "" {
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "agent_id and token are required",
		})
		return
	}

	ctx := context.Background()
	if !r.agentAuth.ValidateAgentToken(ctx, authMsg.AgentID, authMsg.Token) {
		r.logger.Warn("agent authentication failed", "computer_id", authMsg.AgentID)
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "invalid agent credentials",
		})
		return
	}

	conn.SetReadLimit(r.maxAgentMsgSize)

	ac := &agentConn{computerID: authMsg.AgentID, conn: conn}

	r.mu.Lock()
	if existing, ok := r.agents[authMsg.AgentID]; ok {
		r.logger.Warn("agent reconnect: closing previous connection", "computer_id", authMsg.AgentID)
		_ = existing.conn.Close()
	}
	r.agents[authMsg.AgentID] = ac
	r.mu.Unlock()

	if err := r.store.SetComputerOnline(ctx, authMsg.AgentID, true); err != nil {
		r.logger.Warn("failed to mark computer online", "computer_id", authMsg.AgentID, "error", err)
	}
	r.logAudit(ctx, &store.AuditEvent{
		ID: uuid.New().String(), Action: "agent.connect", ComputerID: authMsg.AgentID, CreatedAt: time.Now(),
	})

	r.sendToAgent(ac, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{Status: protocol.StatusSuccess})
	r.logger.Info("agent connected", "computer_id", authMsg.AgentID)

	defer func() {
		// A superseding reconnect may already own the registry slot; only
		// the current connection tears down the computer's online state.
		r.mu.Lock()
		current := r.agents[authMsg.AgentID] == ac
		if current {
			delete(r.agents, authMsg.AgentID)
		}
		r.mu.Unlock()

		if current {
			if err := r.store.SetComputerOnline(ctx, authMsg.AgentID, false); err != nil {
				r.logger.Warn("failed to mark computer offline", "computer_id", authMsg.AgentID, "error", err)
			}
			r.logAudit(ctx, &store.AuditEvent{
				ID: uuid.New().String(), Action: "agent.disconnect", ComputerID: authMsg.AgentID, CreatedAt: time.Now(),
			})
			r.logger.Info("agent disconnected", "computer_id", authMsg.AgentID)
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("agent read error", "computer_id", authMsg.AgentID, "error", err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			r.logger.Warn("invalid message from agent", "computer_id", authMsg.AgentID, "error", err)
			continue
		}

		r.handleAgentMessage(ac, env)
	}
}

func (r *Relay) handleAgentMessage(ac *agentConn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAgentStatusUpdate:
		var sample protocol.StatusUpdate
		if err := decodePayload(env.Payload, &sample); err != nil {
			r.logger.Warn("malformed status update", "computer_id", ac.computerID, "error", err)
			return
		}
		r.broadcastStatus(ac.computerID, sample)

	case protocol.TypeCommandCompleted:
		var result protocol.CommandCompleted
		if err := decodePayload(env.Payload, &result); err != nil || result.CommandID == "" {
			r.logger.Warn("malformed command result", "computer_id", ac.computerID)
			return
		}
		r.completeCommand(result)

	case protocol.TypeAgentReportError:
		var report protocol.ReportError
		if err := decodePayload(env.Payload, &report); err != nil || report.Message == "" {
			r.logger.Warn("malformed error report", "computer_id", ac.computerID)
			return
		}
		ctx := context.Background()
		if err := r.store.CreateErrorReport(ctx, &store.ErrorReport{
			ID:         uuid.New().String(),
			ComputerID: ac.computerID,
			Kind:       report.Kind,
			Message:    report.Message,
			Detail:     report.Detail,
			CreatedAt:  time.Now(),
		}); err != nil {
			r.logger.Warn("failed to persist error report", "computer_id", ac.computerID, "error", err)
			return
		}
		r.logger.Info("agent error report", "computer_id", ac.computerID, "kind", report.Kind)

	default:
		r.logger.Warn("unknown agent message type", "type", env.Type, "computer_id", ac.computerID)
	}
}

// broadcastStatus fans a status sample out to the computer's current
// subscribers and persists the hardware fields. The timestamp is assigned
// here, not taken from the agent. Zero subscribers is a no-op.
func (r *Relay) broadcastStatus(computerID string, sample protocol.StatusUpdate) {
	update := protocol.StatusUpdated{
		ComputerID: computerID,
		Status:     sample.Status,
		CPUUsage:   sample.CPUUsage,
		RAMUsage:   sample.RAMUsage,
		DiskUsage:  sample.DiskUsage,
		Timestamp:  time.Now(),
	}

	r.mu.RLock()
	subs := r.subscribers[computerID]
	targets := make([]*frontendConn, 0, len(subs))
	for _, cc := range subs {
		targets = append(targets, cc)
	}
	r.mu.RUnlock()

	for _, cc := range targets {
		r.sendToFrontend(cc, protocol.TypeStatusUpdated, "", update)
	}

	if err := r.store.UpdateComputerHardware(context.Background(), computerID,
		sample.CPUUsage, sample.RAMUsage, sample.DiskUsage); err != nil {
		r.logger.Warn("failed to persist hardware sample", "computer_id", computerID, "error", err)
	}
}

// --- Frontend side ---

func (r *Relay) serveFrontend(conn *websocket.Conn, env protocol.Envelope) {
	var authMsg protocol.FrontendAuthenticate
	if err := decodePayload(env.Payload, &authMsg); err != nil || authMsg.Token == "" {
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "token is required",
		})
		return
	}

	ctx := context.Background()
	identity, err := r.authProvider.ValidateToken(ctx, authMsg.Token)
	if err != nil {
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "invalid token",
		})
		return
	}

	connID := uuid.New().String()
	cc := &frontendConn{
		id:       connID,
		userID:   identity.UserID,
		username: identity.Username,
		role:     identity.Role,
		conn:     conn,
	}

	r.mu.Lock()
	if r.connsByUser[identity.UserID] >= r.maxConnsPerUser {
		r.mu.Unlock()
		r.logger.Warn("too many connections for user", "user", identity.Username, "limit", r.maxConnsPerUser)
		r.sendToConn(conn, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{
			Status: protocol.StatusError, Message: "too many connections",
		})
		return
	}
	r.connsByUser[identity.UserID]++
	r.frontends[connID] = cc
	r.mu.Unlock()

	r.sendToFrontend(cc, protocol.TypeAuthResponse, env.ID, protocol.AuthResponse{Status: protocol.StatusSuccess})
	r.logger.Info("frontend connected", "user", identity.Username, "conn_id", connID)

	defer func() {
		r.mu.Lock()
		delete(r.frontends, connID)
		r.connsByUser[cc.userID]--
		if r.connsByUser[cc.userID] <= 0 {
			delete(r.connsByUser, cc.userID)
		}
		// Remove from every subscription set.
		for computerID, subs := range r.subscribers {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(r.subscribers, computerID)
			}
		}
		r.mu.Unlock()
		r.logger.Info("frontend disconnected", "user", identity.Username, "conn_id", connID)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("frontend read error", "conn_id", connID, "error", err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			r.logger.Warn("invalid message from frontend", "conn_id", connID, "error", err)
			continue
		}

		r.handleFrontendMessage(cc, env)
	}
}

func (r *Relay) handleFrontendMessage(cc *frontendConn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeFrontendSubscribe:
		var sub protocol.Subscribe
		if err := decodePayload(env.Payload, &sub); err != nil || sub.ComputerID == "" {
			r.sendToFrontend(cc, protocol.TypeSubscribeResponse, env.ID, protocol.SubscribeResponse{
				Status: protocol.StatusError, Message: "computer_id is required",
			})
			return
		}
		r.subscribe(cc, env.ID, sub.ComputerID)

	case protocol.TypeFrontendUnsubscribe:
		var unsub protocol.Unsubscribe
		if err := decodePayload(env.Payload, &unsub); err != nil || unsub.ComputerID == "" {
			r.sendToFrontend(cc, protocol.TypeUnsubscribeResponse, env.ID, protocol.SubscribeResponse{
				Status: protocol.StatusError, Message: "computer_id is required",
			})
			return
		}

		// No authorization needed to stop watching; idempotent.
		r.mu.Lock()
		if subs, ok := r.subscribers[unsub.ComputerID]; ok {
			delete(subs, cc.id)
			if len(subs) == 0 {
				delete(r.subscribers, unsub.ComputerID)
			}
		}
		r.mu.Unlock()

		r.sendToFrontend(cc, protocol.TypeUnsubscribeResponse, env.ID, protocol.SubscribeResponse{
			Status: protocol.StatusSuccess, ComputerID: unsub.ComputerID,
		})

	case protocol.TypeFrontendSendCommand:
		var req protocol.SendCommand
		if err := decodePayload(env.Payload, &req); err != nil || req.ComputerID == "" || req.Command == "" {
			r.sendToFrontend(cc, protocol.TypeCommandResponse, env.ID, protocol.CommandResponse{
				Status: protocol.StatusError, Message: "computer_id and command are required",
			})
			return
		}
		r.sendCommand(cc, env.ID, req.ComputerID, req.Command)

	default:
		r.logger.Warn("unknown frontend message type", "type", env.Type, "user", cc.username)
	}
}

// subscribe enforces the room-access precondition and adds the connection to
// the computer's subscription set. Re-subscribing is a no-op.
func (r *Relay) subscribe(cc *frontendConn, requestID, computerID string) {
	ctx := context.Background()

	computer, err := r.store.GetComputer(ctx, computerID)
	if err != nil || computer == nil {
		r.sendToFrontend(cc, protocol.TypeSubscribeResponse, requestID, protocol.SubscribeResponse{
			Status: protocol.StatusError, ComputerID: computerID, Message: "computer not found",
		})
		return
	}

	if cc.role != "admin" {
		hasAccess, err := r.store.HasRoomAccess(ctx, cc.userID, computer.RoomID)
		if err != nil {
			r.sendToFrontend(cc, protocol.TypeSubscribeResponse, requestID, protocol.SubscribeResponse{
				Status: protocol.StatusError, ComputerID: computerID, Message: "failed to check room access",
			})
			return
		}
		if !hasAccess {
			r.sendToFrontend(cc, protocol.TypeSubscribeResponse, requestID, protocol.SubscribeResponse{
				Status: protocol.StatusError, ComputerID: computerID, Message: "no access to this room",
			})
			return
		}
	}

	r.mu.Lock()
	if r.subscribers[computerID] == nil {
		r.subscribers[computerID] = make(map[string]*frontendConn)
	}
	r.subscribers[computerID][cc.id] = cc
	r.mu.Unlock()

	r.sendToFrontend(cc, protocol.TypeSubscribeResponse, requestID, protocol.SubscribeResponse{
		Status: protocol.StatusSuccess, ComputerID: computerID,
	})
}

func (r *Relay) logAudit(ctx context.Context, event *store.AuditEvent) {
	if err := r.store.LogAuditEvent(ctx, event); err != nil {
		r.logger.Warn("failed to log audit event", "action", event.Action, "error", err)
	}
}

// auditDetail builds a small JSON detail blob, ignoring marshal errors.
func auditDetail(kv map[string]any) json.RawMessage {
	data, _ := json.Marshal(kv)
	return data
}
