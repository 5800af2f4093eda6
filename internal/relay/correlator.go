package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
	"github.com/LoGGGG2402/computer-management-system-sub001/pkg/protocol"
)

// sendCommand handles a frontend's send_command request: reject immediately
// if no live agent connection exists, otherwise dispatch and register a
// pending entry whose result or timeout will resolve the request later.
func (r *Relay) sendCommand(cc *frontendConn, requestID, computerID, commandText string) {
	if _, err := r.dispatchCommand(cc, requestID, computerID, commandText, cc.userID); err != nil {
		r.sendToFrontend(cc, protocol.TypeCommandResponse, requestID, protocol.CommandResponse{
			Status:  protocol.StatusError,
			Command: commandText,
			Code:    protocol.CodeAgentOffline,
			Message: "agent is not connected",
		})
	}
}

// dispatchCommand forwards a command to the target agent and registers the
// pending entry with its timeout timer. caller may be nil for room
// broadcasts whose results are logged rather than returned. Returns the
// generated command ID, or an error if the agent is offline.
//
// The pending entry is inserted and the timer armed while holding the lock;
// the AfterFunc callback runs on its own goroutine and re-takes the lock, so
// it cannot fire "inside" the insertion.
func (r *Relay) dispatchCommand(caller *frontendConn, requestID, computerID, commandText, issuedBy string) (string, error) {
	commandID := uuid.New().String()

	r.mu.Lock()
	ac, ok := r.agents[computerID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("no live agent for computer %s", computerID)
	}

	pc := &pendingCommand{
		commandID:   commandID,
		computerID:  computerID,
		commandText: commandText,
		issuedAt:    time.Now(),
		caller:      caller,
		requestID:   requestID,
	}
	pc.timer = time.AfterFunc(r.commandTimeout, func() { r.expireCommand(commandID) })
	r.pending[commandID] = pc
	r.mu.Unlock()

	r.sendToAgent(ac, protocol.TypeCommandExecute, "", protocol.CommandExecute{
		CommandID: commandID,
		Command:   commandText,
	})

	r.logger.Info("command dispatched",
		"command_id", commandID, "computer_id", computerID, "issued_by", issuedBy)
	r.logAudit(context.Background(), &store.AuditEvent{
		ID:         uuid.New().String(),
		Action:     "command.dispatch",
		UserID:     issuedBy,
		ComputerID: computerID,
		Detail:     auditDetail(map[string]any{"command_id": commandID, "command": commandText}),
		CreatedAt:  time.Now(),
	})

	return commandID, nil
}

// claimPending removes and returns the pending entry for a command ID.
// Deleting under the lock is the claim: exactly one of the agent's result
// and the timeout wins, the other sees nil and stands down.
func (r *Relay) claimPending(commandID string) *pendingCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.pending[commandID]
	if !ok {
		return nil
	}
	delete(r.pending, commandID)
	return pc
}

// completeCommand resolves a pending command with the agent's result. Results
// for unknown or already-expired command IDs are discarded.
func (r *Relay) completeCommand(result protocol.CommandCompleted) {
	pc := r.claimPending(result.CommandID)
	if pc == nil {
		r.logger.Debug("discarding result for unknown command", "command_id", result.CommandID)
		return
	}
	pc.timer.Stop()

	elapsed := time.Since(pc.issuedAt)
	r.logger.Info("command completed",
		"command_id", pc.commandID, "computer_id", pc.computerID,
		"exit_code", result.ExitCode, "elapsed", elapsed)

	if pc.caller != nil {
		r.sendToFrontend(pc.caller, protocol.TypeCommandResponse, pc.requestID, protocol.CommandResponse{
			Status:    protocol.StatusSuccess,
			CommandID: pc.commandID,
			Command:   pc.commandText,
			Stdout:    result.Stdout,
			Stderr:    result.Stderr,
			ExitCode:  result.ExitCode,
		})
	}

	r.logAudit(context.Background(), &store.AuditEvent{
		ID:         uuid.New().String(),
		Action:     "command.complete",
		ComputerID: pc.computerID,
		Detail:     auditDetail(map[string]any{"command_id": pc.commandID, "exit_code": result.ExitCode}),
		CreatedAt:  time.Now(),
	})
}

// expireCommand fires when a dispatched command's deadline passes without a
// result. If the agent answers later, its result finds no pending entry and
// is discarded.
func (r *Relay) expireCommand(commandID string) {
	pc := r.claimPending(commandID)
	if pc == nil {
		return // resolved just before the timer fired
	}

	r.logger.Warn("command timed out",
		"command_id", pc.commandID, "computer_id", pc.computerID, "timeout", r.commandTimeout)

	if pc.caller != nil {
		r.sendToFrontend(pc.caller, protocol.TypeCommandResponse, pc.requestID, protocol.CommandResponse{
			Status:    protocol.StatusError,
			CommandID: pc.commandID,
			Command:   pc.commandText,
			Code:      protocol.CodeCommandTimeout,
			Message:   "command timed out",
		})
	}

	r.logAudit(context.Background(), &store.AuditEvent{
		ID:         uuid.New().String(),
		Action:     "command.timeout",
		ComputerID: pc.computerID,
		Detail:     auditDetail(map[string]any{"command_id": pc.commandID}),
		CreatedAt:  time.Now(),
	})
}

// SendCommandToRoom dispatches a command to every computer in a room that has
// a live agent connection. Results are audited, not returned to a caller.
// Returns the IDs of the computers the command actually reached.
func (r *Relay) SendCommandToRoom(ctx context.Context, roomID, commandText, issuedBy string) ([]string, error) {
	computers, err := r.store.ListComputersByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list computers in room %s: %w", roomID, err)
	}

	var reached []string
	for _, c := range computers {
		if _, err := r.dispatchCommand(nil, "", c.ID, commandText, issuedBy); err != nil {
			continue // offline at dispatch time, skip
		}
		reached = append(reached, c.ID)
	}

	r.logger.Info("room command dispatched",
		"room_id", roomID, "reached", len(reached), "total", len(computers), "issued_by", issuedBy)
	r.logAudit(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    "command.room_dispatch",
		UserID:    issuedBy,
		RoomID:    roomID,
		Detail:    auditDetail(map[string]any{"command": commandText, "reached": len(reached)}),
		CreatedAt: time.Now(),
	})

	return reached, nil
}

// PendingCount reports the number of in-flight commands, for health checks.
func (r *Relay) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}
