// Package protocol defines the wire protocol exchanged between the hub and
// its two client populations (Windows agents and dashboard frontends) over
// WebSocket.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure. Requests that expect a reply
// carry an "id"; the reply event echoes it so the caller can correlate.
package protocol

import "time"

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"` // request/reply correlation
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// --- Authentication ---

// FrontendAuthenticate is the first message a dashboard connection must send.
type FrontendAuthenticate struct {
	Token string `json:"token"`
}

// AgentAuthenticate is the first message an agent connection must send.
// AgentID is the computer's unique identifier assigned at registration.
type AgentAuthenticate struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// AuthResponse is the hub's reply to either authenticate message.
// Status is "success" or "error"; on error the socket is closed.
type AuthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// --- Subscriptions ---

// Subscribe asks for live status updates of one computer.
type Subscribe struct {
	ComputerID string `json:"computer_id"`
}

// Unsubscribe stops live status updates of one computer.
type Unsubscribe struct {
	ComputerID string `json:"computer_id"`
}

// SubscribeResponse acknowledges a subscribe or unsubscribe request.
type SubscribeResponse struct {
	Status     string `json:"status"`
	ComputerID string `json:"computer_id"`
	Message    string `json:"message,omitempty"`
}

// --- Telemetry ---

// StatusUpdate is a live hardware sample pushed by an agent.
type StatusUpdate struct {
	Status    string  `json:"status"` // "online"
	CPUUsage  float64 `json:"cpu_usage"`
	RAMUsage  float64 `json:"ram_usage"`
	DiskUsage float64 `json:"disk_usage"`
}

// StatusUpdated is fanned out to the computer's subscribers. The timestamp
// is assigned by the hub at receipt, never trusted from the agent.
type StatusUpdated struct {
	ComputerID string    `json:"computer_id"`
	Status     string    `json:"status"`
	CPUUsage   float64   `json:"cpu_usage"`
	RAMUsage   float64   `json:"ram_usage"`
	DiskUsage  float64   `json:"disk_usage"`
	Timestamp  time.Time `json:"timestamp"`
}

// --- Command dispatch ---

// SendCommand asks the hub to run a command on one computer. The envelope ID
// correlates the eventual CommandResponse.
type SendCommand struct {
	ComputerID string `json:"computer_id"`
	Command    string `json:"command"`
}

// CommandExecute is forwarded by the hub to the target agent.
type CommandExecute struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
}

// CommandCompleted is the agent's result for a previously forwarded command.
type CommandCompleted struct {
	CommandID string `json:"command_id"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
}

// CommandResponse resolves the frontend's SendCommand request. On success it
// carries the agent's result plus the original command text for display; on
// error, Code distinguishes "agent_offline" from "command_timeout".
type CommandResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"command_id,omitempty"`
	Command   string `json:"command,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// --- Error reporting ---

// ReportError is pushed by an agent when it hits a local fault (service
// failure, update failure, hardware warning). Persisted for operators.
type ReportError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// --- Event type constants ---

const (
	// Inbound (client -> hub)
	TypeFrontendAuthenticate = "frontend:authenticate"
	TypeAgentAuthenticate    = "agent:authenticate"
	TypeFrontendSubscribe    = "frontend:subscribe"
	TypeFrontendUnsubscribe  = "frontend:unsubscribe"
	TypeFrontendSendCommand  = "frontend:send_command"
	TypeAgentStatusUpdate    = "agent:status_update"
	TypeAgentReportError     = "agent:report_error"
	TypeCommandCompleted     = "command:completed"

	// Outbound (hub -> client)
	TypeAuthResponse        = "auth_response"
	TypeSubscribeResponse   = "subscribe_response"
	TypeUnsubscribeResponse = "unsubscribe_response"
	TypeStatusUpdated       = "computer:status_updated"
	TypeCommandExecute      = "command:execute"
	TypeCommandResponse     = "command_response"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes carried in CommandResponse.Code.
const (
	CodeAgentOffline   = "agent_offline"
	CodeCommandTimeout = "command_timeout"
)
