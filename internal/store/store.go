// Package store defines the storage interface for the hub and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for the hub.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Rooms
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	UpdateRoom(ctx context.Context, room *Room) error
	DeleteRoom(ctx context.Context, id string) error

	// Computers
	CreateComputer(ctx context.Context, c *Computer) error
	GetComputer(ctx context.Context, id string) (*Computer, error)
	ListComputers(ctx context.Context) ([]Computer, error)
	ListComputersByRoom(ctx context.Context, roomID string) ([]Computer, error)
	SetComputerOnline(ctx context.Context, id string, online bool) error
	UpdateComputerHardware(ctx context.Context, id string, cpu, ram, disk float64) error
	SetComputerTokenHash(ctx context.Context, id, tokenHash string) error
	DeleteComputer(ctx context.Context, id string) error

	// Room access grants
	GrantRoomAccess(ctx context.Context, userID, roomID string) error
	RevokeRoomAccess(ctx context.Context, userID, roomID string) error
	HasRoomAccess(ctx context.Context, userID, roomID string) (bool, error)
	ListUserRooms(ctx context.Context, userID string) ([]string, error)

	// Agent error reports
	CreateErrorReport(ctx context.Context, report *ErrorReport) error
	ListErrorReports(ctx context.Context, computerID string, includeResolved bool, limit, offset int) ([]ErrorReport, error)
	ResolveErrorReport(ctx context.Context, id string) error

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error)

	// Data retention
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)
	PurgeResolvedErrorReports(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents a dashboard user.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin" or "user"
	CreatedAt    time.Time `json:"created_at"`
}

// Room represents a physical lab or classroom.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Computer represents a managed lab machine. TokenHash is the SHA-256 hex
// digest of the agent token; the plaintext token is shown once at creation
// and never stored.
type Computer struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname,omitempty"`
	TokenHash string    `json:"-"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	CPUUsage  float64   `json:"cpu_usage"`
	RAMUsage  float64   `json:"ram_usage"`
	DiskUsage float64   `json:"disk_usage"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorReport is a fault pushed by an agent.
type ErrorReport struct {
	ID         string    `json:"id"`
	ComputerID string    `json:"computer_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	UserID     string          `json:"user_id,omitempty"`
	ComputerID string          `json:"computer_id,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
