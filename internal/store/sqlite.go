package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the
	// pool see the same data. Without this, each pooled connection gets a
	// separate empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS computers (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id),
			name TEXT NOT NULL DEFAULT '',
			hostname TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL DEFAULT '',
			online INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			cpu_usage REAL NOT NULL DEFAULT 0,
			ram_usage REAL NOT NULL DEFAULT 0,
			disk_usage REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_computers_room_id ON computers(room_id)`,
		`CREATE TABLE IF NOT EXISTS room_access (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS error_reports (
			id TEXT PRIMARY KEY,
			computer_id TEXT NOT NULL REFERENCES computers(id),
			kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_reports_computer_id ON error_reports(computer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_error_reports_resolved ON error_reports(resolved)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			computer_id TEXT NOT NULL DEFAULT '',
			room_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.Role, user.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Rooms ---

func (s *SQLiteStore) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, name, description, created_at) VALUES (?, ?, ?, ?)",
		room.ID, room.Name, room.Description, room.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM rooms WHERE id = ?", id,
	).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

func (s *SQLiteStore) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, created_at FROM rooms ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) UpdateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET name = ?, description = ? WHERE id = ?",
		room.Name, room.Description, room.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	return err
}

// --- Computers ---

func (s *SQLiteStore) CreateComputer(ctx context.Context, c *Computer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO computers (id, room_id, name, hostname, token_hash, online, last_seen, cpu_usage, ram_usage, disk_usage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RoomID, c.Name, c.Hostname, c.TokenHash, c.Online, c.LastSeen,
		c.CPUUsage, c.RAMUsage, c.DiskUsage, c.CreatedAt,
	)
	return err
}

const computerColumns = "id, room_id, name, hostname, token_hash, online, last_seen, cpu_usage, ram_usage, disk_usage, created_at"

func scanComputer(row interface{ Scan(...any) error }) (*Computer, error) {
	var c Computer
	err := row.Scan(&c.ID, &c.RoomID, &c.Name, &c.Hostname, &c.TokenHash,
		&c.Online, &c.LastSeen, &c.CPUUsage, &c.RAMUsage, &c.DiskUsage, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) GetComputer(ctx context.Context, id string) (*Computer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+computerColumns+" FROM computers WHERE id = ?", id)
	c, err := scanComputer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) listComputers(ctx context.Context, query string, args ...any) ([]Computer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var computers []Computer
	for rows.Next() {
		c, err := scanComputer(rows)
		if err != nil {
			return nil, err
		}
		computers = append(computers, *c)
	}
	return computers, rows.Err()
}

func (s *SQLiteStore) ListComputers(ctx context.Context) ([]Computer, error) {
	return s.listComputers(ctx, "SELECT "+computerColumns+" FROM computers ORDER BY name")
}

func (s *SQLiteStore) ListComputersByRoom(ctx context.Context, roomID string) ([]Computer, error) {
	return s.listComputers(ctx,
		"SELECT "+computerColumns+" FROM computers WHERE room_id = ? ORDER BY name", roomID)
}

func (s *SQLiteStore) SetComputerOnline(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET online = ?, last_seen = ? WHERE id = ?",
		online, time.Now(), id,
	)
	return err
}

func (s *SQLiteStore) UpdateComputerHardware(ctx context.Context, id string, cpu, ram, disk float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET cpu_usage = ?, ram_usage = ?, disk_usage = ?, last_seen = ? WHERE id = ?",
		cpu, ram, disk, time.Now(), id,
	)
	return err
}

func (s *SQLiteStore) SetComputerTokenHash(ctx context.Context, id, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET token_hash = ? WHERE id = ?", tokenHash, id)
	return err
}

func (s *SQLiteStore) DeleteComputer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM computers WHERE id = ?", id)
	return err
}

// --- Room access ---

func (s *SQLiteStore) GrantRoomAccess(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_access (user_id, room_id, created_at) VALUES (?, ?, ?)",
		userID, roomID, time.Now(),
	)
	return err
}

func (s *SQLiteStore) RevokeRoomAccess(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM room_access WHERE user_id = ? AND room_id = ?", userID, roomID)
	return err
}

func (s *SQLiteStore) HasRoomAccess(ctx context.Context, userID, roomID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_access WHERE user_id = ? AND room_id = ?",
		userID, roomID,
	).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) ListUserRooms(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id FROM room_access WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roomIDs = append(roomIDs, id)
	}
	return roomIDs, rows.Err()
}

// --- Error reports ---

func (s *SQLiteStore) CreateErrorReport(ctx context.Context, report *ErrorReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_reports (id, computer_id, kind, message, detail, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.ComputerID, report.Kind, report.Message, report.Detail,
		report.Resolved, report.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListErrorReports(ctx context.Context, computerID string, includeResolved bool, limit, offset int) ([]ErrorReport, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, computer_id, kind, message, detail, resolved, created_at, resolved_at
		FROM error_reports WHERE 1=1`
	args := []any{}
	if computerID != "" {
		query += " AND computer_id = ?"
		args = append(args, computerID)
	}
	if !includeResolved {
		query += " AND resolved = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []ErrorReport
	for rows.Next() {
		var r ErrorReport
		var resolvedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ComputerID, &r.Kind, &r.Message, &r.Detail,
			&r.Resolved, &r.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			r.ResolvedAt = resolvedAt.Time
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *SQLiteStore) ResolveErrorReport(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE error_reports SET resolved = 1, resolved_at = ? WHERE id = ?",
		time.Now(), id,
	)
	return err
}

// --- Audit ---

func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := string(event.Detail)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, user_id, computer_id, room_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.UserID, event.ComputerID, event.RoomID, detail, event.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, user_id, computer_id, room_id, detail, created_at
		 FROM audit_events ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detail string
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.UserID, &ev.ComputerID, &ev.RoomID, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			ev.Detail = []byte(detail)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Retention ---

func (s *SQLiteStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) PurgeResolvedErrorReports(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM error_reports WHERE resolved = 1 AND resolved_at < ?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
