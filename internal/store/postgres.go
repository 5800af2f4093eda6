package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS computers (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id),
			name TEXT NOT NULL DEFAULT '',
			hostname TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL DEFAULT '',
			online BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cpu_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
			ram_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
			disk_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_computers_room_id ON computers(room_id)`,
		`CREATE TABLE IF NOT EXISTS room_access (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS error_reports (
			id TEXT PRIMARY KEY,
			computer_id TEXT NOT NULL REFERENCES computers(id),
			kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
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
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)",
		user.ID, user.Username, user.PasswordHash, user.Role, user.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1", username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
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

func (s *PostgresStore) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, name, description, created_at) VALUES ($1, $2, $3, $4)",
		room.ID, room.Name, room.Description, room.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM rooms WHERE id = $1", id,
	).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &r, err
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]Room, error) {
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

func (s *PostgresStore) UpdateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET name = $1, description = $2 WHERE id = $3",
		room.Name, room.Description, room.ID,
	)
	return err
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", id)
	return err
}

// --- Computers ---

func (s *PostgresStore) CreateComputer(ctx context.Context, c *Computer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO computers (id, room_id, name, hostname, token_hash, online, last_seen, cpu_usage, ram_usage, disk_usage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.RoomID, c.Name, c.Hostname, c.TokenHash, c.Online, c.LastSeen,
		c.CPUUsage, c.RAMUsage, c.DiskUsage, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetComputer(ctx context.Context, id string) (*Computer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+computerColumns+" FROM computers WHERE id = $1", id)
	c, err := scanComputer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) listComputers(ctx context.Context, query string, args ...any) ([]Computer, error) {
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

func (s *PostgresStore) ListComputers(ctx context.Context) ([]Computer, error) {
	return s.listComputers(ctx, "SELECT "+computerColumns+" FROM computers ORDER BY name")
}

func (s *PostgresStore) ListComputersByRoom(ctx context.Context, roomID string) ([]Computer, error) {
	return s.listComputers(ctx,
		"SELECT "+computerColumns+" FROM computers WHERE room_id = $1 ORDER BY name", roomID)
}

func (s *PostgresStore) SetComputerOnline(ctx context.Context, id string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET online = $1, last_seen = $2 WHERE id = $3",
		online, time.Now(), id,
	)
	return err
}

func (s *PostgresStore) UpdateComputerHardware(ctx context.Context, id string, cpu, ram, disk float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET cpu_usage = $1, ram_usage = $2, disk_usage = $3, last_seen = $4 WHERE id = $5",
		cpu, ram, disk, time.Now(), id,
	)
	return err
}

func (s *PostgresStore) SetComputerTokenHash(ctx context.Context, id, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE computers SET token_hash = $1 WHERE id = $2", tokenHash, id)
	return err
}

func (s *PostgresStore) DeleteComputer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM computers WHERE id = $1", id)
	return err
}

// --- Room access ---

func (s *PostgresStore) GrantRoomAccess(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_access (user_id, room_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		userID, roomID, time.Now(),
	)
	return err
}

func (s *PostgresStore) RevokeRoomAccess(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM room_access WHERE user_id = $1 AND room_id = $2", userID, roomID)
	return err
}

func (s *PostgresStore) HasRoomAccess(ctx context.Context, userID, roomID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_access WHERE user_id = $1 AND room_id = $2",
		userID, roomID,
	).Scan(&n)
	return n > 0, err
}

func (s *PostgresStore) ListUserRooms(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id FROM room_access WHERE user_id = $1", userID)
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

func (s *PostgresStore) CreateErrorReport(ctx context.Context, report *ErrorReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_reports (id, computer_id, kind, message, detail, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID, report.ComputerID, report.Kind, report.Message, report.Detail,
		report.Resolved, report.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListErrorReports(ctx context.Context, computerID string, includeResolved bool, limit, offset int) ([]ErrorReport, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, computer_id, kind, message, detail, resolved, created_at, resolved_at
		FROM error_reports WHERE 1=1`
	args := []any{}
	n := 0
	if computerID != "" {
		n++
		query += fmt.Sprintf(" AND computer_id = $%d", n)
		args = append(args, computerID)
	}
	if !includeResolved {
		query += " AND resolved = FALSE"
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
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

func (s *PostgresStore) ResolveErrorReport(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE error_reports SET resolved = TRUE, resolved_at = $1 WHERE id = $2",
		time.Now(), id,
	)
	return err
}

// --- Audit ---

func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := string(event.Detail)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, user_id, computer_id, room_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Action, event.UserID, event.ComputerID, event.RoomID, detail, event.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, user_id, computer_id, room_id, detail, created_at
		 FROM audit_events ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
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

func (s *PostgresStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) PurgeResolvedErrorReports(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM error_reports WHERE resolved = TRUE AND resolved_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
