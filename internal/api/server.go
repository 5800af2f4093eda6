// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/auth"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/relay"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider
	agentAuth     auth.AgentAuthProvider
	relay         *relay.Relay
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, aa auth.AgentAuthProvider, rl *relay.Relay, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		agentAuth:     aa,
		relay:         rl,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		maxBodyBytes:  cfg.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Auth config endpoint (unauthenticated)
	mux.Get("/api/auth/config", srv.handleAuthConfig)

	// Login route only registered when using builtin auth.
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/api/auth/login", srv.handleLogin)
	}

	// WebSocket route shared by agents and frontends (auth handled inside).
	mux.Get("/ws", rl.HandleWS)

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/rooms", srv.handleListRooms)
		r.Get("/api/rooms/{roomID}", srv.handleGetRoom)
		r.Get("/api/rooms/{roomID}/computers", srv.handleListRoomComputers)
		r.Post("/api/rooms/{roomID}/command", srv.handleRoomCommand)
		r.Get("/api/computers/{computerID}", srv.handleGetComputer)
		r.Get("/api/computers/{computerID}/errors", srv.handleListErrorReports)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			r.Post("/api/rooms", srv.handleCreateRoom)
			r.Put("/api/rooms/{roomID}", srv.handleUpdateRoom)
			r.Delete("/api/rooms/{roomID}", srv.handleDeleteRoom)
			r.Get("/api/computers", srv.handleListComputers)
			r.Post("/api/computers", srv.handleCreateComputer)
			r.Post("/api/computers/{computerID}/token", srv.handleRegenerateToken)
			r.Delete("/api/computers/{computerID}", srv.handleDeleteComputer)
			r.Post("/api/errors/{reportID}/resolve", srv.handleResolveErrorReport)
			r.Get("/api/users", srv.handleListUsers)
			// User management only available with builtin auth.
			if lp != nil {
				r.Post("/api/users", srv.handleCreateUser)
			}
			r.Post("/api/permissions", srv.handleGrantRoomAccess)
			r.Delete("/api/permissions", srv.handleRevokeRoomAccess)
			r.Get("/api/users/{userID}/rooms", srv.handleListUserRooms)
			r.Get("/api/admin/audit", srv.handleListAuditEvents)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// canAccessRoom reports whether the identity may see a room's computers.
// Admins see everything; regular users need a grant.
func (s *Server) canAccessRoom(ctx context.Context, identity *auth.Identity, roomID string) (bool, error) {
	if identity.Role == "admin" {
		return true, nil
	}
	return s.store.HasRoomAccess(ctx, identity.UserID, roomID)
}

func (s *Server) logAudit(ctx context.Context, event *store.AuditEvent) {
	if err := s.store.LogAuditEvent(ctx, event); err != nil {
		s.logger.Warn("failed to log audit event", "action", event.Action, "error", err)
	}
}

// --- Auth handlers ---

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.authProvider.Name()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}

	token, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logAudit(r.Context(), &store.AuditEvent{
			ID: uuid.New().String(), Action: "login.failed",
			Detail:    json.RawMessage(mustJSON(map[string]string{"username": req.Username})),
			CreatedAt: time.Now(),
		})
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user, _ := s.store.GetUser(r.Context(), req.Username)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "login.success", UserID: userID, CreatedAt: time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       identity.UserID,
		"username": identity.Username,
		"role":     identity.Role,
	})
}

// --- Room handlers ---

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	if rooms == nil {
		rooms = []store.Room{}
	}

	// Regular users see only granted rooms.
	if identity.Role != "admin" {
		granted, err := s.store.ListUserRooms(r.Context(), identity.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check permissions")
			return
		}
		grantSet := make(map[string]bool, len(granted))
		for _, id := range granted {
			grantSet[id] = true
		}
		filtered := make([]store.Room, 0)
		for _, room := range rooms {
			if grantSet[room.ID] {
				filtered = append(filtered, room)
			}
		}
		rooms = filtered
	}

	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	identity := getIdentityFromContext(r.Context())

	ok, err := s.canAccessRoom(r.Context(), identity, roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check permissions")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to this room")
		return
	}

	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil || room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	room := &store.Room{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "room.create", UserID: identity.UserID,
		RoomID: room.ID, CreatedAt: time.Now(),
	})
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	roomID := chi.URLParam(r, "roomID")

	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil || room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		room.Name = req.Name
	}
	room.Description = req.Description

	if err := s.store.UpdateRoom(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	// Refuse to delete rooms that still contain computers.
	computers, err := s.store.ListComputersByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check room")
		return
	}
	if len(computers) > 0 {
		writeError(w, http.StatusConflict, "room still has computers")
		return
	}

	if err := s.store.DeleteRoom(r.Context(), roomID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete room")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "room.delete", UserID: identity.UserID,
		RoomID: roomID, CreatedAt: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Computer handlers ---

// computerResponse enriches a computer with its live connection state.
type computerResponse struct {
	store.Computer
	Connected bool `json:"connected"`
}

func (s *Server) enrich(computers []store.Computer) []computerResponse {
	result := make([]computerResponse, len(computers))
	for i, c := range computers {
		result[i] = computerResponse{Computer: c, Connected: s.relay.AgentOnline(c.ID)}
	}
	return result
}

func (s *Server) handleListComputers(w http.ResponseWriter, r *http.Request) {
	computers, err := s.store.ListComputers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list computers")
		return
	}
	writeJSON(w, http.StatusOK, s.enrich(computers))
}

func (s *Server) handleListRoomComputers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	identity := getIdentityFromContext(r.Context())

	ok, err := s.canAccessRoom(r.Context(), identity, roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check permissions")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to this room")
		return
	}

	computers, err := s.store.ListComputersByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list computers")
		return
	}
	writeJSON(w, http.StatusOK, s.enrich(computers))
}

func (s *Server) handleGetComputer(w http.ResponseWriter, r *http.Request) {
	computerID := chi.URLParam(r, "computerID")
	identity := getIdentityFromContext(r.Context())

	computer, err := s.store.GetComputer(r.Context(), computerID)
	if err != nil || computer == nil {
		writeError(w, http.StatusNotFound, "computer not found")
		return
	}

	ok, err := s.canAccessRoom(r.Context(), identity, computer.RoomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check permissions")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to this room")
		return
	}

	writeJSON(w, http.StatusOK, computerResponse{
		Computer: *computer, Connected: s.relay.AgentOnline(computer.ID),
	})
}

func (s *Server) handleCreateComputer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		RoomID   string `json:"room_id"`
		Name     string `json:"name"`
		Hostname string `json:"hostname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "room_id and name are required")
		return
	}

	room, err := s.store.GetRoom(r.Context(), req.RoomID)
	if err != nil || room == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	token, hash, err := s.agentAuth.GenerateAgentToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate agent token")
		return
	}

	computer := &store.Computer{
		ID:        uuid.New().String(),
		RoomID:    req.RoomID,
		Name:      req.Name,
		Hostname:  req.Hostname,
		TokenHash: hash,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateComputer(r.Context(), computer); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create computer")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "computer.create", UserID: identity.UserID,
		ComputerID: computer.ID, RoomID: req.RoomID, CreatedAt: time.Now(),
	})

	// The plaintext token is returned exactly once, for agent provisioning.
	writeJSON(w, http.StatusCreated, map[string]any{
		"computer":    computer,
		"agent_token": token,
	})
}

func (s *Server) handleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	computerID := chi.URLParam(r, "computerID")

	computer, err := s.store.GetComputer(r.Context(), computerID)
	if err != nil || computer == nil {
		writeError(w, http.StatusNotFound, "computer not found")
		return
	}

	token, hash, err := s.agentAuth.GenerateAgentToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate agent token")
		return
	}
	if err := s.store.SetComputerTokenHash(r.Context(), computerID, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store new token")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "computer.token_regenerate", UserID: identity.UserID,
		ComputerID: computerID, CreatedAt: time.Now(),
	})

	writeJSON(w, http.StatusOK, map[string]string{"agent_token": token})
}

func (s *Server) handleDeleteComputer(w http.ResponseWriter, r *http.Request) {
	computerID := chi.URLParam(r, "computerID")

	if err := s.store.DeleteComputer(r.Context(), computerID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete computer")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "computer.delete", UserID: identity.UserID,
		ComputerID: computerID, CreatedAt: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Room command handler ---

func (s *Server) handleRoomCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	roomID := chi.URLParam(r, "roomID")
	identity := getIdentityFromContext(r.Context())

	ok, err := s.canAccessRoom(r.Context(), identity, roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check permissions")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to this room")
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	reached, err := s.relay.SendCommandToRoom(r.Context(), roomID, req.Command, identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to dispatch room command")
		return
	}
	if reached == nil {
		reached = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "dispatched",
		"reached": reached,
	})
}

// --- Error report handlers ---

func (s *Server) handleListErrorReports(w http.ResponseWriter, r *http.Request) {
	computerID := chi.URLParam(r, "computerID")
	identity := getIdentityFromContext(r.Context())

	computer, err := s.store.GetComputer(r.Context(), computerID)
	if err != nil || computer == nil {
		writeError(w, http.StatusNotFound, "computer not found")
		return
	}
	ok, err := s.canAccessRoom(r.Context(), identity, computer.RoomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check permissions")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to this room")
		return
	}

	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	limit, offset := paginationParams(r, 50, 500)

	reports, err := s.store.ListErrorReports(r.Context(), computerID, includeResolved, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list error reports")
		return
	}
	if reports == nil {
		reports = []store.ErrorReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleResolveErrorReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	if err := s.store.ResolveErrorReport(r.Context(), reportID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve error report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// --- User and permission handlers (admin only) ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "password must be 8-128 characters")
		return
	}

	user, err := s.loginProvider.Register(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user.PasswordHash = ""
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGrantRoomAccess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		UserID string `json:"user_id"`
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.GrantRoomAccess(r.Context(), req.UserID, req.RoomID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to grant access")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "access.grant", UserID: identity.UserID,
		RoomID: req.RoomID,
		Detail: json.RawMessage(mustJSON(map[string]string{"grantee": req.UserID})),
		CreatedAt: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

func (s *Server) handleRevokeRoomAccess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		UserID string `json:"user_id"`
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.RevokeRoomAccess(r.Context(), req.UserID, req.RoomID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke access")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.logAudit(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "access.revoke", UserID: identity.UserID,
		RoomID: req.RoomID,
		Detail: json.RawMessage(mustJSON(map[string]string{"grantee": req.UserID})),
		CreatedAt: time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListUserRooms(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rooms, err := s.store.ListUserRooms(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list permissions")
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "room_ids": rooms})
}

// --- Audit handlers ---

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 50, 500)

	events, err := s.store.ListAuditEvents(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func paginationParams(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
