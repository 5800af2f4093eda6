package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/auth"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/relay"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *auth.Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:           ":0",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret-at-least-32-chars-long",
			JWTExpiry: config.Duration{Duration: 1 * time.Hour},
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}

	authSvc := auth.NewService(s, cfg.Auth)
	rl := relay.New(s, authSvc, authSvc, slog.Default(), relay.Options{})
	srv := NewServer(s, authSvc, authSvc, authSvc, rl, cfg, slog.Default())
	return srv, authSvc, s
}

func createUserAndGetToken(t *testing.T, authSvc *auth.Service, username, role string) string {
	t.Helper()
	ctx := context.Background()
	_, err := authSvc.Register(ctx, username, "testpassword123", role)
	if err != nil {
		t.Fatal(err)
	}
	token, err := authSvc.Login(ctx, username, "testpassword123")
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// seedRoomAndComputer inserts a room and one computer into the store.
func seedRoomAndComputer(t *testing.T, s store.Store) (roomID, computerID string) {
	t.Helper()
	ctx := context.Background()
	roomID = uuid.New().String()
	computerID = uuid.New().String()

	if err := s.CreateRoom(ctx, &store.Room{
		ID: roomID, Name: "lab-1", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateComputer(ctx, &store.Computer{
		ID: computerID, RoomID: roomID, Name: "pc-1", TokenHash: "x", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	return roomID, computerID
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

// parseJSONResponse decodes the JSON body of the response into the given target.
func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// --- Tests ---

func TestHealthz(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
	if _, ok := resp["uptime"]; !ok {
		t.Error("expected uptime field in response")
	}
}

func TestReadyz(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestLogin_Success(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	createUserAndGetToken(t, authSvc, "loginuser", "user")

	w := doRequest(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "loginuser",
		"password": "testpassword123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)
	if resp["token"] == "" {
		t.Fatal("expected a token in the response")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	createUserAndGetToken(t, authSvc, "wrongpwuser", "user")

	w := doRequest(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "wrongpwuser",
		"password": "not-the-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestGetMe_RequiresAuth(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestGetMe(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	token := createUserAndGetToken(t, authSvc, "meuser", "user")

	w := doRequest(t, srv, http.MethodGet, "/api/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	parseJSONResponse(t, w, &resp)
	if resp["username"] != "meuser" {
		t.Errorf("expected username meuser, got %q", resp["username"])
	}
	if resp["role"] != "user" {
		t.Errorf("expected role user, got %q", resp["role"])
	}
}

func TestListRooms_FilteredByGrants(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	ctx := context.Background()

	grantedRoom, _ := seedRoomAndComputer(t, s)
	seedRoomAndComputer(t, s) // second room, not granted

	user, err := authSvc.Register(ctx, "grantuser", "testpassword123", "user")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.GrantRoomAccess(ctx, user.ID, grantedRoom); err != nil {
		t.Fatal(err)
	}
	token, err := authSvc.Login(ctx, "grantuser", "testpassword123")
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/rooms", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var rooms []store.Room
	parseJSONResponse(t, w, &rooms)
	if len(rooms) != 1 || rooms[0].ID != grantedRoom {
		t.Fatalf("expected only the granted room, got %+v", rooms)
	}
}

func TestListRooms_AdminSeesAll(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	seedRoomAndComputer(t, s)
	seedRoomAndComputer(t, s)

	token := createUserAndGetToken(t, authSvc, "allroomadmin", "admin")
	w := doRequest(t, srv, http.MethodGet, "/api/rooms", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var rooms []store.Room
	parseJSONResponse(t, w, &rooms)
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}

func TestCreateRoom_AdminOnly(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	userToken := createUserAndGetToken(t, authSvc, "plainuser", "user")

	w := doRequest(t, srv, http.MethodPost, "/api/rooms", userToken, map[string]string{"name": "lab-x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-admin, got %d", w.Code)
	}

	adminToken := createUserAndGetToken(t, authSvc, "roomadmin", "admin")
	w = doRequest(t, srv, http.MethodPost, "/api/rooms", adminToken, map[string]string{"name": "lab-x"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var room store.Room
	parseJSONResponse(t, w, &room)
	if room.ID == "" || room.Name != "lab-x" {
		t.Fatalf("unexpected room: %+v", room)
	}
}

func TestDeleteRoom_RefusedWhileOccupied(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	roomID, computerID := seedRoomAndComputer(t, s)
	token := createUserAndGetToken(t, authSvc, "deladmin", "admin")

	w := doRequest(t, srv, http.MethodDelete, "/api/rooms/"+roomID, token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for occupied room, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/computers/"+computerID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 deleting computer, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/rooms/"+roomID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 deleting empty room, got %d", w.Code)
	}
}

func TestCreateComputer_ReturnsOneTimeToken(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	roomID, _ := seedRoomAndComputer(t, s)
	token := createUserAndGetToken(t, authSvc, "pcadmin", "admin")

	w := doRequest(t, srv, http.MethodPost, "/api/computers", token, map[string]string{
		"room_id": roomID, "name": "pc-new", "hostname": "LAB-PC-02",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Computer   store.Computer `json:"computer"`
		AgentToken string         `json:"agent_token"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.AgentToken == "" {
		t.Fatal("expected a plaintext agent token in the creation response")
	}
	if resp.Computer.ID == "" || resp.Computer.RoomID != roomID {
		t.Fatalf("unexpected computer: %+v", resp.Computer)
	}

	// The stored record carries only the hash.
	stored, err := s.GetComputer(context.Background(), resp.Computer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TokenHash == "" || stored.TokenHash == resp.AgentToken {
		t.Error("expected hashed token at rest, never the plaintext")
	}
}

func TestRegenerateToken_InvalidatesOldToken(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	roomID, _ := seedRoomAndComputer(t, s)
	token := createUserAndGetToken(t, authSvc, "rotadmin", "admin")

	w := doRequest(t, srv, http.MethodPost, "/api/computers", token, map[string]string{
		"room_id": roomID, "name": "pc-rot",
	})
	var created struct {
		Computer   store.Computer `json:"computer"`
		AgentToken string         `json:"agent_token"`
	}
	parseJSONResponse(t, w, &created)

	w = doRequest(t, srv, http.MethodPost, "/api/computers/"+created.Computer.ID+"/token", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var rotated map[string]string
	parseJSONResponse(t, w, &rotated)
	if rotated["agent_token"] == "" || rotated["agent_token"] == created.AgentToken {
		t.Fatal("expected a fresh agent token")
	}

	// Old token no longer validates, new one does.
	ctx := context.Background()
	if authSvc.ValidateAgentToken(ctx, created.Computer.ID, created.AgentToken) {
		t.Error("old token must be rejected after rotation")
	}
	if !authSvc.ValidateAgentToken(ctx, created.Computer.ID, rotated["agent_token"]) {
		t.Error("new token must validate")
	}
}

func TestGetComputer_DeniedWithoutGrant(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	_, computerID := seedRoomAndComputer(t, s)
	token := createUserAndGetToken(t, authSvc, "nogridge", "user")

	w := doRequest(t, srv, http.MethodGet, "/api/computers/"+computerID, token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
}

func TestRoomCommand_NoAgentsReachesNobody(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	roomID, _ := seedRoomAndComputer(t, s)
	token := createUserAndGetToken(t, authSvc, "cmdadmin", "admin")

	w := doRequest(t, srv, http.MethodPost, fmt.Sprintf("/api/rooms/%s/command", roomID), token, map[string]string{
		"command": "shutdown /s",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status  string   `json:"status"`
		Reached []string `json:"reached"`
	}
	parseJSONResponse(t, w, &resp)
	if len(resp.Reached) != 0 {
		t.Fatalf("expected no computer reached with all agents offline, got %v", resp.Reached)
	}
}

func TestGrantAndRevokeRoomAccess(t *testing.T) {
	srv, authSvc, s := setupTestServer(t)
	roomID, _ := seedRoomAndComputer(t, s)
	adminToken := createUserAndGetToken(t, authSvc, "permadmin", "admin")

	ctx := context.Background()
	user, err := authSvc.Register(ctx, "grantee", "testpassword123", "user")
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/permissions", adminToken, map[string]string{
		"user_id": user.ID, "room_id": roomID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("grant failed: %d", w.Code)
	}
	has, err := s.HasRoomAccess(ctx, user.ID, roomID)
	if err != nil || !has {
		t.Fatalf("expected grant to be persisted, has=%v err=%v", has, err)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/permissions", adminToken, map[string]string{
		"user_id": user.ID, "room_id": roomID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("revoke failed: %d", w.Code)
	}
	has, err = s.HasRoomAccess(ctx, user.ID, roomID)
	if err != nil || has {
		t.Fatalf("expected grant to be revoked, has=%v err=%v", has, err)
	}
}

func TestCreateUser_AdminOnly(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	adminToken := createUserAndGetToken(t, authSvc, "useradmin", "admin")

	w := doRequest(t, srv, http.MethodPost, "/api/users", adminToken, map[string]string{
		"username": "newuser", "password": "longenoughpw", "role": "user",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var user store.User
	parseJSONResponse(t, w, &user)
	if user.Username != "newuser" {
		t.Errorf("expected username newuser, got %q", user.Username)
	}

	// Duplicate username conflicts.
	w = doRequest(t, srv, http.MethodPost, "/api/users", adminToken, map[string]string{
		"username": "newuser", "password": "longenoughpw", "role": "user",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate, got %d", w.Code)
	}
}

func TestAuditEvents_ListedForAdmin(t *testing.T) {
	srv, authSvc, _ := setupTestServer(t)
	adminToken := createUserAndGetToken(t, authSvc, "auditadmin", "admin")

	// The admin's own login is audited.
	w := doRequest(t, srv, http.MethodGet, "/api/admin/audit", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var events []store.AuditEvent
	parseJSONResponse(t, w, &events)
	found := false
	for _, ev := range events {
		if ev.Action == "login.success" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected a login.success audit event")
	}
}
