package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/ids"
	"crewdesk.org/internal/stream"
	"crewdesk.org/internal/tracker"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// memUsers is an in-memory auth.UserStore.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*auth.User)} }

func (s *memUsers) Create(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.ErrAlreadyExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memUsers) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.RequiresPasswordReset != nil {
		u.RequiresPasswordReset = *upd.RequiresPasswordReset
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) UpdateRole(ctx context.Context, id string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Role = role
	return nil
}

func (s *memUsers) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// memTokens is an in-memory auth.RefreshTokenStore.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]*auth.RefreshToken
}

func newMemTokens() *memTokens { return &memTokens{tokens: make(map[string]*auth.RefreshToken)} }

func (s *memTokens) Create(ctx context.Context, tok *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *memTokens) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *memTokens) Consume(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.Revoked || !now.Before(tok.ExpiresAt) {
		return auth.ErrRefreshTokenInvalid
	}
	tok.Revoked = true
	return nil
}

func (s *memTokens) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (s *memTokens) RevokeAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

// memStore is an in-memory tracker.Store that doubles as the fact provider,
// so policy checks and data access see the same state.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*tracker.Task
	projects map[string]*tracker.Project
	messages map[string]*tracker.Message
	threads  map[string]string
	collabs  map[string]map[string]bool
	perms    map[string]map[string]string
	users    *memUsers
}

func newMemStore(users *memUsers) *memStore {
	return &memStore{
		tasks:    make(map[string]*tracker.Task),
		projects: make(map[string]*tracker.Project),
		messages: make(map[string]*tracker.Message),
		threads:  make(map[string]string),
		collabs:  make(map[string]map[string]bool),
		perms:    make(map[string]map[string]string),
		users:    users,
	}
}

func (s *memStore) CreateTask(ctx context.Context, t *tracker.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memStore) Task(ctx context.Context, id string) (tracker.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Deleted {
		return tracker.Task{}, tracker.ErrNotFound
	}
	return *t, nil
}

func (s *memStore) UpdateTask(ctx context.Context, id string, upd tracker.TaskUpdate) (tracker.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Deleted {
		return tracker.Task{}, tracker.ErrNotFound
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Notes != nil {
		t.Notes = *upd.Notes
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Assignees != nil {
		t.Assignees = *upd.Assignees
	}
	t.UpdatedAt = time.Now().UTC()
	return *t, nil
}

func (s *memStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Deleted {
		return tracker.ErrNotFound
	}
	t.Deleted = true
	return nil
}

func (s *memStore) CreateProject(ctx context.Context, p *tracker.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) Project(ctx context.Context, id string) (tracker.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.Deleted {
		return tracker.Project{}, tracker.ErrNotFound
	}
	return *p, nil
}

func (s *memStore) UpdateProject(ctx context.Context, id string, upd tracker.ProjectUpdate) (tracker.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.Deleted {
		return tracker.Project{}, tracker.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Archived != nil {
		p.Archived = *upd.Archived
	}
	p.UpdatedAt = time.Now().UTC()
	return *p, nil
}

func (s *memStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.Deleted {
		return tracker.ErrNotFound
	}
	p.Deleted = true
	return nil
}

func (s *memStore) AddCollaborator(ctx context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collabs[projectID] == nil {
		s.collabs[projectID] = make(map[string]bool)
	}
	s.collabs[projectID][userID] = true
	return nil
}

func (s *memStore) RemoveCollaborator(ctx context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collabs[projectID], userID)
	return nil
}

func (s *memStore) SetPermission(ctx context.Context, projectID, userID, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perms[projectID] == nil {
		s.perms[projectID] = make(map[string]string)
	}
	s.perms[projectID][userID] = level
	return nil
}

func (s *memStore) PostMessage(ctx context.Context, m *tracker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = ids.New()
	}
	m.CreatedAt = time.Now().UTC()
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *memStore) Message(ctx context.Context, id string) (tracker.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return tracker.Message{}, tracker.ErrNotFound
	}
	return *m, nil
}

func (s *memStore) ThreadMessages(ctx context.Context, threadKey string, limit int) ([]tracker.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tracker.Message
	for _, m := range s.messages {
		if m.ThreadKey == threadKey {
			out = append(out, m.Redacted())
		}
	}
	return out, nil
}

func (s *memStore) UpdateMessage(ctx context.Context, id, body string) (tracker.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return tracker.Message{}, tracker.ErrNotFound
	}
	m.Body = body
	now := time.Now().UTC()
	m.EditedAt = &now
	return *m, nil
}

func (s *memStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return tracker.ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (s *memStore) LinkThread(ctx context.Context, threadKey, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadKey] = taskID
	return nil
}

// authz.FactProvider over the same data.

func (s *memStore) TaskFacts(ctx context.Context, taskID string) (authz.TaskFacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Deleted {
		return authz.TaskFacts{}, authz.ErrNotFound
	}
	return authz.TaskFacts{ID: t.ID, OwnerID: t.OwnerID, Assignees: t.Assignees}, nil
}

func (s *memStore) ProjectFacts(ctx context.Context, projectID string) (authz.ProjectFacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.Deleted {
		return authz.ProjectFacts{}, authz.ErrNotFound
	}
	facts := authz.ProjectFacts{
		ID:          p.ID,
		CreatorID:   p.CreatorID,
		Permissions: make(map[string]authz.Permission),
	}
	for userID := range s.collabs[projectID] {
		facts.Collaborators = append(facts.Collaborators, userID)
	}
	for userID, level := range s.perms[projectID] {
		facts.Permissions[userID] = authz.Permission(level)
	}
	return facts, nil
}

func (s *memStore) MessageFacts(ctx context.Context, messageID string) (authz.MessageFacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return authz.MessageFacts{}, authz.ErrNotFound
	}
	return authz.MessageFacts{ID: m.ID, ThreadKey: m.ThreadKey, AuthorID: m.AuthorID, Deleted: m.Deleted}, nil
}

func (s *memStore) ThreadTaskID(ctx context.Context, threadKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[threadKey], nil
}

func (s *memStore) HasPosted(ctx context.Context, threadKey, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ThreadKey == threadKey && m.AuthorID == userID && !m.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) UserFacts(ctx context.Context, userID string) (authz.UserFacts, error) {
	u, err := s.users.Find(ctx, userID)
	if err != nil {
		return authz.UserFacts{}, authz.ErrNotFound
	}
	return authz.UserFacts{ID: u.ID, Role: u.Role}, nil
}

// testEnv bundles the API with its fakes.
type testEnv struct {
	api     *API
	users   *memUsers
	tokens  *memTokens
	store   *memStore
	manager *auth.Manager
	codec   *auth.Codec
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := newMemUsers()
	tokens := newMemTokens()
	store := newMemStore(users)

	codec, err := auth.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	manager, err := auth.NewManager(codec, users, tokens)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	engine, err := authz.NewEngine(store)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	api, err := New(Config{
		Codec:   codec,
		Manager: manager,
		Users:   users,
		Engine:  engine,
		Store:   store,
		Stream:  stream.New(),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testEnv{
		api:     api,
		users:   users,
		tokens:  tokens,
		store:   store,
		manager: manager,
		codec:   codec,
		handler: api.withAuth(api.mux),
	}
}

// addUser registers an account and returns a valid access token for it.
func (e *testEnv) addUser(t *testing.T, id string, role auth.Role) string {
	t.Helper()
	hash, err := auth.HashPassword("pa55word-pa55word")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	err = e.users.Create(context.Background(), &auth.User{
		ID:           id,
		Email:        id + "@example.com",
		Username:     id,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	pair, _, err := e.manager.Login(context.Background(), id+"@example.com", "pa55word-pa55word")
	if err != nil {
		t.Fatalf("login %s: %v", id, err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
