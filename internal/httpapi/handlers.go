package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/obs"
	"crewdesk.org/internal/stream"
	"crewdesk.org/internal/tracker"
)

// ReadyProbe checks service readiness (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	codec      *auth.Codec
	manager    *auth.Manager
	users      auth.UserStore
	engine     *authz.Engine
	store      tracker.Store
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

// Config bundles the API dependencies.
type Config struct {
	Codec      *auth.Codec
	Manager    *auth.Manager
	Users      auth.UserStore
	Engine     *authz.Engine
	Store      tracker.Store
	Stream     *stream.Stream
	ReadyProbe ReadyProbe
	Version    string
}

func New(cfg Config) (*API, error) {
	if cfg.Codec == nil || cfg.Manager == nil || cfg.Users == nil || cfg.Engine == nil || cfg.Store == nil {
		return nil, errors.New("httpapi: codec, manager, users, engine and store are required")
	}
	a := &API{
		mux:        http.NewServeMux(),
		codec:      cfg.Codec,
		manager:    cfg.Manager,
		users:      cfg.Users,
		engine:     cfg.Engine,
		store:      cfg.Store,
		stream:     cfg.Stream,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	// tasks
	a.mux.HandleFunc("/v1/tasks", a.handleTasksCollection)
	a.mux.HandleFunc("/v1/tasks/", a.handleTaskResource)

	// projects
	a.mux.HandleFunc("/v1/projects", a.handleProjectsCollection)
	a.mux.HandleFunc("/v1/projects/", a.handleProjectResource)

	// chat
	a.mux.HandleFunc("/v1/threads/", a.handleThreadResource)
	a.mux.HandleFunc("/v1/messages/", a.handleMessageResource)

	// accounts
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "crewdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "crewdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// authorize runs the policy engine for the already authenticated principal
// and writes the failure response itself. Soft-deleted and unknown resources
// share the same 404.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, res authz.Resource, action authz.Action) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	err := a.engine.Authorize(r.Context(), principal, res, action)
	switch {
	case err == nil:
		obs.ObserveAuthzDecision(string(res.Kind), string(action), "allow")
		return principal, true
	case errors.Is(err, authz.ErrNotFound):
		obs.ObserveAuthzDecision(string(res.Kind), string(action), "not_found")
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, authz.ErrForbidden):
		obs.ObserveAuthzDecision(string(res.Kind), string(action), "forbidden")
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
	return auth.Principal{}, false
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

func handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, tracker.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
