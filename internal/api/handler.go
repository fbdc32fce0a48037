// Package api serves the admin console: server-rendered pages, the
// confirm-then-send action endpoints and the operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/flash"
	"github.com/punchamoorthee/p2pconsole/internal/guard"
	"github.com/punchamoorthee/p2pconsole/internal/models"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
	"github.com/punchamoorthee/p2pconsole/internal/service"
	"github.com/punchamoorthee/p2pconsole/internal/workspace"
)

const (
	msgSessionExpired = "Session expired. Please login again."
	msgServerError    = "Something went wrong. Please try again."
	msgStillSending   = "A message is already being sent."
)

// Backend is the part of the API client the pages call directly.
type Backend interface {
	guard.Validator
	Login(ctx context.Context, email, password, device string) (*models.LoginResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (string, error)
	VerifyOTP(ctx context.Context, token, code string) (string, error)
	Logout(ctx context.Context, token string) error
	Bid(ctx context.Context, token string, id int64) (*domain.Bid, error)
	Ask(ctx context.Context, token string, id int64) (*domain.Ask, error)
	Users(ctx context.Context, token string, page int) (*models.Page[domain.User], error)
	UserDetails(ctx context.Context, token string, id int64) (*domain.UserDetails, error)
}

type Config struct {
	Backend      Backend
	Credentials  *credential.Store
	Flash        *flash.Flash
	Workspaces   *workspace.Registry
	Actions      *service.Actions
	LoadingAfter time.Duration
	Revalidate   time.Duration
	Logger       *slog.Logger
}

type Handler struct {
	backend    Backend
	creds      *credential.Store
	flash      *flash.Flash
	workspaces *workspace.Registry
	actions    *service.Actions
	guard      *guard.Guard
	views      *renderer
	logger     *slog.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	views, err := newRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		backend:    cfg.Backend,
		creds:      cfg.Credentials,
		flash:      cfg.Flash,
		workspaces: cfg.Workspaces,
		actions:    cfg.Actions,
		views:      views,
		logger:     cfg.Logger,
	}
	h.guard = guard.New(guard.Config{
		Validator:    cfg.Backend,
		Credentials:  cfg.Credentials,
		Workspaces:   cfg.Workspaces,
		Flash:        cfg.Flash,
		Loading:      http.HandlerFunc(h.loading),
		LoadingAfter: cfg.LoadingAfter,
		Revalidate:   cfg.Revalidate,
		Logger:       cfg.Logger,
	})
	return h, nil
}

// Routes builds the console router.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(WithRecovery(h.logger), WithLogging(h.logger), WithMetrics)

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(staticFiles()).Methods(http.MethodGet)

	r.HandleFunc("/", h.loginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", h.loginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/register", h.registerPage).Methods(http.MethodGet)
	r.HandleFunc("/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/verify-telegram", h.verifyTelegram).Methods(http.MethodGet)
	r.HandleFunc("/verify-otp", h.verifyOTPPage).Methods(http.MethodGet)
	r.HandleFunc("/verify-otp", h.verifyOTP).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)

	p := r.NewRoute().Subrouter()
	p.Use(h.guard.Protect)
	p.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)
	p.HandleFunc("/check-bids", h.bids).Methods(http.MethodGet)
	p.HandleFunc("/check-bids/{id:[0-9]+}/cancel", h.cancelBid).Methods(http.MethodPost)
	p.HandleFunc("/check-asks", h.asks).Methods(http.MethodGet)
	p.HandleFunc("/check-asks/{id:[0-9]+}/cancel", h.cancelAsk).Methods(http.MethodPost)
	p.HandleFunc("/check-peers", h.peers).Methods(http.MethodGet)
	p.HandleFunc("/check-peers/{id:[0-9]+}/{decision:approve|reject|unpair}", h.decidePeer).Methods(http.MethodPost)
	p.HandleFunc("/check-peers/{id:[0-9]+}/block/{role:bidder|asker}", h.blockPeerUser).Methods(http.MethodPost)
	p.HandleFunc("/bids/{id:[0-9]+}", h.bidDetail).Methods(http.MethodGet)
	p.HandleFunc("/asks/{id:[0-9]+}", h.askDetail).Methods(http.MethodGet)
	p.HandleFunc("/users", h.users).Methods(http.MethodGet)
	p.HandleFunc("/user-details/{id:[0-9]+}", h.userDetails).Methods(http.MethodGet)
	p.HandleFunc("/user-details/{id:[0-9]+}/block", h.blockUser).Methods(http.MethodPost)
	p.HandleFunc("/user-details/{id:[0-9]+}/message", h.messageUser).Methods(http.MethodPost)
	p.HandleFunc("/botcast", h.botcastPage).Methods(http.MethodGet)
	p.HandleFunc("/botcast", h.botcast).Methods(http.MethodPost)
	p.HandleFunc("/settings", h.staticPage("settings", "Settings")).Methods(http.MethodGet)
	p.HandleFunc("/profile", h.staticPage("profile", "Profile")).Methods(http.MethodGet)
	p.HandleFunc("/support", h.staticPage("support", "Support")).Methods(http.MethodGet)
	p.HandleFunc("/audit", h.audit).Methods(http.MethodGet)

	// Router middleware only runs for matched routes.
	r.NotFoundHandler = WithRecovery(h.logger)(WithLogging(h.logger)(WithMetrics(http.HandlerFunc(h.notFound))))
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "not_found", nil, page{Title: "Page not found"})
}

func (h *Handler) loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", "1")
	h.render(w, r, http.StatusOK, "loading", nil, page{Title: "Loading", Shell: true})
}

// render collects pending notices and writes the page. Flash notices come
// before the ones queued in the workspace.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, ws *workspace.Workspace, p page) {
	if h.flash != nil {
		if n, ok := h.flash.Pop(w, r); ok {
			p.Notices = append(p.Notices, n)
		}
	}
	if ws != nil {
		p.Notices = append(p.Notices, ws.Notices.Drain()...)
	}
	if s, ok := guard.SessionFrom(r.Context()); ok {
		admin := s.Principal.Admin
		p.Admin = &admin
		w.Header().Set("Cache-Control", "no-store")
	}
	if err := h.views.render(w, status, name, p); err != nil {
		h.logger.Error("render failed", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// session returns the validated session and its workspace. It writes the
// response itself when either is unavailable.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (guard.Session, *workspace.Workspace, bool) {
	s, ok := guard.SessionFrom(r.Context())
	if !ok {
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		return guard.Session{}, nil, false
	}
	ws, err := h.workspaces.Get(s.Credential.Token)
	if err != nil {
		h.logger.Error("workspace unavailable", "error", err)
		h.serverError(w, r)
		return guard.Session{}, nil, false
	}
	return s, ws, true
}

// expired ends the session when err says the backend refused the token.
func (h *Handler) expired(w http.ResponseWriter, r *http.Request, s guard.Session, err error) bool {
	if !errors.Is(err, backend.ErrUnauthorized) {
		return false
	}
	h.guard.Reject(w, r, s.Credential, backend.Describe(err, msgSessionExpired))
	return true
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusInternalServerError, "error", nil, page{
		Title:   "Error",
		Notices: []notice.Notice{notice.Fail(msgServerError)},
	})
}

func (h *Handler) setFlash(w http.ResponseWriter, n notice.Notice) {
	if h.flash == nil {
		return
	}
	if err := h.flash.Set(w, n); err != nil {
		h.logger.Warn("flash not set", "error", err)
	}
}

// redirect sends the browser to path with a 303 so a reload never resubmits.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
