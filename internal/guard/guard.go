// Package guard protects pages that need a validated backend session.
//
// Each protected page load validates the stored credential against the
// backend exactly once. When validation takes longer than the loading
// threshold the caller gets a loading page that refreshes itself; the
// validation keeps running and its result is handed to the next request
// for the same credential.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

const (
	LoginPath        = "/login"
	VerificationPath = "/verify-telegram"

	msgSessionExpired = "Session expired. Please login again."
	parkedTTL         = time.Minute
)

// Validator checks a bearer token with the backend.
type Validator interface {
	Dashboard(ctx context.Context, token string) (*backend.Validation, error)
}

// Credentials reads and clears the stored credential.
type Credentials interface {
	Token(r *http.Request) (credential.Credential, bool)
	Clear(w http.ResponseWriter)
}

// Dropper discards per-session state.
type Dropper interface {
	Drop(token string)
}

// Flasher carries a notice to the next page.
type Flasher interface {
	Set(w http.ResponseWriter, n notice.Notice) error
}

type Config struct {
	Validator   Validator
	Credentials Credentials
	Workspaces  Dropper
	Flash       Flasher
	// Loading renders the page shown while validation is still running.
	Loading http.Handler
	// LoadingAfter is how long a request waits for validation before the
	// loading page is shown. Zero waits indefinitely.
	LoadingAfter time.Duration
	// Revalidate caches a successful validation for this long. Zero
	// validates on every page load.
	Revalidate time.Duration
	Logger     *slog.Logger
}

type result struct {
	v   *backend.Validation
	err error
}

type parked struct {
	res result
	at  time.Time
}

type cached struct {
	v  *backend.Validation
	at time.Time
}

type Guard struct {
	cfg   Config
	group singleflight.Group
	now   func() time.Time

	mu     sync.Mutex
	parked map[string]parked
	cache  map[string]cached
}

func New(cfg Config) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Loading == nil {
		cfg.Loading = http.HandlerFunc(defaultLoading)
	}
	return &Guard{
		cfg:    cfg,
		now:    time.Now,
		parked: make(map[string]parked),
		cache:  make(map[string]cached),
	}
}

// Protect wraps next so it only runs for a validated session.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := g.cfg.Credentials.Token(r)
		if !ok {
			sessionValidationsTotal.WithLabelValues("missing").Inc()
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		key := cred.Key()

		if v, ok := g.cached(key); ok {
			g.admit(w, r, next, cred, v)
			return
		}

		res, ok := g.takeParked(key)
		if !ok {
			res, ok = g.validate(r.Context(), key, cred.Token)
		}
		if !ok {
			sessionValidationsTotal.WithLabelValues("pending").Inc()
			w.Header().Set("Cache-Control", "no-store")
			g.cfg.Loading.ServeHTTP(w, r)
			return
		}
		g.settle(w, r, next, cred, res)
	})
}

// validate joins or starts the validation for key. It reports false when
// the result is not ready within LoadingAfter; the result is then parked.
func (g *Guard) validate(ctx context.Context, key, token string) (result, bool) {
	ch := g.group.DoChan(key, func() (interface{}, error) {
		// Detached so a loading page response does not cancel the call.
		v, err := g.cfg.Validator.Dashboard(context.WithoutCancel(ctx), token)
		return result{v: v, err: err}, nil
	})

	var timeout <-chan time.Time
	if g.cfg.LoadingAfter > 0 {
		timer := time.NewTimer(g.cfg.LoadingAfter)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case out := <-ch:
		return out.Val.(result), true
	case <-timeout:
		go func() {
			out := <-ch
			g.park(key, out.Val.(result))
		}()
		return result{}, false
	}
}

func (g *Guard) settle(w http.ResponseWriter, r *http.Request, next http.Handler, cred credential.Credential, res result) {
	switch {
	case res.err == nil && res.v != nil && res.v.VerificationRequired:
		sessionValidationsTotal.WithLabelValues("verification_required").Inc()
		http.Redirect(w, r, VerificationPath, http.StatusSeeOther)
	case res.err == nil && res.v != nil:
		sessionValidationsTotal.WithLabelValues("ok").Inc()
		if g.cfg.Revalidate > 0 {
			g.mu.Lock()
			g.cache[cred.Key()] = cached{v: res.v, at: g.now()}
			g.mu.Unlock()
		}
		g.admit(w, r, next, cred, res.v)
	default:
		sessionValidationsTotal.WithLabelValues("rejected").Inc()
		g.cfg.Logger.Info("session rejected", "error", res.err)
		g.Reject(w, r, cred, backend.Describe(res.err, msgSessionExpired))
	}
}

// Reject ends the session: both cookies are cleared, per-session state is
// dropped and the browser is sent to the login page with msg.
func (g *Guard) Reject(w http.ResponseWriter, r *http.Request, cred credential.Credential, msg string) {
	g.Forget(cred)
	g.cfg.Credentials.Clear(w)
	if g.cfg.Workspaces != nil {
		g.cfg.Workspaces.Drop(cred.Token)
	}
	if g.cfg.Flash != nil {
		if err := g.cfg.Flash.Set(w, notice.Fail(msg)); err != nil {
			g.cfg.Logger.Warn("flash not set", "error", err)
		}
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

// Forget removes any cached or parked validation for cred.
func (g *Guard) Forget(cred credential.Credential) {
	key := cred.Key()
	g.mu.Lock()
	delete(g.cache, key)
	delete(g.parked, key)
	g.mu.Unlock()
}

func (g *Guard) admit(w http.ResponseWriter, r *http.Request, next http.Handler, cred credential.Credential, v *backend.Validation) {
	ctx := WithSession(r.Context(), Session{Credential: cred, Principal: v.Principal})
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Guard) cached(key string) (*backend.Validation, bool) {
	if g.cfg.Revalidate <= 0 {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cache[key]
	if !ok {
		return nil, false
	}
	if g.now().Sub(c.at) >= g.cfg.Revalidate {
		delete(g.cache, key)
		return nil, false
	}
	return c.v, true
}

func (g *Guard) park(key string, res result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parked[key] = parked{res: res, at: g.now()}
}

func (g *Guard) takeParked(key string) (result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.parked[key]
	if !ok {
		return result{}, false
	}
	delete(g.parked, key)
	if g.now().Sub(p.at) > parkedTTL {
		return result{}, false
	}
	return p.res, true
}

func defaultLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Refresh", "1")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!doctype html><title>Loading</title><p>Loading...</p>`))
}
