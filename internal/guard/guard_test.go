package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/flash"
)

type stubValidator struct {
	calls atomic.Int32
	gate  chan struct{}
	v     *backend.Validation
	err   error
}

func (s *stubValidator) Dashboard(ctx context.Context, token string) (*backend.Validation, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.v, s.err
}

type stubDropper struct {
	mu      sync.Mutex
	dropped []string
}

func (s *stubDropper) Drop(token string) {
	s.mu.Lock()
	s.dropped = append(s.dropped, token)
	s.mu.Unlock()
}

type fixture struct {
	guard     *Guard
	creds     *credential.Store
	validator *stubValidator
	dropper   *stubDropper
	handler   http.Handler
	served    atomic.Int32
}

func newFixture(t *testing.T, v *stubValidator, loadingAfter, revalidate time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		creds:     credential.NewStore([]byte("secret"), false),
		validator: v,
		dropper:   &stubDropper{},
	}
	f.guard = New(Config{
		Validator:   v,
		Credentials: f.creds,
		Workspaces:  f.dropper,
		Flash:       flash.New([]byte("secret"), false),
		Loading: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("loading shell"))
		}),
		LoadingAfter: loadingAfter,
		Revalidate:   revalidate,
	})
	f.handler = f.guard.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.served.Add(1)
		p, ok := PrincipalFrom(r.Context())
		assert.True(t, ok)
		w.Write([]byte("hello " + p.Admin.Username))
	}))
	return f
}

func (f *fixture) request(t *testing.T, token string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	if token == "" {
		return req
	}
	rec := httptest.NewRecorder()
	require.NoError(t, f.creds.Save(rec, token, credential.Session))
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return req
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func okValidation() *backend.Validation {
	return &backend.Validation{Principal: domain.Principal{Admin: domain.Admin{ID: 1, Username: "root"}}}
}

func TestNoTokenRedirectsToLogin(t *testing.T) {
	v := &stubValidator{v: okValidation()}
	f := newFixture(t, v, 0, 0)

	rec := f.serve(f.request(t, ""))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))
	assert.Zero(t, v.calls.Load())
	assert.Zero(t, f.served.Load())
}

func TestValidSessionRendersChildren(t *testing.T) {
	v := &stubValidator{v: okValidation()}
	f := newFixture(t, v, 0, 0)

	rec := f.serve(f.request(t, "tok"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello root", rec.Body.String())
	assert.EqualValues(t, 1, v.calls.Load())
}

func TestVerificationRequiredRedirects(t *testing.T) {
	v := &stubValidator{v: &backend.Validation{VerificationRequired: true}}
	f := newFixture(t, v, 0, 0)

	rec := f.serve(f.request(t, "tok"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, VerificationPath, rec.Header().Get("Location"))
	assert.Zero(t, f.served.Load())
}

func TestRejectedSessionClearsEverything(t *testing.T) {
	v := &stubValidator{err: &backend.RejectionError{Status: http.StatusUnauthorized, Message: "Unauthenticated."}}
	f := newFixture(t, v, 0, 0)

	rec := f.serve(f.request(t, "tok"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))
	assert.Zero(t, f.served.Load(), "no protected content rendered")
	assert.NotContains(t, rec.Body.String(), "hello")

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, credential.PersistentCookie)
	require.Contains(t, cookies, credential.SessionCookie)
	assert.Negative(t, cookies[credential.PersistentCookie].MaxAge)
	assert.Negative(t, cookies[credential.SessionCookie].MaxAge)
	require.Contains(t, cookies, flash.CookieName)
	assert.Equal(t, []string{"tok"}, f.dropper.dropped)
}

func TestSlowValidationShowsLoadingThenConsumesParkedResult(t *testing.T) {
	v := &stubValidator{v: okValidation(), gate: make(chan struct{})}
	f := newFixture(t, v, 20*time.Millisecond, 0)

	rec := f.serve(f.request(t, "tok"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "loading shell", rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Zero(t, f.served.Load())

	close(v.gate)
	require.Eventually(t, func() bool {
		f.guard.mu.Lock()
		defer f.guard.mu.Unlock()
		return len(f.guard.parked) == 1
	}, time.Second, 5*time.Millisecond)

	rec = f.serve(f.request(t, "tok"))
	assert.Equal(t, "hello root", rec.Body.String())
	assert.EqualValues(t, 1, v.calls.Load(), "one round-trip for the whole mount")
}

func TestConcurrentLoadsShareOneValidation(t *testing.T) {
	v := &stubValidator{v: okValidation(), gate: make(chan struct{})}
	f := newFixture(t, v, 0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		req := f.request(t, "tok")
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.serve(req)
		}()
	}
	require.Eventually(t, func() bool { return v.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(v.gate)
	wg.Wait()

	assert.EqualValues(t, 1, v.calls.Load())
	assert.EqualValues(t, 5, f.served.Load())
}

func TestRevalidationPolicy(t *testing.T) {
	t.Run("every load", func(t *testing.T) {
		v := &stubValidator{v: okValidation()}
		f := newFixture(t, v, 0, 0)
		f.serve(f.request(t, "tok"))
		f.serve(f.request(t, "tok"))
		assert.EqualValues(t, 2, v.calls.Load())
	})

	t.Run("cached", func(t *testing.T) {
		v := &stubValidator{v: okValidation()}
		f := newFixture(t, v, 0, time.Minute)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		f.guard.now = func() time.Time { return now }

		f.serve(f.request(t, "tok"))
		f.serve(f.request(t, "tok"))
		assert.EqualValues(t, 1, v.calls.Load())

		now = now.Add(2 * time.Minute)
		f.serve(f.request(t, "tok"))
		assert.EqualValues(t, 2, v.calls.Load())
	})
}

func TestForgetDropsCache(t *testing.T) {
	v := &stubValidator{v: okValidation()}
	f := newFixture(t, v, 0, time.Hour)
	f.serve(f.request(t, "tok"))
	f.guard.Forget(credential.Credential{Token: "tok"})
	f.serve(f.request(t, "tok"))
	assert.EqualValues(t, 2, v.calls.Load())
}

func TestPrincipalFromEmptyContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
}
