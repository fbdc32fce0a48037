package credential

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replay builds a request carrying the live cookies set on rec.
func replay(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestSaveSessionLifetime(t *testing.T) {
	s := NewStore([]byte("secret"), false)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Save(rec, "bearer-1", Session))

	cookies := cookiesByName(rec)
	require.Contains(t, cookies, SessionCookie)
	assert.Zero(t, cookies[SessionCookie].MaxAge, "session cookie must not persist")
	assert.True(t, cookies[SessionCookie].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[SessionCookie].SameSite)
	require.Contains(t, cookies, PersistentCookie)
	assert.Negative(t, cookies[PersistentCookie].MaxAge, "persistent cookie must be expired")

	cred, ok := s.Token(replay(rec))
	require.True(t, ok)
	assert.Equal(t, "bearer-1", cred.Token)
	assert.Equal(t, Session, cred.Lifetime)
}

func TestSavePersistentLifetime(t *testing.T) {
	s := NewStore([]byte("secret"), true)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Save(rec, "bearer-2", Persistent))

	cookies := cookiesByName(rec)
	assert.Equal(t, int(persistentMaxAge/time.Second), cookies[PersistentCookie].MaxAge)
	assert.True(t, cookies[PersistentCookie].Secure)
	assert.Negative(t, cookies[SessionCookie].MaxAge)

	cred, ok := s.Token(replay(rec))
	require.True(t, ok)
	assert.Equal(t, Persistent, cred.Lifetime)
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	s := NewStore([]byte("secret"), false)
	assert.ErrorIs(t, s.Save(httptest.NewRecorder(), "", Session), ErrEmptyToken)
}

func TestPersistentWinsOverSession(t *testing.T) {
	s := NewStore([]byte("secret"), false)

	persistent := httptest.NewRecorder()
	require.NoError(t, s.Save(persistent, "long", Persistent))
	session := httptest.NewRecorder()
	require.NoError(t, s.Save(session, "short", Session))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookiesByName(session)[SessionCookie].Value})
	req.AddCookie(&http.Cookie{Name: PersistentCookie, Value: cookiesByName(persistent)[PersistentCookie].Value})

	cred, ok := s.Token(req)
	require.True(t, ok)
	assert.Equal(t, "long", cred.Token)
}

func TestTokenIgnoresTamperedCookies(t *testing.T) {
	s := NewStore([]byte("secret"), false)
	other := NewStore([]byte("another"), false)

	rec := httptest.NewRecorder()
	require.NoError(t, other.Save(rec, "forged", Session))
	_, ok := s.Token(replay(rec))
	assert.False(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "raw-bearer-token"})
	_, ok = s.Token(req)
	assert.False(t, ok)

	_, ok = s.Token(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestTokenExpires(t *testing.T) {
	s := NewStore([]byte("secret"), false)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	rec := httptest.NewRecorder()
	require.NoError(t, s.Save(rec, "bearer", Session))
	req := replay(rec)

	_, ok := s.Token(req)
	assert.True(t, ok)

	s.now = func() time.Time { return issued.Add(sessionValidFor + time.Minute) }
	_, ok = s.Token(req)
	assert.False(t, ok)
}

func TestClearExpiresBoth(t *testing.T) {
	s := NewStore([]byte("secret"), false)
	rec := httptest.NewRecorder()
	s.Clear(rec)

	cookies := cookiesByName(rec)
	require.Len(t, cookies, 2)
	for _, name := range []string{PersistentCookie, SessionCookie} {
		assert.Negative(t, cookies[name].MaxAge, name)
		assert.Empty(t, cookies[name].Value, name)
	}
}

func TestKeyIsStableAndOpaque(t *testing.T) {
	a := Credential{Token: "bearer"}
	b := Credential{Token: "bearer", Lifetime: Persistent}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotContains(t, a.Key(), "bearer")
	assert.Len(t, a.Key(), 64)
}
