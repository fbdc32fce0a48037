// Package credential keeps the backend bearer token in signed cookies.
//
// A credential lives in exactly one of two cookies: the persistent cookie
// survives browser restarts, the session cookie does not. Writing one always
// expires the other.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PersistentCookie = "console_remember"
	SessionCookie    = "console_session"

	persistentMaxAge = 30 * 24 * time.Hour
	sessionValidFor  = 7 * 24 * time.Hour
)

// Lifetime selects which cookie carries the credential.
type Lifetime string

const (
	Session    Lifetime = "session"
	Persistent Lifetime = "persistent"
)

var ErrEmptyToken = errors.New("credential: empty token")

// Credential is the bearer token plus the lifetime it was saved with.
type Credential struct {
	Token    string
	Lifetime Lifetime
}

// Key identifies the credential without exposing the token.
func (c Credential) Key() string {
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:])
}

type Store struct {
	secret []byte
	secure bool
	now    func() time.Time
}

// NewStore signs cookies with secret. secure marks cookies HTTPS-only.
func NewStore(secret []byte, secure bool) *Store {
	return &Store{secret: secret, secure: secure, now: time.Now}
}

// Save writes token under the cookie for lt and expires the other one.
func (s *Store) Save(w http.ResponseWriter, token string, lt Lifetime) error {
	if token == "" {
		return ErrEmptyToken
	}
	now := s.now()
	validFor := sessionValidFor
	if lt == Persistent {
		validFor = persistentMaxAge
	} else {
		lt = Session
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tok": token,
		"lt":  string(lt),
		"iat": now.Unix(),
		"exp": now.Add(validFor).Unix(),
	}).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("credential: sign cookie: %w", err)
	}

	c, other := s.cookie(SessionCookie, signed), PersistentCookie
	if lt == Persistent {
		c, other = s.cookie(PersistentCookie, signed), SessionCookie
		c.MaxAge = int(persistentMaxAge / time.Second)
		c.Expires = now.Add(persistentMaxAge)
	}
	http.SetCookie(w, s.expired(other))
	http.SetCookie(w, c)
	return nil
}

// Token returns the current credential. The persistent cookie wins over the
// session cookie. Cookies that fail verification are ignored.
func (s *Store) Token(r *http.Request) (Credential, bool) {
	for _, name := range []string{PersistentCookie, SessionCookie} {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			continue
		}
		if cred, err := s.verify(c.Value); err == nil {
			return cred, true
		}
	}
	return Credential{}, false
}

// Clear expires both cookies in the same response.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, s.expired(PersistentCookie))
	http.SetCookie(w, s.expired(SessionCookie))
}

func (s *Store) verify(raw string) (Credential, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Credential{}, fmt.Errorf("credential: parse cookie: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Credential{}, fmt.Errorf("credential: invalid cookie")
	}
	bearer, _ := claims["tok"].(string)
	if bearer == "" {
		return Credential{}, ErrEmptyToken
	}
	lt := Session
	if v, _ := claims["lt"].(string); Lifetime(v) == Persistent {
		lt = Persistent
	}
	return Credential{Token: bearer, Lifetime: lt}, nil
}

func (s *Store) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Store) expired(name string) *http.Cookie {
	c := s.cookie(name, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}
