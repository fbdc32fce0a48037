// Package flash carries one notice across a redirect when no workspace
// exists yet, e.g. on the login page after a session was rejected.
package flash

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

const (
	CookieName = "console_flash"
	validFor   = 5 * time.Minute
)

var ErrNoSecret = errors.New("flash: signing secret is empty")

type Flash struct {
	secret []byte
	secure bool
}

func New(secret []byte, secure bool) *Flash {
	return &Flash{secret: secret, secure: secure}
}

// Set stores n for the next request. Nothing is written when it fails.
func (f *Flash) Set(w http.ResponseWriter, n notice.Notice) error {
	if n.Text == "" {
		return nil
	}
	if f == nil || len(f.secret) == 0 {
		return ErrNoSecret
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"lvl": string(n.Level),
		"txt": n.Text,
		"exp": time.Now().Add(validFor).Unix(),
	}).SignedString(f.secret)
	if err != nil {
		return fmt.Errorf("flash: sign cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(validFor / time.Second),
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Pop returns the stored notice, if any, and expires the cookie.
func (f *Flash) Pop(w http.ResponseWriter, r *http.Request) (notice.Notice, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return notice.Notice{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})

	tok, err := jwt.Parse(c.Value, func(t *jwt.Token) (interface{}, error) {
		return f.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return notice.Notice{}, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return notice.Notice{}, false
	}
	text, _ := claims["txt"].(string)
	level, _ := claims["lvl"].(string)
	if text == "" {
		return notice.Notice{}, false
	}
	return notice.Notice{Level: notice.Level(level), Text: text}, true
}
