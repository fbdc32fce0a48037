package guard

import (
	"context"

	"github.com/punchamoorthee/p2pconsole/internal/credential"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
)

type ctxKey struct{}

// Session is what a protected handler knows about the caller.
type Session struct {
	Credential credential.Credential
	Principal  domain.Principal
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session stored by the guard.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// PrincipalFrom returns the validated admin and platform totals.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	s, ok := SessionFrom(ctx)
	return s.Principal, ok
}
