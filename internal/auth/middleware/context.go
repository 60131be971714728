package auth

import (
	"context"

	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// Principal is the caller a verified token speaks for.
type Principal struct {
	Subject string
	Role    rbac.Role
}

type principalKey struct{}

// WithPrincipal attaches p and exposes its role to rbac checks.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return rbac.WithRole(ctx, p.Role)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// SubjectFromContext returns the authenticated user id, or "" when the
// request did not pass JWTMiddleware.
func SubjectFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Subject
}
