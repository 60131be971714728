package rbac

import "context"

type ctxKey struct{}

func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, ctxKey{}, role)
}

// RoleFromContext returns "" when no role was attached.
func RoleFromContext(ctx context.Context) Role {
	r, _ := ctx.Value(ctxKey{}).(Role)
	return r
}
