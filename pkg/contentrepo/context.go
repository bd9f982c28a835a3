package contentrepo

import "context"

type userKey struct{}

// WithUser returns a context carrying the id of the acting user.
func WithUser(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the acting user, AdminUserID when none is set.
func UserFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userKey{}).(int); ok && id > 0 {
		return id
	}
	return AdminUserID
}
