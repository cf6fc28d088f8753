package internal

import "context"

type ctxKey string

const ContextUserKey ctxKey = "user"

// User is the authenticated caller of the API. Service principals authenticated by
// API key carry the "service" role.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func UserFromContext(ctx context.Context) (*User, bool) {
	if ctx == nil {
		return nil, false
	}
	user, ok := ctx.Value(ContextUserKey).(*User)
	return user, ok && user != nil
}

func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, ContextUserKey, user)
}
