// Package auth carries the signed-in user through a request context and
// resolves the client address of a request.
//
// Both middleware and handler import it, so it must not import either.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/tmportal/internal/domain"
)

type contextKey string

const userContextKey contextKey = "user"

// GetUser returns the authenticated user, or nil for anonymous requests.
//
//	user := auth.GetUser(r.Context())
//	if user == nil {
//	    // not signed in
//	}
func GetUser(ctx context.Context) *domain.User {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	if !ok {
		return nil
	}
	return user
}

// GetUserFromRequest is GetUser for a request.
func GetUserFromRequest(r *http.Request) *domain.User {
	return GetUser(r.Context())
}

// SetUser stores a user in the context. Called by the session middleware
// once the cookie checks out.
func SetUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
