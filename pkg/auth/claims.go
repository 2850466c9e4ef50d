// Package auth provides JWT-based authentication for the engine. Tokens are
// HS256-signed by the identity provider; each token carries the user as the
// subject and the active project as a custom claim, which together form the
// tenant for every downstream operation.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClaimsKey is the context key for storing JWT claims.
const ClaimsKey contextKey = "claims"

// Claims is the JWT claims structure. RegisteredClaims supplies the standard
// fields (sub, iss, exp); ProjectID scopes the session to one project.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"pid,omitempty"`
	Email     string `json:"email,omitempty"`
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// WithClaims stores claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// Identity extracts the (user, project) tenant pair from claims in context.
func Identity(ctx context.Context) (userID, projectID uuid.UUID, err error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("authentication required: no claims in context")
	}
	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid user ID in token: %w", err)
	}
	if claims.ProjectID == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing project ID in token")
	}
	projectID, err = uuid.Parse(claims.ProjectID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid project ID in token: %w", err)
	}
	return userID, projectID, nil
}
