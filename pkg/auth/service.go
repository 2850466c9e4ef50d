package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RetailAIUseCase/retailai-engine/pkg/config"
)

// Service validates bearer tokens.
type Service struct {
	secret []byte
	issuer string
}

// NewService creates a token validator from auth configuration.
func NewService(cfg config.AuthConfig) *Service {
	return &Service{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// ValidateRequest extracts and validates the token on an HTTP request. The
// token comes from the Authorization header, or from the "token" query
// parameter for WebSocket subscriptions where browsers cannot set headers.
func (s *Service) ValidateRequest(r *http.Request) (*Claims, error) {
	token := extractToken(r)
	if token == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	return s.ValidateToken(token)
}

// ValidateToken parses and verifies a raw HS256 token string.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
