package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TestJWTSecret signs tokens for handler tests; pair it with an auth.Service
// configured with the same secret.
const TestJWTSecret = "test-secret-not-for-production"

// TestIssuer matches the default configured token issuer.
const TestIssuer = "retailai-engine"

// GenerateTestJWT creates a signed HS256 token for the given tenant.
func GenerateTestJWT(userID, projectID uuid.UUID) string {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"pid": projectID.String(),
		"iss": TestIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(TestJWTSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

// GenerateTestJWTWithBearer returns the token with the "Bearer " prefix for
// an Authorization header.
func GenerateTestJWTWithBearer(userID, projectID uuid.UUID) string {
	return "Bearer " + GenerateTestJWT(userID, projectID)
}
