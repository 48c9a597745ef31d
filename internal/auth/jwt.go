package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// RoleService marks a token issued to a backend integration rather than a
// staff member. Service tokens carry no user id.
const RoleService = "service_role"

// JWTManager handles JWT token generation and validation.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// Claims represents the custom JWT claims for a caller. Role and
// CooperativeID are hints; a stored staff profile takes precedence.
type Claims struct {
	UserID        string `json:"user_id,omitempty"`
	Role          string `json:"role,omitempty"`
	CooperativeID string `json:"sacco_id,omitempty"`
	jwt.RegisteredClaims
}

// IsService reports whether the token speaks for the service identity.
func (c *Claims) IsService() bool {
	return c.UserID == ""
}

// NewJWTManager creates a new JWT manager with the given secret and token duration.
// secretKey should be a strong random string (e.g., 32 bytes).
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate signs a token for a staff user. An empty userID issues a service token.
func (m *JWTManager) Generate(userID, role, cooperativeID string) (string, error) {
	now := time.Now()
	if userID == "" {
		role, cooperativeID = RoleService, ""
	}
	claims := &Claims{
		UserID:        userID,
		Role:          role,
		CooperativeID: cooperativeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Validate parses and validates a token, returning its claims. Only HS256
// tokens with an expiry are accepted.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" && claims.Role != RoleService {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return claims, nil
}
