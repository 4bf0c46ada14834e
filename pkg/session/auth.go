package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devicelab-dev/aiqa-agent/pkg/core"
)

// Claims are the token claims issued per user.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 session tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator creates an authenticator. A zero ttl issues tokens that
// never expire.
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

// Authenticate issues a token for userID.
func (a *Authenticator) Authenticate(userID string) (string, error) {
	if userID == "" {
		return "", core.ErrUnauthorized.WithMessage("user id is required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

// Verify parses a token and returns its claims.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, core.ErrUnauthorized.WithMessage("missing token")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, core.ErrUnauthorized.WithCause(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, core.ErrUnauthorized.WithMessage("invalid token claims")
	}
	return claims, nil
}
