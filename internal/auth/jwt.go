package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT verifies HS256 bearer tokens whose sub claim is the opaque user id
// handed out by the identity provider.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), now: time.Now}
}

// Sign issues a token for userID. The service only verifies; Sign exists for
// tests and local tooling.
func (j *JWT) Sign(userID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(j.secret)
}

func (j *JWT) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return "", errors.New("invalid token")
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}
