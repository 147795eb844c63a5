package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Roles  []string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens issued by the identity service.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier builds a verifier for tokens signed with secret.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), leeway: leeway}, nil
}

// Verify parses raw and returns its principal. The subject must be a positive user id.
func (v *Verifier) Verify(raw string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Principal{}, errors.New("invalid token claims")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Principal{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return Principal{UserID: userID, Roles: c.Roles}, nil
}

// Sign issues a token for userID. Used by tests and local tooling; production
// tokens come from the identity service.
func (v *Verifier) Sign(userID int64, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
