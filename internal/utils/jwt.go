// Package utils provides helpers for issuing and reading actor tokens.
// Tokens are issued by the authentication service; the functions here
// exist so this service can verify them and so tests and the devtoken
// tool can mint compatible ones.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// Claims are the claims carried by an access token: the subject is the
// user id and Role is one of CUSTOMER, PROFESSIONAL or ADMIN.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT for a user with the
// given role, valid for ttl.
func NewAccessToken(secret, userID string, role model.Role, ttl time.Duration) (AccessToken, error) {
	if userID == "" {
		return AccessToken{}, errors.New("token: user id is required")
	}
	if !role.Valid() {
		return AccessToken{}, errors.New("token: invalid role " + string(role))
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ErrInvalidToken is returned by ParseAccessToken for any token that
// cannot be trusted.
var ErrInvalidToken = errors.New("invalid token")

// ParseAccessToken verifies raw and returns the actor it names.  Only
// HS256 is accepted, the token must not be expired, and the role must be
// one a user can hold.
func ParseAccessToken(secret, raw string) (model.Actor, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return model.Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{ID: claims.Subject, Role: claims.Role}, nil
}
