// Package auth resolves the owner of a request from a signed bearer token.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
)

// Resolver returns the owner of an inbound request, or ErrUnauthorized
type Resolver interface {
	Resolve(r *http.Request) (model.OwnerID, error)
}

// JWT verifies HS256 tokens and takes the owner from the subject claim
type JWT struct {
	secret []byte
	issuer string
}

var _ Resolver = (*JWT)(nil)

type Option func(*JWT)

// WithIssuer requires and sets the iss claim
func WithIssuer(issuer string) Option {
	return func(j *JWT) {
		j.issuer = issuer
	}
}

func NewJWT(secret string, opts ...Option) (*JWT, error) {
	if secret == "" {
		return nil, goerr.New("JWT secret is empty")
	}

	j := &JWT{secret: []byte(secret)}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Resolve reads "Authorization: Bearer <token>"
func (j *JWT) Resolve(r *http.Request) (model.OwnerID, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", goerr.Wrap(model.ErrUnauthorized, "missing bearer token")
	}

	return j.Verify(strings.TrimSpace(token))
}

// Verify checks a raw token and returns its owner
func (j *JWT) Verify(tokenString string) (model.OwnerID, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return "", goerr.Wrap(model.ErrUnauthorized, "invalid token", goerr.V("cause", err))
	}

	if claims.Subject == "" {
		return "", goerr.Wrap(model.ErrUnauthorized, "token has no subject")
	}

	return model.OwnerID(claims.Subject), nil
}

// Issue signs a token for owner valid for ttl
func (j *JWT) Issue(owner model.OwnerID, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", goerr.Wrap(model.ErrInvalidRequest, "owner is empty")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(owner),
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign token")
	}
	return signed, nil
}
