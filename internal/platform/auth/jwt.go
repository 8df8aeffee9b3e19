package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Token is the decoded session token handed to the middleware.
type Token struct {
	UID    string
	Claims map[string]any
}

// TokenVerifier verifies bearer session tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Token, error)
}

// HS256Verifier validates HMAC-SHA256 signed session tokens against a shared secret.
type HS256Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// HS256Option customises HS256Verifier behaviour.
type HS256Option func(*HS256Verifier)

// WithIssuer requires the token "iss" claim to match the given issuer.
func WithIssuer(issuer string) HS256Option {
	return func(v *HS256Verifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock injects a custom time source (useful for tests).
func WithClock(now func() time.Time) HS256Option {
	return func(v *HS256Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewHS256Verifier constructs a verifier for the given signing secret.
func NewHS256Verifier(secret string, opts ...HS256Option) (*HS256Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}

	v := &HS256Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyToken parses and validates the token, returning its subject and claims.
func (v *HS256Verifier) VerifyToken(_ context.Context, tokenStr string) (*Token, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("auth: verifier not initialised")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if v.issuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != v.issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
		}
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &Token{UID: subject, Claims: claims}, nil
}

var _ TokenVerifier = (*HS256Verifier)(nil)
