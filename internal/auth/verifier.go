// Package auth validates the bearer tokens issued by the hosted identity
// backend and resolves them to the owner acting on a request.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no token was presented.
	ErrMissingToken = errors.New("auth: token is required")
	// ErrInvalidToken is returned for malformed, unsigned or mis-addressed tokens.
	ErrInvalidToken = errors.New("auth: token is invalid")
	// ErrExpiredToken is returned when the token is past its expiry.
	ErrExpiredToken = errors.New("auth: token is expired")
)

// Identity is the verified subject of a token.
type Identity struct {
	OwnerID   string
	ExpiresAt time.Time
}

// Config configures a Verifier.
type Config struct {
	Secret   []byte
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Verifier checks HS256 tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	return &Verifier{
		secret: append([]byte(nil), cfg.Secret...),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify validates the token and returns its subject.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{OwnerID: subject}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return identity, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return errors.Join(ErrExpiredToken, err)
	}
	return errors.Join(ErrInvalidToken, err)
}
