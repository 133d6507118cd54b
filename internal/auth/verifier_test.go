package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testNow    = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newTestVerifier(t *testing.T, audience string) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Secret:   testSecret,
		Audience: audience,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return v
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := newTestVerifier(t, "authenticated")
	token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
		Subject:   "owner-1",
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	})

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", identity.OwnerID)
	assert.True(t, identity.ExpiresAt.Equal(testNow.Add(time.Hour)))
}

func TestVerifyRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "owner-1",
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "empty",
			token: func(*testing.T) string { return "  " },
			want:  ErrMissingToken,
		},
		{
			name:  "garbage",
			token: func(*testing.T) string { return "not-a-jwt" },
			want:  ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), valid)
			},
			want: ErrInvalidToken,
		},
		{
			name: "wrong algorithm",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, testSecret, valid)
			},
			want: ErrInvalidToken,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				claims := valid
				claims.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute))
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			want: ErrExpiredToken,
		},
		{
			name: "missing expiry",
			token: func(t *testing.T) string {
				claims := valid
				claims.ExpiresAt = nil
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			want: ErrInvalidToken,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				claims := valid
				claims.Audience = jwt.ClaimStrings{"anon"}
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			want: ErrInvalidToken,
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				claims := valid
				claims.Subject = ""
				return sign(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			want: ErrInvalidToken,
		},
	}

	v := newTestVerifier(t, "authenticated")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyWithoutAudience(t *testing.T) {
	v := newTestVerifier(t, "")
	token := sign(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
		Subject:   "owner-2",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Minute)),
	})

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "owner-2", identity.OwnerID)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}
