package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/auth/authtest"
)

func newTestVerifier(iss *authtest.Issuer, leeway time.Duration) *Verifier {
	return NewVerifier(newTestKeySet(iss.KeysURL()), iss.URL, authtest.ClientID, leeway)
}

func TestVerify_ValidToken(t *testing.T) {
	iss := authtest.NewIssuer(t)
	v := newTestVerifier(iss, 0)

	claims, err := v.Verify(context.Background(), iss.Token(t, "user-1"))
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject())
	assert.Equal(t, iss.URL, claims.String("iss"))
}

func TestVerify_SingleStringAudience(t *testing.T) {
	iss := authtest.NewIssuer(t)
	v := newTestVerifier(iss, 0)

	c := iss.Claims("user-1")
	c["aud"] = authtest.ClientID

	_, err := v.Verify(context.Background(), iss.Sign(t, c))
	assert.NoError(t, err)
}

func TestVerify_AudienceAmongSeveral(t *testing.T) {
	iss := authtest.NewIssuer(t)
	v := newTestVerifier(iss, 0)

	c := iss.Claims("user-1")
	c["aud"] = []string{"other-api", authtest.ClientID}

	_, err := v.Verify(context.Background(), iss.Sign(t, c))
	assert.NoError(t, err)
}

// tamper swaps the payload segment while keeping the original signature.
func tamper(t *testing.T, token string, claims jwt.MapClaims) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(payload)
	return strings.Join(parts, ".")
}

// TABLE-DRIVEN TESTS:
// Each case builds a token that must be rejected and names the error kind
// the rejection must carry.
func TestVerify_Rejections(t *testing.T) {
	iss := authtest.NewIssuer(t)

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				c := iss.Claims("user-1")
				c["iss"] = "https://evil.example.com"
				return iss.Sign(t, c)
			},
			wantErr: ErrIssuerMismatch,
		},
		{
			name: "issuer with trailing slash is not the same issuer",
			token: func(t *testing.T) string {
				c := iss.Claims("user-1")
				c["iss"] = iss.URL + "/"
				return iss.Sign(t, c)
			},
			wantErr: ErrIssuerMismatch,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				c := iss.Claims("user-1")
				c["aud"] = []string{"someone-else"}
				return iss.Sign(t, c)
			},
			wantErr: ErrAudienceMismatch,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				c := iss.Claims("user-1")
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return iss.Sign(t, c)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "missing exp",
			token: func(t *testing.T) string {
				c := iss.Claims("user-1")
				delete(c, "exp")
				return iss.Sign(t, c)
			},
			wantErr: ErrMalformedToken,
		},
		{
			name: "tampered payload",
			token: func(t *testing.T) string {
				c := iss.Claims("attacker")
				return tamper(t, iss.Token(t, "user-1"), c)
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "HMAC algorithm",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, iss.Claims("user-1"))
				tok.Header["kid"] = iss.CurrentKeyID()
				s, err := tok.SignedString([]byte("shared-secret"))
				require.NoError(t, err)
				return s
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "alg none",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, iss.Claims("user-1"))
				tok.Header["kid"] = iss.CurrentKeyID()
				s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "missing kid",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodRS256, iss.Claims("user-1"))
				s, err := tok.SignedString(mustKeyForNoKid(t))
				require.NoError(t, err)
				return s
			},
			wantErr: ErrMalformedToken,
		},
		{
			name: "signed by a key that was never published",
			token: func(t *testing.T) string {
				return iss.SignUnpublished(t, iss.Claims("user-1"))
			},
			wantErr: ErrKeyNotFound,
		},
		{
			name:    "not a JWT",
			token:   func(t *testing.T) string { return "definitely-not-a-token" },
			wantErr: ErrMalformedToken,
		},
		{
			name:    "empty string",
			token:   func(t *testing.T) string { return "" },
			wantErr: ErrMalformedToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(iss, 0)

			claims, err := v.Verify(context.Background(), tt.token(t))

			require.Error(t, err)
			assert.Nil(t, claims)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.True(t, errors.Is(err, apperror.ErrUnauthenticated), "every rejection is unauthenticated")
		})
	}
}

func TestVerify_LeewayAcceptsRecentlyExpired(t *testing.T) {
	iss := authtest.NewIssuer(t)
	c := iss.Claims("user-1")
	c["exp"] = time.Now().Add(-30 * time.Second).Unix()
	token := iss.Sign(t, c)

	_, err := newTestVerifier(iss, 0).Verify(context.Background(), token)
	assert.True(t, errors.Is(err, ErrTokenExpired), "no leeway: got %v", err)

	_, err = newTestVerifier(iss, time.Minute).Verify(context.Background(), token)
	assert.NoError(t, err, "one minute of leeway covers 30s of skew")
}

// TestVerify_UnknownKidRefetchesExactlyOnce checks the network cost of a
// token signed with an unknown key: one extra fetch, then rejection.
func TestVerify_UnknownKidRefetchesExactlyOnce(t *testing.T) {
	iss := authtest.NewIssuer(t)
	v := newTestVerifier(iss, 0)
	ctx := context.Background()

	_, err := v.Verify(ctx, iss.Token(t, "user-1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), iss.KeyFetches())

	_, err = v.Verify(ctx, iss.SignUnpublished(t, iss.Claims("user-1")))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Equal(t, int64(2), iss.KeyFetches())
}

func TestVerify_AcceptsTokenAfterRotation(t *testing.T) {
	iss := authtest.NewIssuer(t)
	v := newTestVerifier(iss, 0)
	ctx := context.Background()

	old := iss.Token(t, "user-1")
	_, err := v.Verify(ctx, old)
	require.NoError(t, err)

	iss.Rotate(t)

	_, err = v.Verify(ctx, iss.Token(t, "user-1"))
	require.NoError(t, err, "new kid triggers a refresh and succeeds")

	_, err = v.Verify(ctx, old)
	assert.NoError(t, err, "old key is still published")
}

func TestVerify_KeySourceUnreachable(t *testing.T) {
	iss := authtest.NewIssuer(t)
	iss.SetKeysStatus(http.StatusBadGateway)
	v := newTestVerifier(iss, 0)

	_, err := v.Verify(context.Background(), iss.Token(t, "user-1"))

	assert.True(t, errors.Is(err, ErrKeySourceUnreachable), "got %v", err)
	assert.True(t, errors.Is(err, apperror.ErrUnauthenticated))
}

func TestClaims_Helpers(t *testing.T) {
	c := Claims{"sub": "u1", "email": "a@b.c", "count": 3.0}

	assert.Equal(t, "u1", c.Subject())
	assert.Equal(t, "a@b.c", c.String("email"))
	assert.Equal(t, "", c.String("count"), "non-string claims read as empty")
	assert.Equal(t, "", c.String("missing"))
	assert.Equal(t, "", Claims{"sub": 42.0}.Subject())
}

func mustKeyForNoKid(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}
