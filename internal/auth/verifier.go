package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/click-ledger/internal/apperror"
)

// Every verification failure wraps apperror.ErrUnauthenticated, so callers
// that only care about "rejected or not" can check that one sentinel.
var (
	ErrMalformedToken   = fmt.Errorf("%w: malformed token", apperror.ErrUnauthenticated)
	ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", apperror.ErrUnauthenticated)
	ErrIssuerMismatch   = fmt.Errorf("%w: token issuer mismatch", apperror.ErrUnauthenticated)
	ErrAudienceMismatch = fmt.Errorf("%w: token audience mismatch", apperror.ErrUnauthenticated)
	ErrTokenExpired     = fmt.Errorf("%w: token expired", apperror.ErrUnauthenticated)
)

// SupportedAlgorithms are the asymmetric JWS algorithms accepted in the
// token header. HMAC and "none" are never accepted.
var SupportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// KeySource resolves a key id to a public verification key.
type KeySource interface {
	Key(ctx context.Context, keyID string) (any, error)
}

var _ KeySource = (*KeySet)(nil)

// Claims is the verified token payload.
type Claims map[string]any

// Subject returns the "sub" claim, or "" if it is absent or not a string.
func (c Claims) Subject() string {
	return c.String("sub")
}

// String returns the claim as a string. Non-string values yield "".
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Verifier checks access tokens issued by one issuer for one client.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier creates a Verifier. audience is the client id that must
// appear in the token's "aud" claim.
func NewVerifier(keys KeySource, issuer, audience string, leeway time.Duration) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}
}

// Verify parses tokenStr, verifies its signature against the key set and
// validates the registered claims.
//
// VALIDATION CHECKS (performed by the jwt library, in this order):
//   - Algorithm is one of SupportedAlgorithms (prevents algorithm confusion)
//   - Signature is valid for the key named by the "kid" header
//   - "exp" is present and in the future (within leeway)
//   - "iss" equals the configured issuer exactly
//   - "aud" contains the configured client id
//
// A failed verification is never retried; the only network retry is the
// one key set refresh a kid miss triggers inside the KeySet.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (Claims, error) {
	token, err := jwt.Parse(
		tokenStr,
		func(token *jwt.Token) (any, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("%w: header missing kid", ErrMalformedToken)
			}
			return v.keys.Key(ctx, kid)
		},
		jwt.WithValidMethods(SupportedAlgorithms),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, classify(err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrMalformedToken
	}

	return Claims(mc), nil
}

// classify translates a jwt library error into this package's taxonomy.
// Key lookup errors keep their own identity (ErrKeyNotFound,
// ErrKeySourceUnreachable) because the keyfunc error is wrapped, not replaced.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrKeySourceUnreachable),
		errors.Is(err, ErrMalformedToken):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %w", ErrAudienceMismatch, err)
	default:
		// Missing exp, non-numeric dates and other claim shape problems.
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}
