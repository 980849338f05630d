package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/metrics"
	"github.com/sakif/click-ledger/internal/model"
)

var (
	ErrMissingToken    = fmt.Errorf("%w: authorization header missing", apperror.ErrUnauthenticated)
	ErrMalformedHeader = fmt.Errorf("%w: authorization header malformed", apperror.ErrUnauthenticated)
	ErrMissingSubject  = fmt.Errorf("%w: token has no subject", apperror.ErrUnauthenticated)
)

// Client-facing messages. Which verifier check failed is logged, never sent.
const (
	msgMissingToken    = "Authentication token not provided"
	msgMalformedHeader = "Invalid token format. Use: Authorization: Bearer <token>"
	msgInvalidToken    = "Invalid or expired token"
	msgMissingSubject  = "Token does not contain user information"
)

// TokenVerifier checks a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// ProfileLookup resolves display information for a verified token.
type ProfileLookup interface {
	Resolve(ctx context.Context, token, subject string) (Profile, bool)
}

var (
	_ TokenVerifier = (*Verifier)(nil)
	_ ProfileLookup = (*ProfileResolver)(nil)
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	ID     string
	Email  string
	Name   string
	Claims Claims
}

// User converts the identity into the ledger's user record.
func (id *Identity) User() *model.User {
	name := id.Name
	return &model.User{ID: id.ID, Email: id.Email, Name: &name}
}

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "identity", id), ANY package that knows the string
// can read or shadow your value. Only THIS package can create a key of type
// contextKey, so only this package can read or write identities.
type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated caller.
//
// Returns (nil, false) if the request is anonymous.
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    // anonymous user
//	}
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// Authenticator turns an Authorization header into an Identity.
type Authenticator struct {
	verifier TokenVerifier
	profiles ProfileLookup
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. profiles may be nil, in which
// case identities are built from token claims only.
func NewAuthenticator(verifier TokenVerifier, profiles ProfileLookup, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		profiles: profiles,
		logger:   logger,
	}
}

// Authenticate runs the full pipeline for one request:
//
//	header → bearer token → verified claims → subject → profile → Identity
//
// Every error it returns wraps apperror.ErrUnauthenticated.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}

	// Exactly "Bearer <token>": one space, no extra parts, non-empty token.
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, ErrMalformedHeader
	}
	token := parts[1]

	ctx := r.Context()

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	subject := claims.Subject()
	if subject == "" {
		return nil, ErrMissingSubject
	}

	profile, ok := Profile{}, false
	if a.profiles != nil {
		profile, ok = a.profiles.Resolve(ctx, token, subject)
	}
	if !ok {
		profile = ProfileFromClaims(claims, subject)
	}

	return &Identity{
		ID:     subject,
		Email:  profile.Email,
		Name:   profile.Name,
		Claims: claims,
	}, nil
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It authenticates the request and stores the Identity in the request
// context. Any failure returns 401 Unauthorized and stops the chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler that wraps it:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalAuth lets anonymous requests through but still verifies any
// token that is presented.
//
// No Authorization header → the request continues anonymously. A header
// that is present but fails any check is a 401, same as RequireAuth;
// a bad token is never silently downgraded to anonymous.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason, message := describe(err)
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	a.logger.Info("authentication failed",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// describe maps an authentication error to a metric reason and the message
// the client sees. Verifier failures all share one message.
func describe(err error) (reason, message string) {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token", msgMissingToken
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header", msgMalformedHeader
	case errors.Is(err, ErrMissingSubject):
		return "missing_subject", msgMissingSubject
	case errors.Is(err, ErrTokenExpired):
		return "expired", msgInvalidToken
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature", msgInvalidToken
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch", msgInvalidToken
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch", msgInvalidToken
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found", msgInvalidToken
	case errors.Is(err, ErrKeySourceUnreachable):
		return "key_source_unreachable", msgInvalidToken
	default:
		return "invalid_token", msgInvalidToken
	}
}
