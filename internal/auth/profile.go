package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/click-ledger/internal/metrics"
)

// DefaultUserInfoPath is Zitadel's OIDC userinfo endpoint.
const DefaultUserInfoPath = "/oidc/v1/userinfo"

const (
	defaultName     = "User"
	maxProfileBytes = 1 << 20
)

// Profile is the display information attached to an Identity.
// Both fields are always non-empty once a fallback rule has been applied.
type Profile struct {
	Email string
	Name  string
}

// userInfo is the portion of the OIDC userinfo response we care about.
// Providers return many more fields; we only unmarshal the ones we use.
type userInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	PreferredUsername string `json:"preferred_username"`
}

// ProfileResolver fetches the signed-in user's profile from the provider.
//
// OAUTH2 CLIENT:
// oauth2.NewClient wraps an *http.Client so every request carries
// "Authorization: Bearer <token>". We already hold the user's access token,
// so a StaticTokenSource is all we need; there is no code exchange here.
type ProfileResolver struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewProfileResolver creates a resolver for url. The base client's transport
// is reused for outbound calls; a nil client means http.DefaultClient.
// timeout bounds each lookup; zero means 5 seconds.
func NewProfileResolver(url string, client *http.Client, timeout time.Duration, logger *slog.Logger) *ProfileResolver {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProfileResolver{
		url:     url,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve looks up the profile for token. ok is false when the endpoint
// can't be used: network error, timeout, non-2xx status or a body that
// doesn't decode. Callers fall back to ProfileFromClaims in that case.
func (p *ProfileResolver) Resolve(ctx context.Context, token, subject string) (Profile, bool) {
	info, err := p.fetch(ctx, token)
	if err != nil {
		metrics.ProfileLookups.WithLabelValues("unavailable").Inc()
		p.logger.Warn("profile lookup unavailable, using token claims",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return Profile{}, false
	}

	metrics.ProfileLookups.WithLabelValues("ok").Inc()
	return Profile{
		Email: firstNonEmpty(info.Email, info.PreferredUsername, "user-"+subject),
		Name:  firstNonEmpty(info.Name, info.GivenName, info.PreferredUsername, defaultName),
	}, true
}

func (p *ProfileResolver) fetch(ctx context.Context, token string) (*userInfo, error) {
	// oauth2.NewClient takes the transport from the base client but not its
	// Timeout, so the deadline goes on the request context instead.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, p.client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: creating userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling userinfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("auth: userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding userinfo response: %w", err)
	}

	return &info, nil
}

// ProfileFromClaims builds a Profile from the token claims alone.
//
//	email ← email, preferred_username, username, "user-<sub>"
//	name  ← name, given_name, preferred_username, "User"
func ProfileFromClaims(claims Claims, subject string) Profile {
	return Profile{
		Email: firstNonEmpty(
			claims.String("email"),
			claims.String("preferred_username"),
			claims.String("username"),
			"user-"+subject,
		),
		Name: firstNonEmpty(
			claims.String("name"),
			claims.String("given_name"),
			claims.String("preferred_username"),
			defaultName,
		),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
