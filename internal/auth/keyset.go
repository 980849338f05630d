// Package auth verifies externally issued access tokens and turns them into
// an Identity the handlers can trust.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The SPA signs the user in with the identity provider (Zitadel) and
//     receives an access token. This service never sees a password.
//  2. Every API call carries "Authorization: Bearer <token>".
//  3. Authenticator parses the header and hands the token to the Verifier.
//  4. Verifier picks the signing key named by the token's "kid" header from
//     the KeySet, checks the signature, issuer, audience and expiry.
//  5. ProfileResolver asks the provider's userinfo endpoint for email and
//     name. If that fails, the same fields are read from the token claims.
//  6. The resulting Identity is stored in the request context.
//
// WHY ASYMMETRIC KEYS?
// The provider signs with a private key only it holds and publishes the
// matching public keys as a JSON Web Key Set (JWKS). Any service can verify
// a token without a shared secret, and the provider can rotate keys by
// publishing a new set. The "kid" (key id) header says which key to use.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/metrics"
)

// DefaultKeysPath is where Zitadel publishes its signing keys.
const DefaultKeysPath = "/oauth/v2/keys"

// maxKeySetBytes bounds the key set response body.
const maxKeySetBytes = 1 << 20

var (
	ErrKeyNotFound          = fmt.Errorf("%w: signing key not found", apperror.ErrUnauthenticated)
	ErrKeySourceUnreachable = fmt.Errorf("%w: signing key source unreachable", apperror.ErrUnauthenticated)
)

// KeySet caches the provider's public signing keys by key id.
//
// REFRESH ON MISS:
// There is no TTL. Keys are fetched lazily, and a lookup for an unknown kid
// triggers exactly one re-fetch of the whole set before giving up. That is
// enough to pick up a rotation the first time a token signed with the new
// key arrives, and an attacker inventing kids costs at most one fetch per
// request. Two cold lookups racing may both fetch; the map is only ever
// replaced whole under the write lock.
type KeySet struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.RWMutex
	keys map[string]jose.JSONWebKey
}

// NewKeySet creates a KeySet that fetches from url. A nil client means
// http.DefaultClient. timeout bounds each fetch; zero means 5 seconds.
func NewKeySet(url string, client *http.Client, timeout time.Duration, logger *slog.Logger) *KeySet {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KeySet{
		url:     url,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Key returns the public key for keyID.
//
// Returns ErrKeyNotFound if the id is absent even after a refresh, or
// ErrKeySourceUnreachable if the refresh itself failed.
func (ks *KeySet) Key(ctx context.Context, keyID string) (any, error) {
	if key, ok := ks.lookup(keyID); ok {
		return key, nil
	}

	if err := ks.Refresh(ctx); err != nil {
		return nil, err
	}

	if key, ok := ks.lookup(keyID); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
}

func (ks *KeySet) lookup(keyID string) (any, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	k, ok := ks.keys[keyID]
	if !ok {
		return nil, false
	}
	return k.Key, true
}

// Refresh fetches the full key set and replaces the cache. On failure the
// previous keys stay in place.
func (ks *KeySet) Refresh(ctx context.Context) error {
	keys, err := ks.fetch(ctx)
	if err != nil {
		metrics.KeySetRefreshes.WithLabelValues("error").Inc()
		ks.logger.Warn("key set refresh failed", slog.String("url", ks.url), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrKeySourceUnreachable, err)
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()

	metrics.KeySetRefreshes.WithLabelValues("ok").Inc()
	ks.logger.Debug("key set refreshed", slog.String("url", ks.url), slog.Int("keys", len(keys)))
	return nil
}

// Len reports how many keys are cached.
func (ks *KeySet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// rawKeySet defers decoding of each key so that one key go-jose cannot
// parse (unknown curve, missing field) does not reject the whole set.
type rawKeySet struct {
	Keys []json.RawMessage `json:"keys"`
}

func (ks *KeySet) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	ctx, cancel := context.WithTimeout(ctx, ks.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: creating key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: key set request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("auth: key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("auth: reading key set: %w", err)
	}

	var raw rawKeySet
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("auth: decoding key set: %w", err)
	}
	if raw.Keys == nil {
		return nil, errors.New("auth: key set has no \"keys\" member")
	}

	keys := make(map[string]jose.JSONWebKey, len(raw.Keys))
	for _, msg := range raw.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(msg); err != nil {
			ks.logger.Debug("skipping undecodable key", slog.String("error", err.Error()))
			continue
		}
		if k.KeyID == "" || k.Use == "enc" || !k.IsPublic() || !k.Valid() {
			continue
		}
		keys[k.KeyID] = k
	}
	return keys, nil
}
