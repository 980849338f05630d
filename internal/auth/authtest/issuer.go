// Package authtest runs an in-process identity provider for tests.
//
// The Issuer serves a JSON Web Key Set and a userinfo endpoint at the same
// paths Zitadel uses, and signs tokens with a key it publishes. Tests can
// rotate keys, sign with keys the set doesn't contain, and make either
// endpoint fail.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	KeysPath     = "/oauth/v2/keys"
	UserInfoPath = "/oidc/v1/userinfo"

	// ClientID is the audience tokens are issued for by default.
	ClientID = "test-client"
)

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

// Issuer is a fake OIDC provider backed by an httptest.Server.
type Issuer struct {
	URL string

	server *httptest.Server

	mu             sync.Mutex
	current        signingKey
	published      []signingKey
	keysStatus     int
	userInfoStatus int
	userInfoBody   string
	lastBearer     string

	keyFetches    atomic.Int64
	userInfoCalls atomic.Int64
}

// NewIssuer starts an Issuer with one published RS256 key. The server is
// closed when the test ends.
//
// The default userinfo response is 200 with email "profile@example.com" and
// name "Profile Name".
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	iss := &Issuer{
		keysStatus:     http.StatusOK,
		userInfoStatus: http.StatusOK,
		userInfoBody:   `{"sub":"user-1","email":"profile@example.com","name":"Profile Name"}`,
	}
	iss.current = newSigningKey(t)
	iss.published = []signingKey{iss.current}

	r := chi.NewRouter()
	r.Get(KeysPath, iss.serveKeys)
	r.Get(UserInfoPath, iss.serveUserInfo)

	iss.server = httptest.NewServer(r)
	iss.URL = iss.server.URL
	t.Cleanup(iss.server.Close)

	return iss
}

func newSigningKey(t testing.TB) signingKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return signingKey{kid: xid.New().String(), priv: priv}
}

// KeysURL is the full key set URL.
func (iss *Issuer) KeysURL() string { return iss.URL + KeysPath }

// UserInfoURL is the full userinfo URL.
func (iss *Issuer) UserInfoURL() string { return iss.URL + UserInfoPath }

// KeyFetches reports how many times the key set has been requested.
func (iss *Issuer) KeyFetches() int64 { return iss.keyFetches.Load() }

// UserInfoCalls reports how many times userinfo has been requested.
func (iss *Issuer) UserInfoCalls() int64 { return iss.userInfoCalls.Load() }

// LastBearer returns the bearer token sent with the last userinfo call.
func (iss *Issuer) LastBearer() string {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.lastBearer
}

// CurrentKeyID is the kid tokens are signed with.
func (iss *Issuer) CurrentKeyID() string {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.current.kid
}

// SetKeysStatus makes the key set endpoint answer with status. Any
// non-200 status returns an empty body.
func (iss *Issuer) SetKeysStatus(status int) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.keysStatus = status
}

// SetUserInfo replaces the userinfo response.
func (iss *Issuer) SetUserInfo(status int, body string) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.userInfoStatus = status
	iss.userInfoBody = body
}

// Rotate creates a new signing key and publishes it next to the old ones.
// Tokens signed afterwards carry the new kid.
func (iss *Issuer) Rotate(t testing.TB) {
	t.Helper()
	k := newSigningKey(t)

	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.current = k
	iss.published = append(iss.published, k)
}

// Claims returns a valid claim set for sub: correct issuer and audience,
// issued now, expiring in an hour.
func (iss *Issuer) Claims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": iss.URL,
		"aud": []string{ClientID},
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Token signs the default claims for sub.
func (iss *Issuer) Token(t testing.TB, sub string) string {
	t.Helper()
	return iss.Sign(t, iss.Claims(sub))
}

// Sign signs claims with the current key using RS256.
func (iss *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	iss.mu.Lock()
	k := iss.current
	iss.mu.Unlock()
	return sign(t, k, claims)
}

// SignUnpublished signs claims with a fresh key that never appears in the
// key set.
func (iss *Issuer) SignUnpublished(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return sign(t, newSigningKey(t), claims)
}

func sign(t testing.TB, k signingKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.kid
	signed, err := tok.SignedString(k.priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func (iss *Issuer) serveKeys(w http.ResponseWriter, r *http.Request) {
	iss.keyFetches.Add(1)

	iss.mu.Lock()
	status := iss.keysStatus
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(iss.published))}
	for _, k := range iss.published {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &k.priv.PublicKey,
			KeyID:     k.kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	}
	iss.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (iss *Issuer) serveUserInfo(w http.ResponseWriter, r *http.Request) {
	iss.userInfoCalls.Add(1)

	iss.mu.Lock()
	iss.lastBearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	status, body := iss.userInfoStatus, iss.userInfoBody
	iss.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
