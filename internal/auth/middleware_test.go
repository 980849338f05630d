package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/click-ledger/internal/auth/authtest"
	"github.com/sakif/click-ledger/internal/metrics"
)

// fakeVerifier returns fixed claims for one known token and err otherwise.
type fakeVerifier struct {
	token  string
	claims Claims
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (Claims, error) {
	f.calls++
	if token != f.token {
		return nil, ErrInvalidSignature
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

type fakeProfiles struct {
	profile Profile
	ok      bool
}

func (f *fakeProfiles) Resolve(_ context.Context, _, _ string) (Profile, bool) {
	return f.profile, f.ok
}

// captureIdentity is a terminal handler recording what the middleware stored.
type captureIdentity struct {
	called   bool
	identity *Identity
}

func (c *captureIdentity) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.identity, _ = IdentityFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/clicks/count", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =========================================================================
// REQUIRE AUTH TESTS
// =========================================================================

func TestRequireAuth_HeaderProblems(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantMessage string
		wantReason  string
	}{
		{name: "missing", header: "", wantMessage: msgMissingToken, wantReason: "missing_token"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantMessage: msgMalformedHeader, wantReason: "malformed_header"},
		{name: "scheme only", header: "Bearer", wantMessage: msgMalformedHeader, wantReason: "malformed_header"},
		{name: "empty token", header: "Bearer ", wantMessage: msgMalformedHeader, wantReason: "malformed_header"},
		{name: "three parts", header: "Bearer a b", wantMessage: msgMalformedHeader, wantReason: "malformed_header"},
		{name: "lowercase scheme", header: "bearer tok", wantMessage: msgMalformedHeader, wantReason: "malformed_header"},
		{name: "unverifiable token", header: "Bearer wrong", wantMessage: msgInvalidToken, wantReason: "invalid_signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &fakeVerifier{token: "good", claims: Claims{"sub": "u1"}}
			a := NewAuthenticator(verifier, nil, testLogger())
			next := &captureIdentity{}
			before := testutil.ToFloat64(metrics.AuthFailures.WithLabelValues(tt.wantReason))

			rec := serve(a.RequireAuth(next), tt.header)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.False(t, next.called, "handler must not run")
			body := decodeError(t, rec)
			assert.Equal(t, "unauthorized", body["error"])
			assert.Equal(t, tt.wantMessage, body["message"])
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuthFailures.WithLabelValues(tt.wantReason)))
		})
	}
}

func TestRequireAuth_HeaderProblemsSkipVerifier(t *testing.T) {
	verifier := &fakeVerifier{token: "good"}
	a := NewAuthenticator(verifier, nil, testLogger())

	serve(a.RequireAuth(&captureIdentity{}), "")
	serve(a.RequireAuth(&captureIdentity{}), "Token abc")

	assert.Zero(t, verifier.calls)
}

func TestRequireAuth_MissingSubject(t *testing.T) {
	a := NewAuthenticator(&fakeVerifier{token: "good", claims: Claims{"email": "x@y.z"}}, nil, testLogger())
	next := &captureIdentity{}

	rec := serve(a.RequireAuth(next), "Bearer good")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgMissingSubject, decodeError(t, rec)["message"])
	assert.False(t, next.called)
}

func TestRequireAuth_VerifierFailuresShareOneMessage(t *testing.T) {
	for _, verr := range []error{ErrTokenExpired, ErrIssuerMismatch, ErrAudienceMismatch, ErrKeyNotFound, ErrKeySourceUnreachable, ErrMalformedToken} {
		a := NewAuthenticator(&fakeVerifier{token: "good", err: verr}, nil, testLogger())

		rec := serve(a.RequireAuth(&captureIdentity{}), "Bearer good")

		assert.Equal(t, http.StatusUnauthorized, rec.Code, verr.Error())
		assert.Equal(t, msgInvalidToken, decodeError(t, rec)["message"], verr.Error())
	}
}

func TestRequireAuth_UsesResolvedProfile(t *testing.T) {
	verifier := &fakeVerifier{token: "good", claims: Claims{"sub": "u1", "email": "claims@x.io"}}
	profiles := &fakeProfiles{profile: Profile{Email: "info@x.io", Name: "Info"}, ok: true}
	a := NewAuthenticator(verifier, profiles, testLogger())
	next := &captureIdentity{}

	rec := serve(a.RequireAuth(next), "Bearer good")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, next.identity)
	assert.Equal(t, "u1", next.identity.ID)
	assert.Equal(t, "info@x.io", next.identity.Email)
	assert.Equal(t, "Info", next.identity.Name)
	assert.Equal(t, "claims@x.io", next.identity.Claims.String("email"), "claims kept alongside")
}

func TestRequireAuth_FallsBackToClaims(t *testing.T) {
	verifier := &fakeVerifier{token: "good", claims: Claims{"sub": "u1", "email": "claims@x.io", "given_name": "Given"}}
	a := NewAuthenticator(verifier, &fakeProfiles{ok: false}, testLogger())
	next := &captureIdentity{}

	serve(a.RequireAuth(next), "Bearer good")

	require.NotNil(t, next.identity)
	assert.Equal(t, "claims@x.io", next.identity.Email)
	assert.Equal(t, "Given", next.identity.Name)
}

func TestRequireAuth_NoResolverUsesClaims(t *testing.T) {
	a := NewAuthenticator(&fakeVerifier{token: "good", claims: Claims{"sub": "u1"}}, nil, testLogger())
	next := &captureIdentity{}

	serve(a.RequireAuth(next), "Bearer good")

	require.NotNil(t, next.identity)
	assert.Equal(t, "user-u1", next.identity.Email)
	assert.Equal(t, "User", next.identity.Name)
}

// =========================================================================
// OPTIONAL AUTH TESTS
// =========================================================================

func TestOptionalAuth_AnonymousContinues(t *testing.T) {
	verifier := &fakeVerifier{token: "good"}
	a := NewAuthenticator(verifier, nil, testLogger())
	next := &captureIdentity{}

	rec := serve(a.OptionalAuth(next), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.Nil(t, next.identity)
	assert.Zero(t, verifier.calls)
}

func TestOptionalAuth_BadTokenIsRejected(t *testing.T) {
	a := NewAuthenticator(&fakeVerifier{token: "good"}, nil, testLogger())
	next := &captureIdentity{}

	rec := serve(a.OptionalAuth(next), "Bearer forged")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, next.called, "a presented token is never downgraded to anonymous")
}

func TestOptionalAuth_GoodTokenAttachesIdentity(t *testing.T) {
	a := NewAuthenticator(&fakeVerifier{token: "good", claims: Claims{"sub": "u1"}}, nil, testLogger())
	next := &captureIdentity{}

	serve(a.OptionalAuth(next), "Bearer good")

	require.NotNil(t, next.identity)
	assert.Equal(t, "u1", next.identity.ID)
}

// =========================================================================
// CONTEXT + CONVERSION TESTS
// =========================================================================

func TestIdentityFromContext_Empty(t *testing.T) {
	id, ok := IdentityFromContext(context.Background())

	assert.False(t, ok)
	assert.Nil(t, id)
}

func TestIdentity_User(t *testing.T) {
	id := &Identity{ID: "u1", Email: "a@b.c", Name: "Alice"}

	u := id.User()

	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "a@b.c", u.Email)
	require.NotNil(t, u.Name)
	assert.Equal(t, "Alice", *u.Name)
}

// =========================================================================
// END-TO-END WITH A FAKE ISSUER
// =========================================================================

func TestAuthenticator_EndToEnd(t *testing.T) {
	iss := authtest.NewIssuer(t)
	keys := NewKeySet(iss.KeysURL(), nil, time.Second, testLogger())
	verifier := NewVerifier(keys, iss.URL, authtest.ClientID, 0)
	profiles := NewProfileResolver(iss.UserInfoURL(), nil, time.Second, testLogger())
	a := NewAuthenticator(verifier, profiles, testLogger())

	t.Run("valid token with userinfo", func(t *testing.T) {
		next := &captureIdentity{}
		token := iss.Token(t, "user-1")

		rec := serve(a.RequireAuth(next), "Bearer "+token)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, next.identity)
		assert.Equal(t, "user-1", next.identity.ID)
		assert.Equal(t, "profile@example.com", next.identity.Email)
		assert.Equal(t, token, iss.LastBearer())
	})

	t.Run("userinfo down falls back to claims", func(t *testing.T) {
		iss.SetUserInfo(http.StatusServiceUnavailable, "")
		t.Cleanup(func() {
			iss.SetUserInfo(http.StatusOK, `{"email":"profile@example.com","name":"Profile Name"}`)
		})

		c := iss.Claims("user-2")
		c["email"] = "claims@example.com"
		next := &captureIdentity{}

		rec := serve(a.RequireAuth(next), "Bearer "+iss.Sign(t, c))

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, next.identity)
		assert.Equal(t, "claims@example.com", next.identity.Email)
		assert.Equal(t, "User", next.identity.Name)
	})

	t.Run("expired token", func(t *testing.T) {
		c := iss.Claims("user-1")
		c["exp"] = time.Now().Add(-time.Hour).Unix()
		next := &captureIdentity{}

		rec := serve(a.RequireAuth(next), "Bearer "+iss.Sign(t, c))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, msgInvalidToken, decodeError(t, rec)["message"])
	})
}
