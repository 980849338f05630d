package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/click-ledger/internal/auth/authtest"
)

func newTestResolver(url string) *ProfileResolver {
	return NewProfileResolver(url, nil, time.Second, testLogger())
}

func TestResolve_UsesUserInfo(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := newTestResolver(iss.UserInfoURL())

	profile, ok := p.Resolve(context.Background(), "access-token-123", "user-1")

	assert.True(t, ok)
	assert.Equal(t, "profile@example.com", profile.Email)
	assert.Equal(t, "Profile Name", profile.Name)
	assert.Equal(t, "access-token-123", iss.LastBearer(), "token goes out as the bearer credential")
}

func TestResolve_FieldPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantEmail string
		wantName  string
	}{
		{
			name:      "all fields present",
			body:      `{"email":"e@x.io","name":"Full","given_name":"Given","preferred_username":"pref"}`,
			wantEmail: "e@x.io",
			wantName:  "Full",
		},
		{
			name:      "given_name when name missing",
			body:      `{"email":"e@x.io","given_name":"Given","preferred_username":"pref"}`,
			wantEmail: "e@x.io",
			wantName:  "Given",
		},
		{
			name:      "preferred_username covers both",
			body:      `{"preferred_username":"pref"}`,
			wantEmail: "pref",
			wantName:  "pref",
		},
		{
			name:      "empty object falls back to synthesized values",
			body:      `{}`,
			wantEmail: "user-user-1",
			wantName:  "User",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := authtest.NewIssuer(t)
			iss.SetUserInfo(http.StatusOK, tt.body)

			profile, ok := newTestResolver(iss.UserInfoURL()).Resolve(context.Background(), "tok", "user-1")

			assert.True(t, ok)
			assert.Equal(t, tt.wantEmail, profile.Email)
			assert.Equal(t, tt.wantName, profile.Name)
		})
	}
}

func TestResolve_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid_token"}`},
		{name: "server error", status: http.StatusInternalServerError, body: ``},
		{name: "undecodable body", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss := authtest.NewIssuer(t)
			iss.SetUserInfo(tt.status, tt.body)

			profile, ok := newTestResolver(iss.UserInfoURL()).Resolve(context.Background(), "tok", "user-1")

			assert.False(t, ok)
			assert.Equal(t, Profile{}, profile)
		})
	}
}

func TestResolve_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, ok := newTestResolver(url).Resolve(context.Background(), "tok", "user-1")

	assert.False(t, ok)
}

func TestResolve_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p := NewProfileResolver(srv.URL, nil, 50*time.Millisecond, testLogger())

	start := time.Now()
	_, ok := p.Resolve(context.Background(), "tok", "user-1")

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProfileFromClaims(t *testing.T) {
	tests := []struct {
		name      string
		claims    Claims
		wantEmail string
		wantName  string
	}{
		{
			name:      "email and name claims",
			claims:    Claims{"email": "c@x.io", "name": "Claim Name"},
			wantEmail: "c@x.io",
			wantName:  "Claim Name",
		},
		{
			name:      "preferred_username fills both",
			claims:    Claims{"preferred_username": "pref"},
			wantEmail: "pref",
			wantName:  "pref",
		},
		{
			name:      "username is an email fallback only",
			claims:    Claims{"username": "uname"},
			wantEmail: "uname",
			wantName:  "User",
		},
		{
			name:      "given_name before preferred_username",
			claims:    Claims{"given_name": "Given", "preferred_username": "pref"},
			wantEmail: "pref",
			wantName:  "Given",
		},
		{
			name:      "nothing usable",
			claims:    Claims{"email": 7.0},
			wantEmail: "user-abc",
			wantName:  "User",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfileFromClaims(tt.claims, "abc")

			assert.Equal(t, tt.wantEmail, got.Email)
			assert.Equal(t, tt.wantName, got.Name)
		})
	}
}
