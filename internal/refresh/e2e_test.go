package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	identityrepo "refreshguard/internal/identity/repository"
	identityservice "refreshguard/internal/identity/service"
	"refreshguard/internal/security"
	"refreshguard/internal/session/handler"
	sessionrepo "refreshguard/internal/session/repository"
	"refreshguard/internal/session/service"
)

func newAuthServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	users := identityrepo.NewMemoryRepository()
	manager := service.NewManager(sessionrepo.NewMemoryRepository(), tokens,
		service.WithSubjectLookup(identityservice.NewSubjectResolver(users)))
	hasher, err := security.NewHasher(4)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	accounts := identityservice.NewAuthService(users, manager, hasher, nil, nil)
	router := gin.New()
	handler.NewHandler(manager, accounts, handler.CookieOptions{
		Name:   "refresh_token",
		Path:   "/auth",
		MaxAge: manager.RefreshTTL(),
	}).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestTransport_AgainstAuthHandler(t *testing.T) {
	base := newAuthServer(t)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	ts := &TokenSource{}
	client := &http.Client{Jar: jar}
	coord := NewCoordinator(NewHTTPRotator(client, base+DefaultRefreshPath), WithTokenSource(ts))
	client.Transport = &Transport{Tokens: ts, Coordinator: coord}

	body, _ := json.Marshal(map[string]string{"email": "lena@example.com", "password": "password1"})
	resp, err := client.Post(base+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var reg struct {
		AccessToken string `json:"accessToken"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&reg)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || reg.AccessToken == "" {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	// An access token the server no longer accepts forces a refresh through the cookie jar.
	ts.Set("expired")
	resp, err = client.Get(base + "/auth/me")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200 after refresh", resp.StatusCode)
	}
	if tok := ts.Token(); tok == "" || tok == "expired" {
		t.Errorf("token source = %q", tok)
	}

	// Logging out kills the refresh cookie; the next refresh yields the null outcome.
	resp, err = client.Post(base+"/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if tok, err := coord.Refresh(context.Background()); err == nil || tok != "" {
		t.Errorf("Refresh after logout = %q, %v", tok, err)
	}
}
