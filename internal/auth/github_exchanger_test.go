package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeGitHub struct {
	tokenServer *httptest.Server
	userServer  *httptest.Server
	accessToken string
	lastCode    string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	fake := &fakeGitHub{accessToken: "gh-access-token"}

	fake.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fake.lastCode = body["code"]
		if body["code"] != "valid-code" {
			json.NewEncoder(w).Encode(map[string]string{}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": fake.accessToken}) //nolint:errcheck
	}))
	t.Cleanup(fake.tokenServer.Close)

	fake.userServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token "+fake.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"id":         12345,
			"login":      "octocat",
			"email":      "octocat@example.com",
			"name":       "Octo Cat",
			"avatar_url": "https://avatars.example.com/u/12345",
		})
	}))
	t.Cleanup(fake.userServer.Close)

	return fake
}

func (f *fakeGitHub) exchanger(t *testing.T) *GitHubExchanger {
	t.Helper()
	exchanger, err := NewGitHubExchanger(GitHubExchangerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     f.tokenServer.URL,
		UserURL:      f.userServer.URL,
	})
	if err != nil {
		t.Fatalf("failed to build exchanger: %v", err)
	}
	return exchanger
}

func TestGitHubExchangerRequiresCredentials(t *testing.T) {
	if _, err := NewGitHubExchanger(GitHubExchangerConfig{ClientSecret: "x"}); !errors.Is(err, ErrInvalidExchangeConfig) {
		t.Fatalf("expected ErrInvalidExchangeConfig without client id, got %v", err)
	}
	if _, err := NewGitHubExchanger(GitHubExchangerConfig{ClientID: "x"}); !errors.Is(err, ErrInvalidExchangeConfig) {
		t.Fatalf("expected ErrInvalidExchangeConfig without client secret, got %v", err)
	}
}

func TestGitHubExchangerResolvesIdentity(t *testing.T) {
	fake := newFakeGitHub(t)
	exchanger := fake.exchanger(t)

	identity, err := exchanger.Exchange(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("unexpected exchange error: %v", err)
	}
	if identity.Subject != "12345" {
		t.Fatalf("expected numeric id as subject, got %s", identity.Subject)
	}
	if identity.Email != "octocat@example.com" {
		t.Fatalf("expected email from profile, got %s", identity.Email)
	}
	if identity.DisplayName != "Octo Cat" {
		t.Fatalf("expected profile name, got %s", identity.DisplayName)
	}
	if identity.AvatarURL == "" {
		t.Fatal("expected avatar url from profile")
	}
	if fake.lastCode != "valid-code" {
		t.Fatalf("expected code forwarded to token endpoint, got %s", fake.lastCode)
	}
}

func TestGitHubExchangerRejectsBadCode(t *testing.T) {
	fake := newFakeGitHub(t)
	exchanger := fake.exchanger(t)

	if _, err := exchanger.Exchange(context.Background(), "wrong-code"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed for a rejected code, got %v", err)
	}
}

func TestGitHubExchangerRejectsEmptyCode(t *testing.T) {
	fake := newFakeGitHub(t)
	exchanger := fake.exchanger(t)

	if _, err := exchanger.Exchange(context.Background(), "  "); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed for empty code, got %v", err)
	}
}

func TestGitHubExchangerFallsBackToLoginName(t *testing.T) {
	fake := newFakeGitHub(t)

	nameless := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"id":    777,
			"login": "ghost",
		})
	}))
	t.Cleanup(nameless.Close)

	exchanger, err := NewGitHubExchanger(GitHubExchangerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     fake.tokenServer.URL,
		UserURL:      nameless.URL,
	})
	if err != nil {
		t.Fatalf("failed to build exchanger: %v", err)
	}

	identity, err := exchanger.Exchange(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("unexpected exchange error: %v", err)
	}
	if identity.DisplayName != "ghost" {
		t.Fatalf("expected login fallback, got %s", identity.DisplayName)
	}
}
