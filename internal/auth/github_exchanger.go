package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubUserURL  = "https://api.github.com/user"
	defaultExchangeTTL    = 15 * time.Second
)

var (
	errMissingClientID       = errors.New("client id configuration required")
	errMissingClientSecret   = errors.New("client secret configuration required")
	errMissingOAuthCode      = errors.New("oauth code must not be empty")
	errEmptyAccessToken      = errors.New("exchange response missing access token")
	ErrInvalidExchangeConfig = errors.New("auth: invalid github exchanger config")
	ErrExchangeFailed        = errors.New("auth: github code exchange failed")
)

// GitHubExchangerConfig bundles configuration for the OAuth code exchange.
type GitHubExchangerConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserURL      string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// GitHubIdentity carries the provider identity resolved for a login code.
type GitHubIdentity struct {
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// GitHubExchanger turns a GitHub OAuth authorization code into a verified
// provider identity. The handshake itself (redirects, scopes) lives on the
// client side; this is the single server-side call made after it succeeds.
type GitHubExchanger struct {
	config     GitHubExchangerConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGitHubExchanger constructs an exchanger with validated configuration.
func NewGitHubExchanger(cfg GitHubExchangerConfig) (*GitHubExchanger, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExchangeConfig, errMissingClientID)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExchangeConfig, errMissingClientSecret)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = defaultGitHubTokenURL
	}
	if strings.TrimSpace(cfg.UserURL) == "" {
		cfg.UserURL = defaultGitHubUserURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultExchangeTTL}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubExchanger{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type userInfoResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Exchange validates the OAuth code with GitHub and fetches the user profile.
func (g *GitHubExchanger) Exchange(ctx context.Context, code string) (GitHubIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return GitHubIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, errMissingOAuthCode)
	}

	accessToken, err := g.fetchAccessToken(ctx, code)
	if err != nil {
		g.logger.Warn("github token exchange failed", zap.Error(err))
		return GitHubIdentity{}, err
	}

	identity, err := g.fetchUserInfo(ctx, accessToken)
	if err != nil {
		g.logger.Warn("github user info fetch failed", zap.Error(err))
		return GitHubIdentity{}, err
	}
	return identity, nil
}

func (g *GitHubExchanger) fetchAccessToken(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     g.config.ClientID,
		"client_secret": g.config.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailed, response.StatusCode)
	}

	var payload accessTokenResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, errEmptyAccessToken)
	}
	return payload.AccessToken, nil
}

func (g *GitHubExchanger) fetchUserInfo(ctx context.Context, accessToken string) (GitHubIdentity, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.UserURL, nil)
	if err != nil {
		return GitHubIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "token "+accessToken)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return GitHubIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode != http.StatusOK {
		return GitHubIdentity{}, fmt.Errorf("%w: user endpoint returned %d", ErrExchangeFailed, response.StatusCode)
	}

	var payload userInfoResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return GitHubIdentity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if payload.ID == 0 {
		return GitHubIdentity{}, fmt.Errorf("%w: user endpoint returned no id", ErrExchangeFailed)
	}

	displayName := payload.Name
	if displayName == "" {
		displayName = payload.Login
	}
	return GitHubIdentity{
		Subject:     strconv.FormatInt(payload.ID, 10),
		Email:       payload.Email,
		DisplayName: displayName,
		AvatarURL:   payload.AvatarURL,
	}, nil
}
