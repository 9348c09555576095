package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultHTTPTimeout = 10 * time.Second

	maxUserInfoBody = 1 << 20
)

var (
	// ErrProviderRejected indicates the provider refused the code exchange or the
	// user declined consent.
	ErrProviderRejected = errors.New("oauth: provider rejected authorization")
	// ErrProfileIncomplete indicates the provider profile lacks a claim the login
	// flow requires (subject or email).
	ErrProfileIncomplete = errors.New("oauth: provider profile incomplete")

	errMissingClientID     = errors.New("oauth: client id required")
	errMissingClientSecret = errors.New("oauth: client secret required")
	errMissingRedirectURL  = errors.New("oauth: redirect url required")
)

// Profile is the normalized identity asserted by the provider. Provider-native
// payloads never travel past this package.
type Profile struct {
	SubjectID   string
	DisplayName string
	Email       string
	AvatarURL   string
}

// GoogleStrategyConfig configures the Google authorization-code strategy.
// Endpoint and UserInfoURL exist so tests can point the strategy at a local
// server; production wiring leaves them zero-valued.
type GoogleStrategyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	HTTPClient   *http.Client
}

// GoogleStrategy performs the authorization-code exchange with Google and
// normalizes the returned profile.
type GoogleStrategy struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleStrategy constructs a strategy with validated configuration.
func NewGoogleStrategy(cfg GoogleStrategyConfig) (*GoogleStrategy, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errMissingRedirectURL
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &GoogleStrategy{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"profile", "email"},
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
	}, nil
}

// AuthorizationURL returns the provider consent URL carrying the anti-forgery state.
func (s *GoogleStrategy) AuthorizationURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for an access grant, fetches the
// provider's profile representation, and normalizes it.
func (s *GoogleStrategy) Exchange(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, fmt.Errorf("%w: empty authorization code", ErrProviderRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	profile, err := s.fetchProfile(ctx, token)
	if err != nil {
		return Profile{}, err
	}

	if profile.SubjectID == "" || profile.Email == "" {
		return Profile{}, fmt.Errorf("%w: subject or email missing", ErrProfileIncomplete)
	}

	return profile, nil
}

type userInfoPayload struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

func (s *GoogleStrategy) fetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}

	response, err := s.config.Client(ctx, token).Do(request)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: userinfo request failed: %v", ErrProviderRejected, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: userinfo returned status %d", ErrProviderRejected, response.StatusCode)
	}

	var payload userInfoPayload
	if err := json.NewDecoder(io.LimitReader(response.Body, maxUserInfoBody)).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("%w: userinfo decode failed", ErrProfileIncomplete)
	}

	return Profile{
		SubjectID:   strings.TrimSpace(payload.Subject),
		DisplayName: strings.TrimSpace(payload.Name),
		Email:       strings.TrimSpace(payload.Email),
		AvatarURL:   strings.TrimSpace(payload.Picture),
	}, nil
}
