package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/perchmarket/perch/backend/internal/auth"
	"github.com/perchmarket/perch/backend/internal/oauth"
	"github.com/perchmarket/perch/backend/internal/products"
	"github.com/perchmarket/perch/backend/internal/server"
	"github.com/perchmarket/perch/backend/internal/users"
)

const (
	signingSecret = "integration-secret"
	clientBaseURL = "http://localhost:3000"
)

// fakeProvider stands in for Google: the exchange always resolves to the
// configured profile.
type fakeProvider struct {
	profile oauth.Profile
}

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://accounts.example/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, _ string) (oauth.Profile, error) {
	return p.profile, nil
}

type fixture struct {
	server   *httptest.Server
	client   *http.Client
	provider *fakeProvider
	issuer   *auth.TokenIssuer
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:authflow?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&users.User{}, &products.Product{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Shared-cache memory DBs persist across fixtures within the process.
	if err := db.Exec("DELETE FROM users").Error; err != nil {
		t.Fatalf("failed to reset users: %v", err)
	}

	store, err := users.NewSQLStore(users.SQLStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Store: store, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	productService, err := products.NewService(products.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build product service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "perch-api",
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	provider := &fakeProvider{profile: oauth.Profile{
		SubjectID:   "g-100",
		DisplayName: "Ada Lovelace",
		Email:       "a@x.com",
	}}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Google:        provider,
		Tokens:        issuer,
		Users:         userService,
		Products:      productService,
		ClientBaseURL: clientBaseURL,
		StateSecret:   []byte(signingSecret),
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &fixture{
		server:   testServer,
		client:   client,
		provider: provider,
		issuer:   issuer,
		db:       db,
	}
}

// completeLogin runs both legs of the flow and returns the final redirect URL.
func (f *fixture) completeLogin(t *testing.T) *url.URL {
	t.Helper()

	initiate, err := f.client.Get(f.server.URL + "/api/auth/google")
	if err != nil {
		t.Fatalf("initiate request failed: %v", err)
	}
	defer initiate.Body.Close()
	if initiate.StatusCode != http.StatusFound {
		t.Fatalf("unexpected initiate status %d", initiate.StatusCode)
	}

	var stateCookie *http.Cookie
	for _, cookie := range initiate.Cookies() {
		if cookie.Name == "perch_oauth_state" {
			stateCookie = cookie
		}
	}
	if stateCookie == nil {
		t.Fatalf("initiate leg did not set state cookie")
	}

	location, err := url.Parse(initiate.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse provider redirect: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatalf("provider redirect missing state")
	}

	callbackURL := f.server.URL + "/api/auth/google/callback?code=auth-code&state=" + url.QueryEscape(state)
	request, err := http.NewRequest(http.MethodGet, callbackURL, http.NoBody)
	if err != nil {
		t.Fatalf("failed to build callback request: %v", err)
	}
	request.AddCookie(stateCookie)

	callback, err := f.client.Do(request)
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	defer callback.Body.Close()
	if callback.StatusCode != http.StatusFound {
		t.Fatalf("unexpected callback status %d", callback.StatusCode)
	}

	final, err := url.Parse(callback.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse final redirect: %v", err)
	}
	return final
}

func TestGoogleLoginFlowProvisionsAndReuses(t *testing.T) {
	f := newFixture(t)

	// First login provisions a user and redirects with a verifiable credential.
	final := f.completeLogin(t)
	if !strings.HasPrefix(final.String(), clientBaseURL+"/auth/callback") {
		t.Fatalf("unexpected success redirect %q", final)
	}

	token := final.Query().Get("token")
	if token == "" {
		t.Fatalf("success redirect missing token")
	}
	claims, err := f.issuer.Verify(token)
	if err != nil {
		t.Fatalf("issued token failed verification: %v", err)
	}
	if claims.Email != "a@x.com" {
		t.Fatalf("unexpected email claim %q", claims.Email)
	}

	var payload users.PublicUser
	if err := json.Unmarshal([]byte(final.Query().Get("user")), &payload); err != nil {
		t.Fatalf("user payload is not valid JSON: %v", err)
	}
	if payload.ID != claims.UserID {
		t.Fatalf("user payload id %q does not match token subject %q", payload.ID, claims.UserID)
	}

	// Second login for the same subject reuses the row.
	second := f.completeLogin(t)
	secondToken := second.Query().Get("token")
	secondClaims, err := f.issuer.Verify(secondToken)
	if err != nil {
		t.Fatalf("second token failed verification: %v", err)
	}
	if secondClaims.UserID != claims.UserID {
		t.Fatalf("repeat login changed internal id: %q vs %q", secondClaims.UserID, claims.UserID)
	}

	var count int64
	if err := f.db.Model(&users.User{}).Where("google_id = ?", "g-100").Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row for the subject, got %d", count)
	}
}

func TestGoogleLoginDenialRedirectsWithoutToken(t *testing.T) {
	f := newFixture(t)

	response, err := f.client.Get(f.server.URL + "/api/auth/google/callback?error=access_denied")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusFound {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	location, err := url.Parse(response.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect: %v", err)
	}
	if !strings.HasPrefix(location.String(), clientBaseURL+"/login") {
		t.Fatalf("expected failure redirect to login, got %q", location)
	}
	if location.Query().Get("token") != "" {
		t.Fatalf("failure redirect must not carry a token")
	}

	var count int64
	if err := f.db.Model(&users.User{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("denied flow must not create users, got %d rows", count)
	}
}

func TestLocalAccountRoundTrip(t *testing.T) {
	f := newFixture(t)

	register, err := f.client.Post(f.server.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"username":"Grace","email":"g@x.com","password":"hunter22"}`))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	defer register.Body.Close()
	if register.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected register status %d", register.StatusCode)
	}

	login, err := f.client.Post(f.server.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"email":"g@x.com","password":"hunter22"}`))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer login.Body.Close()
	if login.StatusCode != http.StatusOK {
		t.Fatalf("unexpected login status %d", login.StatusCode)
	}

	var loginPayload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(login.Body).Decode(&loginPayload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginPayload.AccessToken == "" {
		t.Fatalf("login response missing access token")
	}

	request, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/me", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build me request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+loginPayload.AccessToken)

	me, err := f.client.Do(request)
	if err != nil {
		t.Fatalf("me request failed: %v", err)
	}
	defer me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("unexpected me status %d", me.StatusCode)
	}

	var mePayload struct {
		User users.PublicUser `json:"user"`
	}
	if err := json.NewDecoder(me.Body).Decode(&mePayload); err != nil {
		t.Fatalf("failed to decode me response: %v", err)
	}
	if mePayload.User.Email != "g@x.com" {
		t.Fatalf("unexpected me payload %+v", mePayload.User)
	}
}
