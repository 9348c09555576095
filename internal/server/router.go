package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perchmarket/perch/backend/internal/auth"
	"github.com/perchmarket/perch/backend/internal/oauth"
	"github.com/perchmarket/perch/backend/internal/products"
	"github.com/perchmarket/perch/backend/internal/users"
)

const (
	userIDContextKey = "perch_user_id"

	clientCallbackPath = "/auth/callback"
	clientLoginPath    = "/login"

	defaultFlowTimeout = 15 * time.Second
)

var (
	errMissingGoogleStrategy = errors.New("google strategy dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
	errMissingCatalog        = errors.New("catalog dependency required")
	errMissingClientBaseURL  = errors.New("client base url required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// GoogleAuthorizer is the provider strategy seam consumed by the flow controller.
type GoogleAuthorizer interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (oauth.Profile, error)
}

// TokenManager issues and verifies first-party credentials.
type TokenManager interface {
	Issue(identity auth.Identity) (string, int64, error)
	Verify(token string) (auth.Claims, error)
}

// UserDirectory reconciles provider identities and manages local accounts.
type UserDirectory interface {
	Reconcile(ctx context.Context, profile oauth.Profile) (users.User, error)
	Register(ctx context.Context, displayName, email, password string) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	FindByID(ctx context.Context, id string) (users.User, error)
}

// Catalog serves product reads.
type Catalog interface {
	List(ctx context.Context) ([]products.Product, error)
	Get(ctx context.Context, id string) (products.Product, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	Google        GoogleAuthorizer
	Tokens        TokenManager
	Users         UserDirectory
	Products      Catalog
	ClientBaseURL string
	StateSecret   []byte
	FlowTimeout   time.Duration
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router serving the storefront API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Google == nil {
		return nil, errMissingGoogleStrategy
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Products == nil {
		return nil, errMissingCatalog
	}
	clientBaseURL := strings.TrimRight(strings.TrimSpace(deps.ClientBaseURL), "/")
	if clientBaseURL == "" {
		return nil, errMissingClientBaseURL
	}
	state, err := newStateCodec(deps.StateSecret)
	if err != nil {
		return nil, err
	}
	flowTimeout := deps.FlowTimeout
	if flowTimeout <= 0 {
		flowTimeout = defaultFlowTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{clientBaseURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		google:        deps.Google,
		tokens:        deps.Tokens,
		users:         deps.Users,
		products:      deps.Products,
		state:         state,
		clientBaseURL: clientBaseURL,
		flowTimeout:   flowTimeout,
		logger:        logger,
	}

	router.GET("/api/auth/google", handler.handleGoogleLogin)
	router.GET("/api/auth/google/callback", handler.handleGoogleCallback)
	router.POST("/api/auth/register", handler.handleRegister)
	router.POST("/api/auth/login", handler.handleLogin)
	router.GET("/api/products", handler.handleListProducts)
	router.GET("/api/products/:id", handler.handleGetProduct)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)

	return router, nil
}

type httpHandler struct {
	google        GoogleAuthorizer
	tokens        TokenManager
	users         UserDirectory
	products      Catalog
	state         *stateCodec
	clientBaseURL string
	flowTimeout   time.Duration
	logger        *zap.Logger
}

// handleGoogleLogin starts the authorization-code flow: mint the anti-forgery
// correlator, bind it to the browser, and hand the user to the provider.
func (h *httpHandler) handleGoogleLogin(c *gin.Context) {
	state, err := h.state.newState()
	if err != nil {
		h.logger.Error("failed to mint oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_unavailable"})
		return
	}
	setStateCookie(c, state)
	c.Redirect(http.StatusFound, h.google.AuthorizationURL(state))
}

// handleGoogleCallback completes the flow: validate the correlator, exchange
// the code, reconcile the identity, mint a credential, and send the browser
// back to the client application. Every failure lands on the client login page.
func (h *httpHandler) handleGoogleCallback(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.flowTimeout)
	defer cancel()

	query := c.Request.URL.Query()

	cookie, cookieErr := c.Request.Cookie(stateCookieName)
	clearStateCookie(c)

	if providerError := strings.TrimSpace(query.Get("error")); providerError != "" {
		h.logger.Info("provider returned error", zap.String("error", providerError))
		h.redirectFailure(c)
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		h.logger.Info("callback missing authorization code")
		h.redirectFailure(c)
		return
	}

	state := strings.TrimSpace(query.Get("state"))
	if cookieErr != nil || !h.state.validate(state) || cookie.Value != state {
		h.logger.Warn("oauth state mismatch")
		h.redirectFailure(c)
		return
	}

	profile, err := h.google.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderRejected) || errors.Is(err, oauth.ErrProfileIncomplete) {
			h.logger.Info("provider exchange rejected", zap.Error(err))
		} else {
			h.logger.Error("provider exchange failed", zap.Error(err))
		}
		h.redirectFailure(c)
		return
	}

	user, err := h.users.Reconcile(ctx, profile)
	if err != nil {
		h.logger.Error("identity reconciliation failed", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	token, _, err := h.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		h.logger.Error("failed to issue credential", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	payload, err := json.Marshal(user.Public())
	if err != nil {
		h.logger.Error("failed to serialize user payload", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	values := url.Values{}
	values.Set("token", token)
	values.Set("user", string(payload))
	c.Redirect(http.StatusFound, h.clientBaseURL+clientCallbackPath+"?"+values.Encode())
}

func (h *httpHandler) redirectFailure(c *gin.Context) {
	c.Redirect(http.StatusFound, h.clientBaseURL+clientLoginPath)
}

type registerRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), request.Username, request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrStoreUnavailable):
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user.Public()})
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	User        users.PublicUser `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		h.logger.Error("failed to issue credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        user.Public(),
	})
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	ImageURL    string `json:"image_url,omitempty"`
}

func toProductPayload(p products.Product) productPayload {
	return productPayload{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		ImageURL:    p.ImageURL,
	}
}

func (h *httpHandler) handleListProducts(c *gin.Context) {
	items, err := h.products.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog_unavailable"})
		return
	}

	response := make([]productPayload, 0, len(items))
	for _, item := range items {
		response = append(response, toProductPayload(item))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetProduct(c *gin.Context) {
	item, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, products.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to fetch product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog_unavailable"})
		return
	}
	c.JSON(http.StatusOK, toProductPayload(item))
}

func (h *httpHandler) handleMe(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to load user", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

// authorizeRequest validates the bearer credential without revealing whether it
// was malformed or expired.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}
