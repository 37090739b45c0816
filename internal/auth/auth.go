package auth

import (
	"crypto/hmac"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/LeeeWayyy/trading-platform-sub021/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

const tokenTTL = 24 * time.Hour

// Permissions granted to order API clients. The token carries them so route
// guards can scope access without another credential lookup.
var orderAPIPermissions = []string{"orders:read", "orders:write", "positions:read"}

// Credentials is the POST /auth/token body.
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse is the issued JWT and its expiry.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims is the JWT claim set for order API tokens.
type Claims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	Permissions []string `json:"permissions"`
}

type apiClient struct {
	secret   []byte
	clientID string
}

// Service exchanges registered API key pairs for the JWTs that protect the
// order routes. Clients are registered once at startup from configuration.
type Service struct {
	jwtSecret []byte
	clients   map[string]apiClient
}

// NewService creates an authentication service signing tokens with the given
// secret.
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		clients:   make(map[string]apiClient),
	}
}

// RegisterClient registers an API key pair under a client id. Registering the
// same key again replaces its secret. An empty client id falls back to the
// API key so rate-limit attribution stays stable either way.
func (s *Service) RegisterClient(apiKey, apiSecret, clientID string) {
	if clientID == "" {
		clientID = apiKey
	}
	s.clients[apiKey] = apiClient{secret: []byte(apiSecret), clientID: clientID}
}

// GenerateToken exchanges valid API credentials for a signed JWT carrying the
// client id and the order API permissions. Secrets are compared in constant
// time.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	client, ok := s.clients[creds.APIKey]
	if !ok || !hmac.Equal(client.secret, []byte(creds.APISecret)) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiration := now.Add(tokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID:    client.clientID,
		Permissions: orderAPIPermissions,
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies a token's signature and expiry and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
