package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printbridge/internal/config"
)

const (
	APIKeyHeader = "X-Api-Key"
	TokenIssuer  = "print-bridge"

	tokenQueryParam = "access_token"
	authMethodKey   = "auth_method"
)

var ErrTokenInvalid = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
}

// Auth guards the API with a bcrypt-hashed key or a JWT issued for it.
// With no key hash configured every request passes.
type Auth struct {
	keyHash []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuth(cfg config.AuthConfig) *Auth {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Auth{
		keyHash: []byte(cfg.APIKeyHash),
		secret:  []byte(cfg.JWTSecret),
		ttl:     ttl,
		now:     time.Now,
	}
}

// HashKey produces the value for auth.api_key_hash.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *Auth) Enabled() bool {
	return len(a.keyHash) > 0
}

func (a *Auth) CheckKey(key string) bool {
	return bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)) == nil
}

func (a *Auth) GenerateToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    TokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (a *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrTokenInvalid
}

// getTokenFromRequest reads a bearer token, falling back to the
// access_token query parameter browsers use for websocket upgrades.
func getTokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query(tokenQueryParam)
}

// TokenHandler exchanges the API key for a JWT.
func (a *Auth) TokenHandler(c *gin.Context) {
	if !a.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required", "field": "api_key"})
		return
	}

	if !a.CheckKey(req.APIKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	token, expires, err := a.GenerateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires.UTC()})
}

func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader(APIKeyHeader); key != "" {
			if !a.CheckKey(key) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			c.Set(authMethodKey, "api_key")
			c.Next()
			return
		}

		token := getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if _, err := a.validateToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(authMethodKey, "token")
		c.Next()
	}
}

// AuthMethod reports how the request authenticated: "api_key", "token", or
// "" when auth is disabled.
func AuthMethod(c *gin.Context) string {
	return c.GetString(authMethodKey)
}
