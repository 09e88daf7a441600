package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printbridge/internal/config"
)

const testKey = "pos-terminal-key"

func init() {
	gin.SetMode(gin.TestMode)
}

func testAuth(t *testing.T) *Auth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuth(config.AuthConfig{
		APIKeyHash: string(hash),
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
	})
}

func authEngine(a *Auth) *gin.Engine {
	r := gin.New()
	r.POST("/auth/token", a.TokenHandler)
	r.GET("/private", a.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"method": AuthMethod(c)})
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey(testKey)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(testKey)))

	_, err = HashKey("")
	assert.Error(t, err)
}

func TestRequireAuth_Disabled(t *testing.T) {
	r := authEngine(NewAuth(config.AuthConfig{}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/private", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"method":""}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"x"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequireAuth_APIKey(t *testing.T) {
	r := authEngine(testAuth(t))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(APIKeyHeader, testKey)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"method":"api_key"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/private", nil)).Code)
}

func TestTokenFlow(t *testing.T) {
	r := authEngine(testAuth(t))

	w := serve(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"`+testKey+`"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"method":"token"}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/private?access_token="+resp.Token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_RejectsBadTokens(t *testing.T) {
	a := testAuth(t)
	r := authEngine(a)

	sign := func(claims jwt.RegisteredClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	now := time.Now()

	tests := map[string]string{
		"expired": sign(jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		}, "test-secret"),
		"wrong issuer": sign(jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}, "test-secret"),
		"wrong secret": sign(jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}, "other-secret"),
		"garbage": "not.a.jwt",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
		})
	}

	t.Run("expires with the clock", func(t *testing.T) {
		token, _, err := a.GenerateToken()
		require.NoError(t, err)
		a.now = func() time.Time { return now.Add(2 * time.Hour) }
		defer func() { a.now = time.Now }()

		_, err = a.validateToken(token)
		assert.Error(t, err)
	})
}

func TestCORS(t *testing.T) {
	newEngine := func(origins []string) *gin.Engine {
		r := gin.New()
		r.Use(CORS(DefaultCORSConfig(origins)))
		r.POST("/print", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	t.Run("preflight allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/print", nil)
		req.Header.Set("Origin", "https://pos.example.com")
		w := serve(newEngine([]string{"https://pos.example.com"}), req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://pos.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
		assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("other origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/print", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := serve(newEngine([]string{"https://pos.example.com"}), req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/print", nil)
		req.Header.Set("Origin", "https://anything.example.com")
		w := serve(newEngine([]string{"*"}), req)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("empty list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/print", nil)
		req.Header.Set("Origin", "https://pos.example.com")
		w := serve(newEngine(nil), req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(16))
	r.POST("/print", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/print", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/print", strings.NewReader(`{"texto":"far too long for the limit"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestFieldError(t *testing.T) {
	UseJSONFieldNames()

	type req struct {
		IP    string `json:"ip" binding:"required"`
		Limit int    `form:"limit" binding:"max=10"`
	}

	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var body req
		err := c.ShouldBindJSON(&body)
		field, msg, ok := FieldError(err)
		c.JSON(http.StatusOK, gin.H{"field": field, "message": msg, "ok": ok})
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"Limit":3}`)))
	assert.JSONEq(t, `{"field":"ip","message":"ip is required","ok":true}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ip":"a","Limit":30}`)))
	assert.JSONEq(t, `{"field":"limit","message":"limit must be at most 10","ok":true}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	assert.JSONEq(t, `{"field":"","message":"","ok":false}`, w.Body.String())
}
