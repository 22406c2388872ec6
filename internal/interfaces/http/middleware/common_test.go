package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw...)
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func TestCORS(t *testing.T) {
	router := newTestRouter(CORS(CORSConfig{AllowMethods: []string{"GET"}}))

	t.Run("empty whitelist sets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "http://malicious.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight is answered with 204", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/test", nil)
		req.Header.Set("Origin", "http://some-origin.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_Whitelist(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins:     []string{"http://localhost:3000", "https://campus.example.edu"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}
	router := newTestRouter(CORS(cfg))

	tests := []struct {
		name        string
		method      string
		origin      string
		wantOrigin  string
		wantStatus  int
		wantMaxAge  string
		wantCredsOn bool
	}{
		{"listed origin", http.MethodGet, "http://localhost:3000", "http://localhost:3000", http.StatusOK, "3600", true},
		{"second listed origin", http.MethodGet, "https://campus.example.edu", "https://campus.example.edu", http.StatusOK, "3600", true},
		{"unlisted origin", http.MethodGet, "http://evil.com", "", http.StatusOK, "", false},
		{"listed preflight", http.MethodOptions, "http://localhost:3000", "http://localhost:3000", http.StatusNoContent, "3600", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantMaxAge, w.Header().Get("Access-Control-Max-Age"))
			if tt.wantCredsOn {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
			assert.Contains(t, w.Header().Values("Vary"), "Origin")
		})
	}

	t.Run("wildcard never allows credentials", func(t *testing.T) {
		router := newTestRouter(CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}))
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "http://anything.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey)+"|"+logger.GetRequestID(c.Request.Context()))
	})

	t.Run("generates an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		id := w.Header().Get(RequestIDKey)
		assert.Len(t, id, 36)
		assert.Equal(t, id+"|"+id, w.Body.String())
	})

	t.Run("reuses the client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDKey, "client-req-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "client-req-1", w.Header().Get(RequestIDKey))
	})
}

func TestSecure(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(Secure()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
