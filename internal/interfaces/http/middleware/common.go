package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxRequestIDLength = 128

// CORSConfig mirrors the http.cors_* settings
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORS answers browsers on the campus web origins. Unlisted origins get no
// CORS headers, and "*" never carries credentials. Preflights stop here.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		allowed[o] = true
	}
	anyOrigin := allowed["*"]

	preflight := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(cfg.AllowMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(cfg.AllowHeaders, ", "),
	}
	if len(cfg.ExposeHeaders) > 0 {
		preflight["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposeHeaders, ", ")
	}
	if cfg.MaxAge > 0 {
		preflight["Access-Control-Max-Age"] = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case anyOrigin:
			h.Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			for k, v := range preflight {
				h.Set(k, v)
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID tags the request with the client's X-Request-ID, or a fresh
// uuid when missing or oversized, and threads it into the request logger
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDKey)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDKey, id)

		ctx, _ := logger.WithRequestID(c.Request.Context(), logger.FromContext(c.Request.Context()), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Secure sets browser hardening headers. Message bodies are private, so
// responses are also marked uncacheable. HSTS is left to the TLS proxy.
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
