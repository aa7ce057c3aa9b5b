package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Solana addresses are base58, 32-44 characters.
var solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// WebhookAuth guards the ingestion webhook with a shared secret. Requests
// must carry the secret in X-Webhook-Secret. Auth is skipped when
// WEBHOOK_SECRET is not configured.
func WebhookAuth() gin.HandlerFunc {
	secret := os.Getenv("WEBHOOK_SECRET")

	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid webhook secret",
			})
			return
		}
		c.Next()
	}
}

// BasicAuth implements HTTP Basic Authentication for the management
// endpoints. Skipped when credentials are not configured.
func BasicAuth() gin.HandlerFunc {
	username := os.Getenv("AUTH_USERNAME")
	password := os.Getenv("AUTH_PASSWORD")

	return func(c *gin.Context) {
		if username == "" || password == "" {
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="copiAlpha"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		// Constant-time comparison to prevent timing attacks.
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="copiAlpha"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateAddressParam rejects requests whose :address parameter is not a
// plausible Solana address.
func ValidateAddressParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Param("address")
		if address == "" {
			c.Next()
			return
		}

		if !IsValidSolanaAddress(address) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid address: must be a base58 Solana address",
			})
			return
		}
		c.Next()
	}
}

// ValidateQueryParams validates common list query parameters.
func ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > 1000 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "invalid limit: must be an integer between 1 and 1000",
				})
				return
			}
		}
		c.Next()
	}
}

// RequestLog logs one line per request with method, path, status and latency.
func RequestLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		evt := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// IsValidSolanaAddress checks whether a string looks like a Solana address.
func IsValidSolanaAddress(addr string) bool {
	return solanaAddressRegex.MatchString(strings.TrimSpace(addr))
}
