package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/auth"
)

// AdminAPIKey returns a middleware that guards administrative routes with a
// static bearer API key. An empty configured key rejects every request; the
// caller should not register admin routes at all in that case.
func AdminAPIKey(configuredKey string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_auth").Logger()

	return func(c *gin.Context) {
		token := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		if !auth.IsValidAPIKeyFormat(token) || !auth.CompareAPIKey(token, configuredKey) {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("rejected admin request with invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
