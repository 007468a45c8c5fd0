package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xenking/picklepot-store/internal/domain/auth"
)

const (
	apiKeyHeader       = "X-API-Key"
	legacyAPIKeyHeader = "api_key"
	customerIDHeader   = "X-Customer-ID"

	keyContextKey = "picklepot.api_key"
)

// RequireScope authenticates the request API key and requires scope.
func RequireScope(a Authenticator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(apiKeyHeader)
		if raw == "" {
			raw = c.GetHeader(legacyAPIKeyHeader)
		}
		k, err := a.Authenticate(c.Request.Context(), raw, scope)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(keyContextKey, k)
		c.Next()
	}
}

// apiKey returns the key authenticated by RequireScope, if any.
func apiKey(c *gin.Context) *auth.Key {
	if v, ok := c.Get(keyContextKey); ok {
		if k, ok := v.(*auth.Key); ok {
			return k
		}
	}
	return nil
}

// customerID is set by the upstream auth layer. Empty means guest.
func customerID(c *gin.Context) string {
	return c.GetHeader(customerIDHeader)
}
