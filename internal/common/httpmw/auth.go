package httpmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
)

const tokenHeader = "x-repomesh-token"

// RequireToken compares the request token against the configured value.
// The token may arrive in the x-repomesh-token header, an Authorization
// bearer header, or (for WebSocket/SSE clients that cannot set headers)
// a token query parameter.
func RequireToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(tokenHeader)
		if token == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = auth[len("bearer "):]
			}
		}
		if token == "" {
			token = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			appErr := apperrors.Unauthorized("Invalid API token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": appErr.Code, "message": appErr.Message, "details": gin.H{}},
			})
			return
		}
		c.Next()
	}
}
