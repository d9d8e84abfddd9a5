package auth

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware verifies the HMAC envelope before any body parsing so the
// signature covers the byte-exact payload. The raw body is restored for
// downstream handlers. Rejections never log body contents.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"ok":    false,
				"error": "failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		sig := c.GetHeader(HeaderSignature)
		ts := c.GetHeader(HeaderTimestamp)
		if err := verifier.Verify(rawBody, sig, ts); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}

		c.Next()
	}
}
