package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
)

// requestContext unwraps the request context; bare test contexts without a
// request fall back to context.Background.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
