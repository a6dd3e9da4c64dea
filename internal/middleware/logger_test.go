package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/otpdeck/otpdeck/pkg/logger"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("debug"))

	r := gin.New()
	r.Use(Logger())
	r.GET("/api/entries", func(c *gin.Context) { c.String(http.StatusOK, "listed") })
	r.GET("/api/stream/codes", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("logged route", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entries", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "listed", w.Body.String())
	})

	// the quiet path skips the access log but must still be served
	t.Run("quiet route", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stream/codes", nil))
		require.Equal(t, http.StatusOK, w.Code)
	})
}
