package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/otpdeck/otpdeck/pkg/errors"
)

func performRequest(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/test", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestSuccessEnvelope(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"label": "github"})
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
}

func TestErrorEnvelopeFromAppError(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Error(c, appErrors.ErrDuplicateLabel)
	})

	require.Equal(t, http.StatusConflict, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, appErrors.ErrDuplicateLabel.Code, resp.Error.Code)
}

func TestErrorWrapsUnknownErrors(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Error(c, json.Unmarshal([]byte("{"), &struct{}{}))
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, appErrors.ErrInternalServer.Code, resp.Error.Code)
}

func TestErrorUsesTranslator(t *testing.T) {
	SetTranslator(func(_ *gin.Context, code, fallback string) string {
		if code == appErrors.ErrVaultLocked.Code {
			return "保險庫已鎖定"
		}
		return fallback
	})
	t.Cleanup(func() { SetTranslator(nil) })

	w := performRequest(t, func(c *gin.Context) {
		Error(c, appErrors.ErrVaultLocked)
	})

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "保險庫已鎖定", resp.Error.Message)
	require.Equal(t, appErrors.ErrVaultLocked.Code, resp.Error.Code)
}
