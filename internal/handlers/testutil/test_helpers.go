package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/api"
	"github.com/otpdeck/otpdeck/internal/app"
	iauth "github.com/otpdeck/otpdeck/internal/auth"
	"github.com/otpdeck/otpdeck/internal/backup"
	sharedtestutil "github.com/otpdeck/otpdeck/internal/database/testutil"
	"github.com/otpdeck/otpdeck/internal/i18n"
	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/realtime"
	"github.com/otpdeck/otpdeck/internal/settings"
	"github.com/otpdeck/otpdeck/internal/transfer"
	"github.com/otpdeck/otpdeck/internal/vault"
	"github.com/otpdeck/otpdeck/pkg/crypto"
	"github.com/otpdeck/otpdeck/pkg/response"
)

// Env wires the full API stack against an in-memory database so handler
// tests exercise real routing, middleware and services.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Vault    *vault.Service
	Transfer *transfer.Service
	Backup   *backup.Service
	Guard    *iauth.Guard
	JWT      *iauth.JWTService
}

// EnvOption customises the environment NewEnv builds.
type EnvOption func(*envConfig)

type envConfig struct {
	passphrase string
}

// WithPassphrase configures the guard with a hashed passphrase so protected
// routes require an unlock token.
func WithPassphrase(passphrase string) EnvOption {
	return func(cfg *envConfig) {
		cfg.passphrase = passphrase
	}
}

// NewEnv builds a fresh environment with migrations and seed data applied.
// Without options the vault has no passphrase and every route is open.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var envCfg envConfig
	for _, opt := range opts {
		opt(&envCfg)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	// light KDF parameters keep the suite fast
	vaultCrypto, err := vault.NewCrypto([]byte("handler-test-key"), vault.WithArgon2Parameters(crypto.Argon2Parameters{
		Time:      1,
		Memory:    64,
		Threads:   1,
		KeyLength: 32,
	}))
	require.NoError(t, err)

	vaultSvc, err := vault.NewService(db, vaultCrypto)
	require.NoError(t, err)

	transferSvc, err := transfer.NewService(vaultSvc)
	require.NoError(t, err)

	backupSvc, err := backup.NewService(db, vaultSvc, backup.Config{
		Directory: t.TempDir(),
		Keep:      5,
	})
	require.NoError(t, err)

	translator, err := i18n.New()
	require.NoError(t, err)
	response.SetTranslator(i18n.ResponseTranslator(translator))

	settingsSvc, err := settings.NewService(db, settings.WithLanguages(translator.Available()))
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "test-suite-super-secret-key-32-bytes!!",
		Issuer: "test-suite",
		TTL:    time.Hour,
	})
	require.NoError(t, err)

	guardCfg := iauth.GuardConfig{}
	if envCfg.passphrase != "" {
		hash, hashErr := crypto.HashPassphrase(envCfg.passphrase)
		require.NoError(t, hashErr)
		guardCfg.PassphraseHash = hash
	}
	guard := iauth.NewGuard(guardCfg)

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Health: app.HealthConfig{Enabled: true},
		},
	}

	router, err := api.NewRouter(api.Deps{
		DB:         db,
		Config:     cfg,
		Vault:      vaultSvc,
		Transfer:   transferSvc,
		Backup:     backupSvc,
		Settings:   settingsSvc,
		Translator: translator,
		Guard:      guard,
		JWT:        jwtSvc,
		Hub:        realtime.NewHub(),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		Vault:    vaultSvc,
		Transfer: transferSvc,
		Backup:   backupSvc,
		Guard:    guard,
		JWT:      jwtSvc,
	}
}

// SeedEntry inserts an entry through the vault service and returns the record.
func (e *Env) SeedEntry(input vault.CreateEntryInput) *models.Entry {
	e.T.Helper()

	if input.Secret == "" {
		input.Secret = "JBSWY3DPEHPK3PXP"
	}
	entry, err := e.Vault.Create(context.Background(), input)
	require.NoError(e.T, err)
	return entry
}

// UnlockToken mirrors the unlock response payload.
type UnlockToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Unlock posts the passphrase and returns the issued unlock token.
func (e *Env) Unlock(passphrase string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/unlock", map[string]string{"passphrase": passphrase}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var token UnlockToken
	DecodeInto(e.T, resp.Data, &token)
	require.NotEmpty(e.T, token.Token)
	return token.Token
}

// APIResponse is the JSON envelope every handler writes.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse unmarshals the recorded body into the envelope.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()

	var resp APIResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err, w.Body.String())
	return resp
}

// DecodeInto unpacks the envelope's data payload into dest.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()

	require.NotNil(t, dest, "destination must not be nil")
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request performs a JSON request against the router. A non-empty token is
// sent as a bearer Authorization header.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		payload = data
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	authorize(req, token)

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// RawRequest sends body verbatim with the given content type, for the import
// endpoints that consume text or binary payloads rather than JSON.
func (e *Env) RawRequest(method, path, contentType string, body []byte, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	authorize(req, token)

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
