package api

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/app"
	iauth "github.com/otpdeck/otpdeck/internal/auth"
	"github.com/otpdeck/otpdeck/internal/backup"
	"github.com/otpdeck/otpdeck/internal/handlers"
	"github.com/otpdeck/otpdeck/internal/i18n"
	"github.com/otpdeck/otpdeck/internal/middleware"
	"github.com/otpdeck/otpdeck/internal/realtime"
	"github.com/otpdeck/otpdeck/internal/settings"
	"github.com/otpdeck/otpdeck/internal/transfer"
	"github.com/otpdeck/otpdeck/internal/vault"
)

// Deps bundles everything the HTTP surface needs. Optional services may be
// nil; their routes then answer 404.
type Deps struct {
	DB         *gorm.DB
	Config     *app.Config
	Vault      *vault.Service
	Transfer   *transfer.Service
	Backup     *backup.Service
	Settings   *settings.Service
	Translator *i18n.Translator
	Guard      *iauth.Guard
	JWT        *iauth.JWTService
	Hub        *realtime.Hub
	UI         fs.FS
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Vault == nil {
		return nil, fmt.Errorf("vault service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	// Health endpoint (public)
	if deps.Config.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(deps.DB))
	}

	// Metrics endpoint (public)
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.Guard, deps.JWT)

	// Public auth routes. Unlock is rate limited against passphrase guessing.
	auth := r.Group("/api/auth")
	{
		auth.GET("/status", authHandler.Status)
		auth.POST("/unlock", middleware.RateLimit(10, time.Minute), authHandler.Unlock)
	}

	// Catalogs stay public so the unlock screen renders translated.
	i18nHandler := handlers.NewI18nHandler(deps.Translator)
	r.GET("/api/i18n/:lang", i18nHandler.Catalog)

	// The code stream authenticates through its query token.
	streamHandler := handlers.NewStreamHandler(deps.Hub, deps.JWT, deps.Guard)
	r.GET("/api/stream/codes", streamHandler.Codes)

	// Everything else requires an unlock token when a passphrase is set.
	requireUnlock := middleware.Auth(deps.JWT, deps.Guard)

	api := r.Group("/api")
	api.Use(requireUnlock)

	api.POST("/auth/lock", authHandler.Lock)

	// Entries
	entryHandler := handlers.NewEntryHandler(deps.Vault)
	entries := api.Group("/entries")
	{
		entries.GET("", entryHandler.List)
		entries.POST("", entryHandler.Create)
		entries.GET("/:id", entryHandler.Get)
		entries.PUT("/:id", entryHandler.Update)
		entries.DELETE("/:id", entryHandler.Delete)
		entries.GET("/:id/code", entryHandler.Code)
		entries.GET("/:id/uri", entryHandler.URI)
		entries.GET("/:id/qr", entryHandler.QR)
	}
	api.GET("/codes", entryHandler.Codes)

	// Import / export
	transferHandler := handlers.NewTransferHandler(deps.Transfer)
	imports := api.Group("/import")
	{
		imports.POST("/uri", transferHandler.ImportURI)
		imports.POST("/image", transferHandler.ImportImage)
		imports.POST("/json", transferHandler.ImportJSON)
		imports.POST("/uris", transferHandler.ImportURIList)
		imports.POST("/csv", transferHandler.ImportCSV)
	}
	exports := api.Group("/export")
	{
		exports.GET("/json", transferHandler.ExportJSON)
		exports.GET("/csv", transferHandler.ExportCSV)
		exports.GET("/uris", transferHandler.ExportURIList)
		exports.GET("/qr.zip", transferHandler.ExportQRArchive)
		exports.GET("/archive.zip", transferHandler.ExportArchive)
	}

	// Snapshots
	backupHandler := handlers.NewBackupHandler(deps.Backup)
	backups := api.Group("/backups")
	{
		backups.GET("", backupHandler.List)
		backups.POST("", backupHandler.Create)
		backups.POST("/restore", backupHandler.Restore)
		backups.DELETE("/:name", backupHandler.Delete)
	}

	// Preferences
	settingsHandler := handlers.NewSettingsHandler(deps.Settings)
	api.GET("/settings", settingsHandler.Get)
	api.PUT("/settings", settingsHandler.Replace)
	api.PATCH("/settings", settingsHandler.Apply)

	registerUI(r, deps.UI)

	return r, nil
}

// registerUI serves the embedded single-page UI. Unknown non-API paths fall
// back to index.html so client-side routes survive a reload.
func registerUI(r *gin.Engine, ui fs.FS) {
	if ui == nil {
		r.NoRoute(middleware.NotFoundHandler)
		return
	}

	fileServer := http.FileServer(http.FS(ui))

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			middleware.NotFoundHandler(c)
			return
		}

		if path != "/" {
			name := strings.TrimPrefix(path, "/")
			if f, err := ui.Open(name); err == nil {
				f.Close()
				fileServer.ServeHTTP(c.Writer, c.Request)
				return
			}
		}

		c.Request.URL.Path = "/"
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
}
