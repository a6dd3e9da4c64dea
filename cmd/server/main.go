package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/api"
	"github.com/otpdeck/otpdeck/internal/app"
	"github.com/otpdeck/otpdeck/internal/audit"
	iauth "github.com/otpdeck/otpdeck/internal/auth"
	"github.com/otpdeck/otpdeck/internal/backup"
	"github.com/otpdeck/otpdeck/internal/database"
	"github.com/otpdeck/otpdeck/internal/i18n"
	"github.com/otpdeck/otpdeck/internal/realtime"
	"github.com/otpdeck/otpdeck/internal/settings"
	"github.com/otpdeck/otpdeck/internal/transfer"
	"github.com/otpdeck/otpdeck/internal/vault"
	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/response"
	"github.com/otpdeck/otpdeck/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "otpdeck:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("otpdeck", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	configPath := fs.String("config", "", "path to a configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(*configPath)
	if err != nil {
		return err
	}

	// The configured key must win over any stored one, so remember whether
	// it was set before runtime defaults fill the blanks.
	configuredVaultKey := strings.TrimSpace(cfg.Vault.EncryptionKey)

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	// Reuse the stored master key across restarts unless one is configured,
	// or encrypted secrets would become unreadable after every boot.
	masterKey, err := database.ResolveVaultEncryptionKey(ctx, db, configuredVaultKey, cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("resolve vault key: %w", err)
	}
	cfg.Vault.EncryptionKey = masterKey

	keyBytes, err := app.DecodeKey(masterKey)
	if err != nil {
		return fmt.Errorf("decode vault key: %w", err)
	}

	vaultCrypto, err := vault.NewCrypto(keyBytes)
	if err != nil {
		return fmt.Errorf("initialise vault crypto: %w", err)
	}

	auditSvc, err := audit.NewService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	vaultSvc, err := vault.NewService(db, vaultCrypto, vault.WithAudit(auditSvc))
	if err != nil {
		return fmt.Errorf("initialise vault service: %w", err)
	}
	vaultSvc.RefreshEntriesGauge(ctx)

	transferSvc, err := transfer.NewService(vaultSvc, transfer.WithAudit(auditSvc))
	if err != nil {
		return fmt.Errorf("initialise transfer service: %w", err)
	}

	translator, err := i18n.New(i18n.WithDefault(cfg.I18n.DefaultLanguage))
	if err != nil {
		return fmt.Errorf("initialise i18n: %w", err)
	}
	response.SetTranslator(i18n.ResponseTranslator(translator))

	settingsSvc, err := settings.NewService(db,
		settings.WithAudit(auditSvc),
		settings.WithLanguages(translator.Available()),
	)
	if err != nil {
		return fmt.Errorf("initialise settings service: %w", err)
	}

	backupSvc, err := backup.NewService(db, vaultSvc, backupConfig(cfg), backup.WithAudit(auditSvc))
	if err != nil {
		return fmt.Errorf("initialise backup service: %w", err)
	}
	if err := backupSvc.Start(); err != nil {
		return fmt.Errorf("start backup scheduler: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}
	guard := iauth.NewGuard(cfg.Auth.GuardConfig())

	hub := realtime.NewHub()
	var broadcaster *realtime.Broadcaster
	if cfg.Stream.Enabled {
		broadcaster = realtime.NewBroadcaster(hub, vaultSvc, cfg.Stream.Interval)
		broadcaster.Start()
	}

	ui, err := web.FS()
	if err != nil {
		return fmt.Errorf("load embedded ui: %w", err)
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
		Hub:        hub,
		UI:         ui,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	serveErr := serveUntilShutdown(ctx, &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: router,
	}, log)

	if broadcaster != nil {
		broadcaster.Stop()
	}
	<-backupSvc.Stop().Done()

	if serveErr != nil {
		return serveErr
	}
	log.Info("server stopped gracefully")
	return nil
}

// serveUntilShutdown runs the HTTP server until ctx is cancelled or the
// listener fails on its own, then drains in-flight requests within
// shutdownTimeout.
func serveUntilShutdown(ctx context.Context, server *http.Server, log *zap.Logger) error {
	failed := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-failed; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	case err != nil:
		return nil, fmt.Errorf("stat config path: %w", err)
	case info.IsDir():
		return app.LoadConfig(path)
	default:
		return app.LoadConfig(filepath.Dir(path))
	}
}

func backupConfig(cfg *app.Config) backup.Config {
	return backup.Config{
		Enabled:            cfg.Backup.Enabled,
		Directory:          cfg.Backup.Directory,
		Schedule:           cfg.Backup.Schedule,
		Keep:               cfg.Backup.Keep,
		AuditRetentionDays: cfg.Backup.AuditRetentionDays,
	}
}

func openDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := databaseConfig(cfg)

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database ready", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func databaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql":
		auth = cfg.Database.MySQL
	default:
		// Unknown drivers pass through so Open reports them.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = strings.TrimSpace(auth.Password)
	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		log.Warn("closing database", zap.Error(err))
	}
}
