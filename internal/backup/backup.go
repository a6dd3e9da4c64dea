package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/audit"
	"github.com/otpdeck/otpdeck/internal/models"
	"github.com/otpdeck/otpdeck/internal/vault"
	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/metrics"
)

// SnapshotVersion marks the snapshot document layout.
const SnapshotVersion = "1"

const (
	defaultSchedule      = "@hourly"
	defaultKeep          = 10
	auditCleanupSchedule = "@daily"
)

var (
	// ErrSnapshotNotFound indicates the named snapshot does not exist.
	ErrSnapshotNotFound = errors.New("backup: snapshot not found")
	// ErrBadSnapshotName indicates the name is not a snapshot file name.
	ErrBadSnapshotName = errors.New("backup: invalid snapshot name")
	// ErrKeyMismatch indicates the snapshot was written under a different
	// vault key and its secrets would not decrypt after a restore.
	ErrKeyMismatch = errors.New("backup: snapshot written with a different vault key")
	// ErrNoSnapshots indicates a restore was requested with nothing to restore.
	ErrNoSnapshots = errors.New("backup: no snapshots available")
)

var snapshotNamePattern = regexp.MustCompile(`^vault-\d{8}-\d{6}(-\d+)?\.json$`)

// SnapshotEntry is one credential inside a snapshot. The secret stays in
// its encrypted at-rest form.
type SnapshotEntry struct {
	Label     string   `json:"label"`
	Issuer    string   `json:"issuer,omitempty"`
	Secret    string   `json:"secret"`
	Type      string   `json:"type"`
	Algorithm string   `json:"algorithm"`
	Digits    int      `json:"digits"`
	Period    uint     `json:"period"`
	Counter   uint64   `json:"counter,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// SnapshotDocument is the on-disk snapshot layout.
type SnapshotDocument struct {
	Version        string          `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	KeyFingerprint string          `json:"key_fingerprint"`
	Entries        []SnapshotEntry `json:"entries"`
}

// SnapshotInfo summarises one snapshot file.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Entries   int       `json:"entries"`
}

// RestoreResult reports what a restore did.
type RestoreResult struct {
	Snapshot           string `json:"snapshot"`
	Restored           int    `json:"restored"`
	PreRestoreSnapshot string `json:"pre_restore_snapshot,omitempty"`
}

// Config controls the snapshot writer.
type Config struct {
	Enabled            bool
	Directory          string
	Schedule           string
	Keep               int
	AuditRetentionDays int
}

// Service writes timestamped vault snapshots on a cron schedule, prunes old
// ones, and restores them. The audit retention job rides the same scheduler.
type Service struct {
	db    *gorm.DB
	vault *vault.Service
	audit *audit.Service
	cron  *cron.Cron
	log   *zap.Logger
	now   func() time.Time

	enabled   bool
	directory string
	schedule  string
	keep      int
	retention int
}

// Option customises the Service.
type Option func(*Service)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Service) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithClock overrides the clock used for snapshot naming and scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAudit wires the audit service for event recording and retention.
func WithAudit(recorder *audit.Service) Option {
	return func(s *Service) {
		s.audit = recorder
	}
}

// NewService constructs the snapshot service and ensures the snapshot
// directory exists.
func NewService(db *gorm.DB, vaultSvc *vault.Service, cfg Config, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("backup: db is required")
	}
	if vaultSvc == nil {
		return nil, errors.New("backup: vault service is required")
	}
	if cfg.Directory == "" {
		return nil, errors.New("backup: directory is required")
	}

	svc := &Service{
		db:        db,
		vault:     vaultSvc,
		log:       logger.WithModule("backup"),
		now:       time.Now,
		enabled:   cfg.Enabled,
		directory: cfg.Directory,
		schedule:  cfg.Schedule,
		keep:      cfg.Keep,
		retention: cfg.AuditRetentionDays,
	}
	if svc.schedule == "" {
		svc.schedule = defaultSchedule
	}
	if svc.keep <= 0 {
		svc.keep = defaultKeep
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.cron == nil {
		svc.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	if err := os.MkdirAll(svc.directory, 0o700); err != nil {
		return nil, fmt.Errorf("backup: create snapshot directory: %w", err)
	}

	return svc, nil
}

// Start registers the snapshot and retention jobs and launches the scheduler.
func (s *Service) Start() error {
	if !s.enabled {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Snapshot(context.Background()); err != nil {
			s.log.Warn("scheduled snapshot failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("backup: schedule snapshots: %w", err)
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(auditCleanupSchedule, func() {
			if _, err := s.audit.CleanupOlderThan(context.Background(), s.retention); err != nil {
				s.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("backup: schedule audit cleanup: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running job to complete.
func (s *Service) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes the snapshot and retention routines sequentially,
// primarily for tests and shutdown.
func (s *Service) RunOnce(ctx context.Context) error {
	var errs error

	if _, err := s.Snapshot(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.audit.CleanupOlderThan(ctx, s.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// Snapshot writes the vault to a timestamped file and prunes old snapshots
// down to the retention count.
func (s *Service) Snapshot(ctx context.Context) (*SnapshotInfo, error) {
	info, err := s.writeSnapshot(ctx)
	if err != nil {
		metrics.SnapshotRuns.WithLabelValues("failure").Inc()
		s.recordAudit(ctx, "backup.snapshot", "", audit.ResultFailure, nil)
		return nil, err
	}
	metrics.SnapshotRuns.WithLabelValues("success").Inc()
	s.recordAudit(ctx, "backup.snapshot", info.Name, audit.ResultSuccess, map[string]any{"entries": info.Entries})

	if err := s.prune(); err != nil {
		s.log.Warn("snapshot pruning failed", zap.Error(err))
	}
	return info, nil
}

func (s *Service) writeSnapshot(ctx context.Context) (*SnapshotInfo, error) {
	entries, err := s.vault.List(ctx, vault.ListOptions{})
	if err != nil {
		return nil, err
	}

	doc := SnapshotDocument{
		Version:        SnapshotVersion,
		CreatedAt:      s.now().UTC(),
		KeyFingerprint: s.vault.Crypto().Fingerprint(),
		Entries:        make([]SnapshotEntry, 0, len(entries)),
	}
	for i := range entries {
		entry := &entries[i]
		doc.Entries = append(doc.Entries, SnapshotEntry{
			Label:     entry.Label,
			Issuer:    entry.Issuer,
			Secret:    entry.Secret,
			Type:      entry.Type,
			Algorithm: entry.Algorithm,
			Digits:    entry.Digits,
			Period:    entry.Period,
			Counter:   entry.Counter,
			Tags:      entry.TagList(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: marshal snapshot: %w", err)
	}

	name := s.uniqueName(doc.CreatedAt)
	path := filepath.Join(s.directory, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("backup: write snapshot: %w", err)
	}

	s.log.Info("snapshot written", zap.String("name", name), zap.Int("entries", len(doc.Entries)))
	return &SnapshotInfo{
		Name:      name,
		CreatedAt: doc.CreatedAt,
		Size:      int64(len(data)),
		Entries:   len(doc.Entries),
	}, nil
}

func (s *Service) uniqueName(at time.Time) string {
	base := fmt.Sprintf("vault-%s.json", at.Format("20060102-150405"))
	if _, err := os.Stat(filepath.Join(s.directory, base)); os.IsNotExist(err) {
		return base
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("vault-%s-%d.json", at.Format("20060102-150405"), i)
		if _, err := os.Stat(filepath.Join(s.directory, name)); os.IsNotExist(err) {
			return name
		}
	}
}

// List returns the snapshots on disk, newest first.
func (s *Service) List(ctx context.Context) ([]SnapshotInfo, error) {
	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("backup: read snapshot directory: %w", err)
	}

	infos := make([]SnapshotInfo, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !snapshotNamePattern.MatchString(dirEntry.Name()) {
			continue
		}

		info, err := s.describe(dirEntry.Name())
		if err != nil {
			s.log.Warn("skipping unreadable snapshot", zap.String("name", dirEntry.Name()), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

func (s *Service) describe(name string) (*SnapshotInfo, error) {
	path := filepath.Join(s.directory, name)
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	doc, err := s.read(name)
	if err != nil {
		return nil, err
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = stat.ModTime().UTC()
	}
	return &SnapshotInfo{
		Name:      name,
		CreatedAt: createdAt,
		Size:      stat.Size(),
		Entries:   len(doc.Entries),
	}, nil
}

func (s *Service) read(name string) (*SnapshotDocument, error) {
	if !snapshotNamePattern.MatchString(name) {
		return nil, ErrBadSnapshotName
	}

	data, err := os.ReadFile(filepath.Join(s.directory, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("backup: read snapshot: %w", err)
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backup: parse snapshot %s: %w", name, err)
	}
	return &doc, nil
}

// Delete removes a snapshot file.
func (s *Service) Delete(ctx context.Context, name string) error {
	if !snapshotNamePattern.MatchString(name) {
		return ErrBadSnapshotName
	}

	if err := os.Remove(filepath.Join(s.directory, name)); err != nil {
		if os.IsNotExist(err) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("backup: delete snapshot: %w", err)
	}

	s.recordAudit(ctx, "backup.deleted", name, audit.ResultSuccess, nil)
	return nil
}

// Restore replaces the vault contents with the named snapshot. The current
// state is snapshotted first, and the snapshot's key fingerprint must match
// the active vault key.
func (s *Service) Restore(ctx context.Context, name string) (*RestoreResult, error) {
	doc, err := s.read(name)
	if err != nil {
		s.recordAudit(ctx, "backup.restore", name, audit.ResultFailure, nil)
		return nil, err
	}

	if doc.KeyFingerprint != "" && doc.KeyFingerprint != s.vault.Crypto().Fingerprint() {
		s.recordAudit(ctx, "backup.restore", name, audit.ResultFailure, map[string]any{"reason": "key_mismatch"})
		return nil, ErrKeyMismatch
	}

	preRestore, err := s.writeSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: pre-restore snapshot: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Entry{}).Error; err != nil {
			return fmt.Errorf("backup: clear entries: %w", err)
		}

		for i := range doc.Entries {
			snap := &doc.Entries[i]
			entry := models.Entry{
				Label:     snap.Label,
				Issuer:    snap.Issuer,
				Secret:    snap.Secret,
				Type:      snap.Type,
				Algorithm: snap.Algorithm,
				Digits:    snap.Digits,
				Period:    snap.Period,
				Counter:   snap.Counter,
			}
			entry.Normalise()
			if err := entry.SetTagList(snap.Tags); err != nil {
				return fmt.Errorf("backup: restore tags for %q: %w", snap.Label, err)
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("backup: restore entry %q: %w", snap.Label, err)
			}
		}
		return nil
	})
	if err != nil {
		s.recordAudit(ctx, "backup.restore", name, audit.ResultFailure, nil)
		return nil, err
	}

	s.vault.RefreshEntriesGauge(ctx)
	s.recordAudit(ctx, "backup.restore", name, audit.ResultSuccess, map[string]any{"entries": len(doc.Entries)})
	return &RestoreResult{
		Snapshot:           name,
		Restored:           len(doc.Entries),
		PreRestoreSnapshot: preRestore.Name,
	}, nil
}

// RestoreNewest restores the most recent snapshot on disk.
func (s *Service) RestoreNewest(ctx context.Context) (*RestoreResult, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoSnapshots
	}
	return s.Restore(ctx, infos[0].Name)
}

func (s *Service) prune() error {
	infos, err := s.List(context.Background())
	if err != nil {
		return err
	}
	if len(infos) <= s.keep {
		return nil
	}

	var errs error
	for _, info := range infos[s.keep:] {
		if err := os.Remove(filepath.Join(s.directory, info.Name)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("backup: prune %s: %w", info.Name, err))
			continue
		}
		s.log.Debug("pruned snapshot", zap.String("name", info.Name))
	}
	return errs
}

func (s *Service) recordAudit(ctx context.Context, action, resource, result string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, audit.Event{
		Action:   action,
		Resource: resource,
		Result:   result,
		Metadata: metadata,
	}); err != nil {
		s.log.Warn("record backup audit event", zap.String("action", action), zap.Error(err))
	}
}
