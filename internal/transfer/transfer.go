package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/otpdeck/otpdeck/internal/audit"
	"github.com/otpdeck/otpdeck/internal/vault"
	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/metrics"
)

// Vault document version written by the JSON exporter. Import still accepts
// the versionless legacy array.
const VaultDocumentVersion = "2.0"

var (
	// ErrEmptyVault indicates there is nothing to export.
	ErrEmptyVault = errors.New("transfer: vault is empty")
	// ErrUnreadable indicates the supplied payload could not be parsed at all.
	ErrUnreadable = errors.New("transfer: unreadable payload")
	// ErrNothingImported indicates every item in the payload failed.
	ErrNothingImported = errors.New("transfer: nothing imported")
)

// Service moves credentials in and out of the vault in the supported
// interchange formats.
type Service struct {
	vault *vault.Service
	audit *audit.Service
	log   *zap.Logger
	now   func() time.Time
}

// Option customises the transfer service.
type Option func(*Service)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAudit wires an audit recorder for import/export events.
func WithAudit(recorder *audit.Service) Option {
	return func(s *Service) {
		s.audit = recorder
	}
}

// NewService constructs the transfer service.
func NewService(vaultSvc *vault.Service, opts ...Option) (*Service, error) {
	if vaultSvc == nil {
		return nil, errors.New("transfer: vault service is required")
	}

	svc := &Service{
		vault: vaultSvc,
		log:   logger.WithModule("transfer"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Result summarises one import operation. Imported holds the labels as
// stored, after any duplicate renaming.
type Result struct {
	Imported []string `json:"imported"`
	Renamed  int      `json:"renamed"`
	Failures []string `json:"failures,omitempty"`
}

func (r *Result) addImported(requested, stored string) {
	r.Imported = append(r.Imported, stored)
	if !strings.EqualFold(strings.TrimSpace(requested), stored) {
		r.Renamed++
	}
}

func (r *Result) addFailure(err error) {
	r.Failures = append(r.Failures, err.Error())
}

func (s *Service) recordOperation(ctx context.Context, direction, format string, err error, metadata map[string]any) {
	result := audit.ResultSuccess
	outcome := "success"
	if err != nil {
		result = audit.ResultFailure
		outcome = "failure"
	}
	metrics.TransferOperations.WithLabelValues(direction, format, outcome).Inc()

	if s.audit == nil {
		return
	}
	if auditErr := s.audit.Record(ctx, audit.Event{
		Action:   fmt.Sprintf("transfer.%s", direction),
		Resource: format,
		Result:   result,
		Metadata: metadata,
	}); auditErr != nil {
		s.log.Warn("record transfer audit event", zap.String("direction", direction), zap.Error(auditErr))
	}
}

// sanitizeFilename turns an entry label into a safe archive member name.
func sanitizeFilename(label string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case r == ' ' || r == '@' || r == ':' || r == '/':
			return '_'
		default:
			return '_'
		}
	}, strings.TrimSpace(label))

	mapped = strings.Trim(mapped, "._")
	if mapped == "" {
		mapped = "entry"
	}
	return mapped
}
