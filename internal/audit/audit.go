package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/otpdeck/otpdeck/internal/models"
)

// Results recorded alongside audit events.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Event captures a single audit event to persist.
type Event struct {
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// Filters encapsulates optional filters when querying audit records.
type Filters struct {
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// ListOptions controls pagination and filtering for audit queries.
type ListOptions struct {
	Page     int
	PageSize int
	Filters  Filters
}

// Service persists and retrieves audit records.
type Service struct {
	db *gorm.DB
}

// NewService constructs an audit service using the provided database handle.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &Service{db: db}, nil
}

// Record stores an audit event, marshalling metadata into JSON form.
func (s *Service) Record(ctx context.Context, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(event.Action) == "" {
		return errors.New("audit service: action is required")
	}
	result := strings.TrimSpace(event.Result)
	if result == "" {
		result = ResultSuccess
	}

	payload := ""
	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	record := models.AuditRecord{
		Action:    strings.TrimSpace(event.Action),
		Resource:  strings.TrimSpace(event.Resource),
		Result:    result,
		IPAddress: strings.TrimSpace(event.IPAddress),
		UserAgent: strings.TrimSpace(event.UserAgent),
		Metadata:  payload,
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns paginated audit records ordered by creation time descending.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.AuditRecord, int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditRecord
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditRecord{})
	query = applyFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count records: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list records: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit records older than the supplied retention window (in days).
func (s *Service) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup records: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyFilters(query *gorm.DB, filters Filters) *gorm.DB {
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Resource != "" {
		query = query.Where("resource = ?", filters.Resource)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}
