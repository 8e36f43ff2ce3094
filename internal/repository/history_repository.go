package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
)

// ProcessingRecord is one persisted call to the processing backend
type ProcessingRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	SessionID  string    `gorm:"column:session_id;index;size:64" json:"session_id"`
	Seq        uint64    `gorm:"column:seq" json:"seq"`
	Algorithm  string    `gorm:"column:algorithm;size:16" json:"algorithm"`
	KernelSize int       `gorm:"column:kernel_size" json:"kernel_size"`
	ImageSHA1  string    `gorm:"column:image_sha1;index;size:40" json:"image_sha1"`
	Success    bool      `gorm:"column:success" json:"success"`
	CacheHit   bool      `gorm:"column:cache_hit" json:"cache_hit"`
	ErrorKind  string    `gorm:"column:error_kind;size:16" json:"error_kind,omitempty"`
	Message    string    `gorm:"column:message;type:text" json:"message,omitempty"`
	LatencyMs  int64     `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name
func (ProcessingRecord) TableName() string {
	return "processing_records"
}

// Summary aggregates persisted records
type Summary struct {
	TotalCount   int64   `json:"total_requests"`
	SuccessCount int64   `json:"successful_requests"`
	CacheHits    int64   `json:"cache_hits"`
	AvgLatencyMs float64 `json:"average_latency_ms"`
}

// HistoryRepository persists processing records with gorm
type HistoryRepository struct {
	db             *gorm.DB
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// OpenDatabase opens dsn. "postgres://" and "host=" DSNs use PostgreSQL, "sqlite://path"
// or a bare file path uses SQLite.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.HasPrefix(dsn, "host="):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case dsn != "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("empty history DSN")
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewHistoryRepository creates a new repository instance
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{
		db:             db,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available
func (r *HistoryRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProcessingRecord{})
}

// Save persists a record, retrying transient failures
func (r *HistoryRepository) Save(ctx context.Context, record *ProcessingRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// ListBySession returns the most recent records of a session, newest first
func (r *HistoryRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*ProcessingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*ProcessingRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.NewOperationError("repository.list_by_session", sessionID, err)
	}
	return records, nil
}

// Summary aggregates all persisted records
func (r *HistoryRepository) Summary(ctx context.Context) (*Summary, error) {
	var row struct {
		TotalCount   int64
		SuccessCount int64
		CacheHits    int64
		AvgLatencyMs float64
	}
	err := r.db.WithContext(ctx).Model(&ProcessingRecord{}).
		Select("COUNT(*) AS total_count, " +
			"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
			"COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits, " +
			"COALESCE(AVG(latency_ms), 0) AS avg_latency_ms").
		Scan(&row).Error
	if err != nil {
		return nil, apperrors.NewOperationError("repository.summary", "", err)
	}
	return &Summary{
		TotalCount:   row.TotalCount,
		SuccessCount: row.SuccessCount,
		CacheHits:    row.CacheHits,
		AvgLatencyMs: row.AvgLatencyMs,
	}, nil
}

func (r *HistoryRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	entry := logger.WithFields(logrus.Fields{"operation": operation, "request_id": requestID})

	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				entry.WithField("attempt", attempt+1).Info("Database operation succeeded after retry")
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			entry.WithError(err).WithField("attempt", attempt+1).Error("Database operation failed")
			return apperrors.NewOperationError(operation, requestID, err)
		}

		entry.WithError(err).WithField("attempt", attempt+1).Warn("Transient database error")
	}
	return apperrors.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
