package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-image-filter/internal/cache"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/session"
	"go-image-filter/pkg/models"
)

const historyWriteTimeout = 5 * time.Second

// FilterService runs processing requests for sessions: it consults the result cache,
// calls the backend through the orchestrator and records every outcome.
type FilterService struct {
	processor session.Processor
	cache     cache.Cache
	history   repository.HistoryStore
	cacheTTL  time.Duration
	now       func() time.Time
}

// Option configures a FilterService
type Option func(*FilterService)

// WithCache enables result caching
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *FilterService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithHistory enables persistence of processing records
func WithHistory(h repository.HistoryStore) Option {
	return func(s *FilterService) {
		s.history = h
	}
}

// NewFilterService wraps processor, typically a *processing.Orchestrator
func NewFilterService(processor session.Processor, opts ...Option) *FilterService {
	s := &FilterService{processor: processor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessImage implements session.Processor
func (s *FilterService) ProcessImage(ctx context.Context, req models.ProcessingRequest) models.ProcessingResult {
	start := s.now()
	sessionID := session.IDFromContext(ctx)
	imageHash := ImageHash(req.Image)
	key := CacheKey(imageHash, req)
	entry := logger.WithSession(sessionID, req.Seq).WithField("cache_key", key)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		switch {
		case err == nil && cached != "":
			entry.Debug("Serving processed image from cache")
			result := models.Ok(cached)
			s.record(ctx, sessionID, imageHash, req, result, true, start)
			return result
		case err != nil && !errors.Is(err, cache.ErrMiss):
			entry.WithError(err).Warn("Cache lookup failed")
		}
	}

	result := s.processor.ProcessImage(ctx, req)

	if result.OK && s.cache != nil {
		if err := s.cache.Set(ctx, key, result.Data, s.cacheTTL); err != nil {
			entry.WithError(err).Warn("Failed to cache processed image")
		}
	}
	s.record(ctx, sessionID, imageHash, req, result, false, start)
	return result
}

// History returns recent records of a session
func (s *FilterService) History(ctx context.Context, sessionID string, limit int) ([]*repository.ProcessingRecord, error) {
	if s.history == nil {
		return nil, repository.ErrHistoryDisabled
	}
	return s.history.ListBySession(ctx, sessionID, limit)
}

// Summary aggregates all records
func (s *FilterService) Summary(ctx context.Context) (*repository.Summary, error) {
	if s.history == nil {
		return nil, repository.ErrHistoryDisabled
	}
	return s.history.Summary(ctx)
}

func (s *FilterService) record(ctx context.Context, sessionID, imageHash string, req models.ProcessingRequest, result models.ProcessingResult, cacheHit bool, start time.Time) {
	if s.history == nil {
		return
	}

	rec := &repository.ProcessingRecord{
		RequestID:  uuid.NewString(),
		SessionID:  sessionID,
		Seq:        req.Seq,
		Algorithm:  string(req.Algorithm),
		KernelSize: req.KernelSize,
		ImageSHA1:  imageHash,
		Success:    result.OK,
		CacheHit:   cacheHit,
		ErrorKind:  string(result.Kind),
		Message:    result.Message,
		LatencyMs:  s.now().Sub(start).Milliseconds(),
		CreatedAt:  s.now().UTC(),
	}

	// superseded requests are cancelled but their outcome is still recorded
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := s.history.Save(writeCtx, rec); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"request_id": rec.RequestID,
		}).Error("Failed to record processing history")
	}
}

// ImageHash returns the hex SHA-1 of data
func ImageHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CacheKey identifies the output of a request: same image and parameters give the same key
func CacheKey(imageHash string, req models.ProcessingRequest) string {
	key := fmt.Sprintf("%s:%s:%d", imageHash, req.Algorithm, req.KernelSize)
	if req.Canny != nil {
		key += fmt.Sprintf(":%g:%d:%d", req.Canny.Sigma, req.Canny.LowThreshold, req.Canny.HighThreshold)
	}
	return key
}
