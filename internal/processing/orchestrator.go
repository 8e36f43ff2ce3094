// Package processing turns backend calls into ProcessingResult values.
package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go-image-filter/internal/backend"
	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/pkg/models"
)

// Orchestrator wraps a backend client and never fails: every outcome is a ProcessingResult
type Orchestrator struct {
	client backend.ImageProcessor
}

// NewOrchestrator creates an orchestrator over client
func NewOrchestrator(client backend.ImageProcessor) *Orchestrator {
	return &Orchestrator{client: client}
}

// ProcessImage calls the backend once and classifies the outcome
func (o *Orchestrator) ProcessImage(ctx context.Context, req models.ProcessingRequest) (result models.ProcessingResult) {
	start := time.Now()
	entry := logger.WithFields(logrus.Fields{
		"algorithm":   req.Algorithm,
		"kernel_size": req.KernelSize,
		"seq":         req.Seq,
	})

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Backend client panicked")
			result = models.Err(models.ErrorKindTransport, fmt.Sprint(r))
		}
	}()

	resp, err := o.client.Process(ctx, req)
	if err != nil {
		entry.WithError(err).Error("Image processing request failed")
		return models.Err(models.ErrorKindTransport, errorMessage(err))
	}
	if resp == nil {
		resp = &models.RawResponse{}
	}

	if resp.ProcessedImage != "" {
		entry.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Image processed")
		return models.Ok(resp.ProcessedImage)
	}

	message := resp.Error
	if message == "" {
		message = models.DefaultMissingImageMessage
	}
	entry.WithField("backend_error", resp.Error).Error("Backend returned no processed image")
	return models.Err(models.ErrorKindSemantic, message)
}

// errorMessage prefers the AppError message, which omits the type prefix and cause
func errorMessage(err error) string {
	if err == nil {
		return models.UnknownErrorMessage
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && strings.TrimSpace(appErr.Message) != "" {
		return appErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return models.UnknownErrorMessage
}
