package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-image-filter/internal/auth"
	"go-image-filter/internal/config"
	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/observer"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/session"
	"go-image-filter/internal/storage"
	"go-image-filter/pkg/models"
)

// multipartOverhead is allowed on top of MaxUploadSize for form boundaries and fields
const multipartOverhead = 1 << 20

// BackendInfo exposes the informational endpoints of the processing backend
type BackendInfo interface {
	Algorithms(ctx context.Context) (*models.AlgorithmList, error)
	AlgorithmInfo(ctx context.Context, name string) (*models.AlgorithmInfo, error)
	Health(ctx context.Context) (*models.HealthStatus, error)
}

// HistoryReader reads persisted processing records
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]*repository.ProcessingRecord, error)
	Summary(ctx context.Context) (*repository.Summary, error)
}

// Dependencies are the collaborators of the HTTP API. Sink, Hub, Metrics and
// History may be nil; the corresponding endpoints then report the feature as unavailable.
type Dependencies struct {
	Sessions *session.Manager
	Sources  repository.ImageRepository
	Sink     storage.ResultSink
	Backend  BackendInfo
	History  HistoryReader
	Hub      *observer.Hub
	Metrics  *observer.MetricsObserver
}

type api struct {
	Dependencies
	cfg *config.Config
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	r := gin.Default()
	a := &api{Dependencies: deps, cfg: cfg}

	r.Use(
		requestSizeLimiter(cfg.MaxUploadSize+multipartOverhead),
		errorHandler(),
	)

	r.GET("/health", a.healthCheck)
	r.GET("/metrics", a.metrics)
	r.GET("/algorithms", a.listAlgorithms)
	r.GET("/algorithms/:name", a.algorithmInfo)

	sessions := r.Group("/sessions", auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))
	sessions.POST("", a.createSession)
	sessions.GET("/:id", a.getSession)
	sessions.DELETE("/:id", a.deleteSession)
	sessions.POST("/:id/file", a.selectFile)
	sessions.GET("/:id/original", a.original)
	sessions.PUT("/:id/algorithm", a.selectAlgorithm)
	sessions.PUT("/:id/kernel", a.selectKernel)
	sessions.POST("/:id/submit", a.submit)
	sessions.POST("/:id/reset", a.reset)
	sessions.GET("/:id/download", a.download)
	sessions.POST("/:id/save", a.save)
	sessions.GET("/:id/events", a.events)
	sessions.GET("/:id/history", a.history)

	return r
}

func (a *api) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.RequestTimeout)
	defer cancel()

	backendStatus := "unknown"
	if a.Backend != nil {
		health, err := a.Backend.Health(ctx)
		if err != nil {
			logger.WithError(err).Warn("Backend health check failed")
			backendStatus = "unavailable"
		} else {
			backendStatus = health.Status
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "available",
		"version":  "1.0.0",
		"backend":  backendStatus,
		"sessions": a.Sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *api) metrics(c *gin.Context) {
	body := gin.H{"sessions": a.Sessions.Len()}
	if a.Metrics != nil {
		body["events"] = a.Metrics.GetMetrics()
	}
	if a.History != nil {
		summary, err := a.History.Summary(c.Request.Context())
		switch {
		case err == nil:
			body["history"] = summary
		case !errors.Is(err, repository.ErrHistoryDisabled):
			logger.WithError(err).Warn("Failed to summarise processing history")
		}
	}
	c.JSON(http.StatusOK, body)
}

func (a *api) listAlgorithms(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.RequestTimeout)
	defer cancel()

	list, err := a.Backend.Algorithms(ctx)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to list algorithms", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *api) algorithmInfo(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.RequestTimeout)
	defer cancel()

	info, err := a.Backend.AlgorithmInfo(ctx, c.Param("name"))
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), "failed to describe algorithm", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, publicMessage(err)),
	})
}

// publicMessage hides causes of app errors; they are logged by respondError
func publicMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
