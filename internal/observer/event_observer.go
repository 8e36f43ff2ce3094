package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"go-image-filter/pkg/models"
)

// SessionEvent describes a change in a processing session
type SessionEvent struct {
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Seq       uint64                 `json:"seq,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	ErrorKind models.ErrorKind       `json:"error_kind,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Snapshot  models.SessionResponse `json:"snapshot"`
}

// EventType represents the type of session event
type EventType string

const (
	// SessionCreated when a new session is registered
	SessionCreated EventType = "session_created"
	// InputChanged when file, algorithm or kernel size changed without issuing a request
	InputChanged EventType = "input_changed"
	// RequestIssued when a processing request is sent to the backend
	RequestIssued EventType = "request_issued"
	// RequestCompleted when the latest request produced an image
	RequestCompleted EventType = "request_completed"
	// RequestFailed when the latest request failed
	RequestFailed EventType = "request_failed"
	// ResponseStale when a response arrived for a superseded request and was dropped
	ResponseStale EventType = "response_stale"
	// SessionReset when the session returned to idle by user action
	SessionReset EventType = "session_reset"
	// SessionExpired when an idle session was removed
	SessionExpired EventType = "session_expired"
)

// Observer defines the interface for event observers.
// OnEvent is called synchronously and must not block.
type Observer interface {
	OnEvent(ctx context.Context, event SessionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event SessionEvent)
}

// LoggingObserver logs session events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles session events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event SessionEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"session_id": event.SessionID,
		"status":     event.Snapshot.Status,
	}
	if event.Seq != 0 {
		fields["seq"] = event.Seq
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorKind != "" {
		fields["error_kind"] = event.ErrorKind
		fields["error"] = event.Message
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case RequestIssued:
		entry.Info("Processing request issued")
	case RequestCompleted:
		entry.Info("Processing request completed")
	case RequestFailed:
		entry.Error("Processing request failed")
	case ResponseStale:
		entry.Debug("Dropped response for superseded request")
	case SessionReset:
		entry.Info("Session reset")
	default:
		entry.Debug("Session event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// Metrics is a point-in-time copy of the counters kept by MetricsObserver
type Metrics struct {
	ActiveSessions      int64         `json:"active_sessions"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	TransportFailures   int64         `json:"transport_failures"`
	SemanticFailures    int64         `json:"semantic_failures"`
	StaleResponses      int64         `json:"stale_responses"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	AvgProcessingTime   time.Duration `json:"avg_processing_time"`
}

// MetricsObserver collects metrics from session events
type MetricsObserver struct {
	mu      sync.RWMutex
	metrics Metrics
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles session events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := &o.metrics
	switch event.EventType {
	case SessionCreated:
		m.ActiveSessions++
	case SessionExpired:
		m.ActiveSessions--
	case RequestIssued:
		m.TotalRequests++
	case RequestCompleted:
		m.SuccessfulRequests++
		m.TotalProcessingTime += event.Duration
	case RequestFailed:
		m.FailedRequests++
		switch event.ErrorKind {
		case models.ErrorKindTransport:
			m.TransportFailures++
		case models.ErrorKindSemantic:
			m.SemanticFailures++
		}
	case ResponseStale:
		m.StaleResponses++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := o.metrics
	if m.SuccessfulRequests > 0 {
		m.AvgProcessingTime = m.TotalProcessingTime / time.Duration(m.SuccessfulRequests)
	}
	return m
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers event to every observer in subscription order.
// Events of one session arrive in the order they were produced.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event SessionEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, observer := range observers {
		func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
