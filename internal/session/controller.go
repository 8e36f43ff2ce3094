package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/observer"
	"go-image-filter/pkg/models"
)

// ErrBusy is returned by TryDispatch while a request is in flight
var ErrBusy = stderrors.New("session is processing an image")

// Processor runs a processing request; it must always return a result
type Processor interface {
	ProcessImage(ctx context.Context, req models.ProcessingRequest) models.ProcessingResult
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, req models.ProcessingRequest) models.ProcessingResult

// ProcessImage calls f
func (f ProcessorFunc) ProcessImage(ctx context.Context, req models.ProcessingRequest) models.ProcessingResult {
	return f(ctx, req)
}

type sessionKey struct{}

// IDFromContext returns the session id attached to a processing context
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Controller is the single owner of a Machine. It serialises events, runs the
// machine's commands in the background and feeds their results back as Resolved.
type Controller struct {
	id        string
	owner     string
	processor Processor
	events    observer.Subject

	mu        sync.Mutex
	machine   *Machine
	cancel    context.CancelFunc
	started   map[uint64]time.Time
	updatedAt time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// running counts request goroutines; idle is closed whenever it is zero
	running int
	idle    chan struct{}
}

// NewController creates a controller in the idle state. events may be nil.
func NewController(id string, processor Processor, events observer.Subject) *Controller {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), sessionKey{}, id))
	idle := make(chan struct{})
	close(idle)
	return &Controller{
		id:         id,
		processor:  processor,
		events:     events,
		machine:    NewMachine(),
		started:    make(map[uint64]time.Time),
		updatedAt:  time.Now().UTC(),
		baseCtx:    ctx,
		baseCancel: cancel,
		idle:       idle,
	}
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.id
}

// Owner returns the authenticated subject that created the session, if any
func (c *Controller) Owner() string {
	return c.owner
}

// Current returns the current snapshot
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// UpdatedAt returns the time of the last state change
func (c *Controller) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Original returns the selected file and its name
func (c *Controller) Original() ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := c.machine.Image()
	return img, c.machine.Current().Filename, img != nil
}

// Response renders the current state for API clients
func (c *Controller) Response() models.SessionResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseLocked(c.machine.Current())
}

// Dispatch applies a user event. A new request supersedes and cancels any request in flight.
func (c *Controller) Dispatch(ev Event) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatchLocked(ev)
}

// TryDispatch is Dispatch that refuses events while a request is in flight, the way
// controls are disabled during loading.
func (c *Controller) TryDispatch(ev Event) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Current().Status == models.StatusLoading {
		return c.machine.Current(), apperrors.NewConflictError(ErrBusy.Error())
	}
	return c.dispatchLocked(ev), nil
}

// Wait blocks until no request is in flight or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any request in flight and waits for it to finish
func (c *Controller) Close() {
	c.baseCancel()
	_ = c.Wait(context.Background())
}

func (c *Controller) dispatchLocked(ev Event) Snapshot {
	out := c.machine.Dispatch(ev)
	c.updatedAt = time.Now().UTC()

	switch e := ev.(type) {
	case Resolved:
		if out.Stale {
			delete(c.started, e.Seq)
			c.publish(observer.SessionEvent{EventType: observer.ResponseStale, Seq: e.Seq}, out.Snapshot)
			return out.Snapshot
		}
		duration := time.Since(c.started[e.Seq])
		delete(c.started, e.Seq)
		c.cancel = nil
		evt := observer.SessionEvent{EventType: observer.RequestCompleted, Seq: e.Seq, Duration: duration}
		if !e.Result.OK {
			evt.EventType = observer.RequestFailed
			evt.ErrorKind = e.Result.Kind
			evt.Message = e.Result.Message
		}
		c.publish(evt, out.Snapshot)
		return out.Snapshot

	case Reset:
		c.cancelInflight()
		c.publish(observer.SessionEvent{EventType: observer.SessionReset}, out.Snapshot)
		return out.Snapshot
	}

	if out.Command == nil {
		c.publish(observer.SessionEvent{EventType: observer.InputChanged}, out.Snapshot)
		return out.Snapshot
	}

	c.cancelInflight()
	c.start(*out.Command)
	c.publish(observer.SessionEvent{EventType: observer.RequestIssued, Seq: out.Command.Request.Seq}, out.Snapshot)
	return out.Snapshot
}

// cancelInflight cancels the running request; its result will arrive as stale
func (c *Controller) cancelInflight() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) start(cmd Command) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.started[cmd.Request.Seq] = time.Now()

	if c.running == 0 {
		c.idle = make(chan struct{})
	}
	c.running++

	go func() {
		defer cancel()

		result := c.run(ctx, cmd.Request)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.dispatchLocked(Resolved{Seq: cmd.Request.Seq, Result: result})
		c.running--
		if c.running == 0 {
			close(c.idle)
		}
	}()
}

func (c *Controller) run(ctx context.Context, req models.ProcessingRequest) (result models.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithSession(c.id, req.Seq).WithField("panic", r).Error("Processor panicked")
			result = models.Err(models.ErrorKindTransport, models.UnknownErrorMessage)
		}
	}()
	return c.processor.ProcessImage(ctx, req)
}

func (c *Controller) publish(evt observer.SessionEvent, snap Snapshot) {
	if c.events == nil {
		return
	}
	evt.SessionID = c.id
	evt.Timestamp = c.updatedAt
	evt.Snapshot = c.responseLocked(snap)
	c.events.NotifyObservers(c.baseCtx, evt)
}

func (c *Controller) responseLocked(s Snapshot) models.SessionResponse {
	return models.SessionResponse{
		SessionID:  c.id,
		Status:     s.Status,
		Images:     s.Images,
		Filename:   s.Filename,
		Algorithm:  s.Algorithm,
		KernelSize: s.KernelSize,
		Seq:        s.Seq,
		ErrorKind:  s.ErrorKind,
		Message:    s.Message,
		UpdatedAt:  c.updatedAt,
	}
}
