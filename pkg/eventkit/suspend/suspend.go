package suspend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/eventkit/pkg/eventkit/event"
	"github.com/randalmurphal/eventkit/pkg/eventkit/observability"
	"github.com/randalmurphal/eventkit/pkg/eventkit/transport"
)

// DefaultTimeout is the hard-coded fallback when neither the call nor
// the manager supplies one.
const DefaultTimeout = 30 * time.Second

// CorrelationExtractor pulls the correlation id out of a candidate
// response event.
type CorrelationExtractor func(evt event.Event) string

// DefaultCorrelationExtractor reads the response's aggregate id,
// falling back to its event id.
func DefaultCorrelationExtractor(evt event.Event) string {
	if id := evt.AggregateID(); id != "" {
		return id
	}
	return evt.ID()
}

// Result is what a resolved suspension yields.
type Result struct {
	// Response is the correlated response event.
	Response event.Event

	// WaitTime is the elapsed time since the suspension was armed.
	WaitTime time.Duration
}

// Config configures a Manager.
type Config struct {
	// Transport receives response events. Required.
	Transport transport.Transport

	// Timeout is the default per-suspension timeout.
	// Default: DefaultTimeout.
	Timeout time.Duration

	// Logger receives suspension lifecycle diagnostics. Optional.
	Logger *slog.Logger

	// Metrics records suspension outcomes and wait times. Optional.
	Metrics observability.MetricsRecorder
}

// Manager implements "publish a request, await one correlated response
// or time out" on top of a bare transport.
//
// The manager never publishes the request itself: the caller arms the
// suspension first, then publishes, so the response listener is in
// place before the request can leave the process.
type Manager struct {
	transport      transport.Transport
	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder

	mu      sync.Mutex
	pending map[string]*Suspension
	closed  bool
}

// NewManager creates a suspension manager over the given transport.
func NewManager(config Config) (*Manager, error) {
	if config.Transport == nil {
		return nil, &ConfigError{Reason: "transport is required"}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetrics{}
	}

	return &Manager{
		transport:      config.Transport,
		defaultTimeout: config.Timeout,
		logger:         observability.ComponentLogger(config.Logger, "suspend"),
		metrics:        config.Metrics,
		pending:        make(map[string]*Suspension),
	}, nil
}

// Suspension is one pending correlated wait. It settles exactly once:
// with a result, a *TimeoutError, or a *CancelledError.
type Suspension struct {
	correlationID string
	responseType  string
	requestID     string
	startTime     time.Time
	timeout       time.Duration
	extractor     CorrelationExtractor

	manager *Manager

	// Guarded by manager.mu: the entry is visible in manager.pending
	// before the subscription and timer exist, so a concurrent settle
	// must not see half-armed state.
	timer   *time.Timer
	detach  transport.Unsubscribe
	settled bool

	settle sync.Once
	done   chan struct{}
	result *Result
	err    error
}

// CorrelationID returns the id this suspension waits on.
func (s *Suspension) CorrelationID() string {
	return s.correlationID
}

// Done is closed once the suspension settles.
func (s *Suspension) Done() <-chan struct{} {
	return s.done
}

// Await blocks until the suspension settles or the context ends.
// Context cancellation cancels the suspension itself.
func (s *Suspension) Await(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.manager.Cancel(s.correlationID)
		<-s.done
	}
	return s.result, s.err
}

// Option configures one suspension.
type Option func(*suspendConfig)

type suspendConfig struct {
	timeout   time.Duration
	extractor CorrelationExtractor
}

// WithTimeout overrides the manager's default timeout for this call.
func WithTimeout(d time.Duration) Option {
	return func(cfg *suspendConfig) {
		cfg.timeout = d
	}
}

// WithCorrelationExtractor overrides how the correlation id is read
// from candidate responses.
func WithCorrelationExtractor(fn CorrelationExtractor) Option {
	return func(cfg *suspendConfig) {
		cfg.extractor = fn
	}
}

// SuspendForResponse arms a listener for responseType and a timeout
// timer, keyed by correlationID. It does NOT publish requestEvent -
// publishing is the caller's job, and must happen after this returns
// so no response can race ahead of the listener.
//
// A correlation id with a suspension already pending is rejected with
// *AlreadyPendingError rather than silently replacing the first
// caller's bookkeeping.
func (m *Manager) SuspendForResponse(
	requestEvent event.Event,
	responseType string,
	correlationID string,
	opts ...Option,
) (*Suspension, error) {
	if correlationID == "" {
		return nil, &ConfigError{Reason: "correlation id is required"}
	}
	if responseType == "" {
		return nil, &ConfigError{Reason: "response event type is required"}
	}

	cfg := &suspendConfig{
		timeout:   m.defaultTimeout,
		extractor: DefaultCorrelationExtractor,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultTimeout
	}

	s := &Suspension{
		correlationID: correlationID,
		responseType:  responseType,
		startTime:     time.Now(),
		timeout:       cfg.timeout,
		extractor:     cfg.extractor,
		manager:       m,
		done:          make(chan struct{}),
	}
	if requestEvent != nil {
		s.requestID = requestEvent.ID()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &ConfigError{Reason: "manager is closed"}
	}
	if _, exists := m.pending[correlationID]; exists {
		m.mu.Unlock()
		return nil, &AlreadyPendingError{CorrelationID: correlationID}
	}
	m.pending[correlationID] = s
	m.mu.Unlock()

	// Every suspension for this response type sees every message of the
	// type; mismatched correlation ids are rejected cheaply with no
	// side effects.
	detach, err := m.transport.Subscribe(responseType, func(_ context.Context, evt event.Event) {
		if s.extractor(evt) != correlationID {
			return
		}
		m.settle(s, &Result{
			Response: evt,
			WaitTime: time.Since(s.startTime),
		}, nil, observability.OutcomeResolved)
	})
	if err != nil {
		m.remove(correlationID)
		return nil, err
	}

	timer := time.AfterFunc(cfg.timeout, func() {
		m.settle(s, nil, &TimeoutError{
			CorrelationID: correlationID,
			Timeout:       cfg.timeout,
		}, observability.OutcomeTimedOut)
	})

	// The entry was visible in m.pending while we armed, so a Cancel,
	// Resolve, or Close may already have settled it. In that case the
	// settle saw nil detach/timer and we clean both up here; otherwise
	// hand them to the suspension under the lock.
	m.mu.Lock()
	armed := !s.settled
	if armed {
		s.detach = detach
		s.timer = timer
	}
	m.mu.Unlock()

	if !armed {
		timer.Stop()
		detach()
		return s, nil
	}

	observability.LogSuspensionStart(m.logger, correlationID, responseType, cfg.timeout)
	return s, nil
}

// Resolve settles a pending suspension with an externally supplied
// response, for callers that manage the reply channel themselves.
// Reports whether the correlation id was pending.
func (m *Manager) Resolve(correlationID string, response event.Event) bool {
	m.mu.Lock()
	s, ok := m.pending[correlationID]
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.settle(s, &Result{
		Response: response,
		WaitTime: time.Since(s.startTime),
	}, nil, observability.OutcomeResolved)
	return true
}

// Cancel rejects a pending suspension with *CancelledError and cleans
// it up. Reports whether the correlation id was pending. Cancellation
// is local only: no remote responder is notified.
func (m *Manager) Cancel(correlationID string) bool {
	m.mu.Lock()
	s, ok := m.pending[correlationID]
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.settle(s, nil, &CancelledError{CorrelationID: correlationID}, observability.OutcomeCancelled)
	return true
}

// CancelAll cancels every pending suspension, returning the count.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Cancel(id) {
			n++
		}
	}
	return n
}

// IsPending reports whether a correlation id still awaits a response.
// Once cleanup has run, resolved, timed-out, and cancelled suspensions
// are indistinguishable: all report false.
func (m *Manager) IsPending(correlationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[correlationID]
	return ok
}

// PendingCorrelationIDs returns the correlation ids still pending.
func (m *Manager) PendingCorrelationIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// PendingCount returns the number of pending suspensions.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close cancels all pending suspensions and rejects new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.CancelAll()
	return nil
}

// settle completes a suspension exactly once: stops the timer, detaches
// the transport subscription, removes bookkeeping, and wakes the
// awaiter. When a response and a timeout race, whichever settle runs
// first wins and the loser is a no-op.
func (m *Manager) settle(s *Suspension, result *Result, err error, outcome observability.SuspensionOutcome) {
	s.settle.Do(func() {
		m.mu.Lock()
		s.settled = true
		timer, detach := s.timer, s.detach
		delete(m.pending, s.correlationID)
		m.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if detach != nil {
			detach()
		}

		s.result = result
		s.err = err
		close(s.done)

		wait := time.Since(s.startTime)
		m.metrics.RecordSuspension(context.Background(), outcome, wait)
		switch outcome {
		case observability.OutcomeResolved:
			observability.LogSuspensionResolved(m.logger, s.correlationID, wait)
		case observability.OutcomeTimedOut:
			observability.LogSuspensionTimeout(m.logger, s.correlationID, s.timeout)
		case observability.OutcomeCancelled:
			observability.LogSuspensionCancelled(m.logger, s.correlationID)
		}
	})
}

// remove drops bookkeeping for a correlation id. Idempotent.
func (m *Manager) remove(correlationID string) {
	m.mu.Lock()
	delete(m.pending, correlationID)
	m.mu.Unlock()
}
