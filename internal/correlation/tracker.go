package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/threadweave/threadweave/pkg/cerr"
)

const (
	// DefaultMaxPending is the registration capacity; hitting it is an
	// explicit backpressure signal to the caller, not a queued wait.
	DefaultMaxPending = 100

	// DefaultSweepInterval is how often the background sweep looks for
	// entries whose timeout wrapper failed to fire.
	DefaultSweepInterval = 60 * time.Second

	// DefaultTimeout applies to entries tracked without an explicit
	// timeout.
	DefaultTimeout = 5 * time.Minute
)

// Outcome settles a tracked response exactly once: either a value or an
// error, never both.
type Outcome struct {
	Value string
	Err   error
}

type entry struct {
	correlationID string
	agentID       string
	projectID     string
	createdAt     time.Time
	timeout       time.Duration
	ch            chan Outcome
	timer         *time.Timer
}

// Tracker matches asynchronous agent responses to pending in-flight
// requests by correlation id. Construct instances explicitly and share
// one per orchestrator; all mutation of the pending map goes through
// Tracker methods, which remove-then-settle atomically.
type Tracker struct {
	mu         sync.Mutex
	pending    map[string]*entry
	maxPending int
	closed     bool
}

type Option func(*Tracker)

func WithMaxPending(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxPending = n
		}
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		pending:    make(map[string]*entry),
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track registers a pending response and returns its correlation id and
// the channel its outcome will arrive on. The channel is buffered;
// settlement never blocks. Registration fails immediately with a
// ResourceExhausted error when the tracker is at capacity.
func (t *Tracker) Track(agentID, projectID string, timeout time.Duration) (string, <-chan Outcome, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", nil, cerr.NewError(cerr.Unavailable, "response tracker is shut down", nil)
	}
	if len(t.pending) >= t.maxPending {
		return "", nil, cerr.NewError(cerr.ResourceExhausted,
			fmt.Sprintf("too many pending responses (max %d)", t.maxPending), nil)
	}

	id := ulid.Make().String()
	e := &entry{
		correlationID: id,
		agentID:       agentID,
		projectID:     projectID,
		createdAt:     time.Now(),
		timeout:       timeout,
		ch:            make(chan Outcome, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		t.settle(id, Outcome{Err: cerr.NewError(cerr.DeadlineExceeded,
			fmt.Sprintf("response %s timed out after %s", id, timeout), nil)})
	})
	t.pending[id] = e
	return id, e.ch, nil
}

// Resolve settles a pending response with a value. Returns false when
// the id is unknown: already resolved, rejected or expired.
func (t *Tracker) Resolve(correlationID, value string) bool {
	return t.settle(correlationID, Outcome{Value: value})
}

// Reject settles a pending response with an error.
func (t *Tracker) Reject(correlationID string, err error) bool {
	return t.settle(correlationID, Outcome{Err: err})
}

// settle atomically removes the entry and delivers the outcome. The
// remove-before-send ordering is what makes double settlement impossible.
func (t *Tracker) settle(correlationID string, outcome Outcome) bool {
	t.mu.Lock()
	e, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- outcome
	return true
}

// PendingCount reports the number of unsettled entries.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// PendingForAgent returns the correlation ids awaiting a given agent.
func (t *Tracker) PendingForAgent(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, e := range t.pending {
		if e.agentID == agentID {
			ids = append(ids, id)
		}
	}
	return ids
}

// RejectWhere rejects every pending entry the predicate matches and
// returns how many were rejected. Abort uses this to clear a thread's
// in-flight requests so their timers don't dangle.
func (t *Tracker) RejectWhere(pred func(agentID, projectID string) bool, err error) int {
	t.mu.Lock()
	var matched []*entry
	for id, e := range t.pending {
		if pred(e.agentID, e.projectID) {
			matched = append(matched, e)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, e := range matched {
		e.timer.Stop()
		e.ch <- Outcome{Err: err}
	}
	return len(matched)
}

// RunSweeper force-rejects entries whose age exceeds twice their own
// timeout, a defense against timeout timers that failed to fire. It
// blocks until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("response tracker sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("response tracker sweeper stopped")
			return
		case <-ticker.C:
			if n := t.sweep(time.Now()); n > 0 {
				slog.Warn("response tracker swept stale entries", "count", n)
			}
		}
	}
}

func (t *Tracker) sweep(now time.Time) int {
	t.mu.Lock()
	var stale []*entry
	for id, e := range t.pending {
		if now.Sub(e.createdAt) > 2*e.timeout {
			stale = append(stale, e)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		e.timer.Stop()
		e.ch <- Outcome{Err: cerr.NewError(cerr.DeadlineExceeded,
			fmt.Sprintf("response %s swept after %s", e.correlationID, now.Sub(e.createdAt)), nil)}
	}
	return len(stale)
}

// Close rejects all outstanding entries and refuses new registrations.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	remaining := make([]*entry, 0, len(t.pending))
	for id, e := range t.pending {
		remaining = append(remaining, e)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, e := range remaining {
		e.timer.Stop()
		e.ch <- Outcome{Err: cerr.NewError(cerr.Canceled, "response tracker shut down", nil)}
	}
}
