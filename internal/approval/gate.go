package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/threadweave/threadweave/internal/eventbus"
	"github.com/threadweave/threadweave/pkg/cerr"
)

// GateConfig controls expiry and escalation behavior. One config per
// project scope; the zero value is safe (auto_reject, nothing
// auto-approved, no escalation user).
type GateConfig struct {
	DefaultTimeout time.Duration
	ExpiryPolicy   ExpiryPolicy
	// MaxRiskForAutoApprove caps what auto_approve may wave through.
	// Critical never passes regardless of configuration.
	MaxRiskForAutoApprove RiskLevel
	EscalationDelay       time.Duration
	EscalationUser        string
}

// Gate owns the approval state machine. The orchestrator requests an
// approval before a gated step and awaits its resolution; humans decide
// through Decide; the expiry scan applies the configured policy to
// overdue approvals.
type Gate struct {
	repo Repository
	bus  *eventbus.Bus
	cfg  GateConfig

	mu      sync.Mutex
	waiters map[string][]chan *Approval
}

func NewGate(repo Repository, bus *eventbus.Bus, cfg GateConfig) *Gate {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Hour
	}
	if cfg.ExpiryPolicy == "" {
		cfg.ExpiryPolicy = ExpiryAutoReject
	}
	return &Gate{
		repo:    repo,
		bus:     bus,
		cfg:     cfg,
		waiters: make(map[string][]chan *Approval),
	}
}

// Request creates a pending approval and announces it.
func (g *Gate) Request(ctx context.Context, threadID, stepID, projectID, prompt string, risk RiskLevel, timeout time.Duration) (*Approval, error) {
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	now := time.Now()
	a := &Approval{
		ID:             ulid.Make().String(),
		ThreadID:       threadID,
		StepID:         stepID,
		ProjectID:      projectID,
		Prompt:         prompt,
		RiskLevel:      risk,
		RequestedAt:    now,
		TimeoutSeconds: int(timeout / time.Second),
		ExpiresAt:      now.Add(timeout),
		Status:         StatusPending,
	}
	if err := g.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	g.bus.PublishNew(eventbus.EventApprovalRequested, threadID, stepID, map[string]string{
		"approval_id": a.ID,
		"risk_level":  string(a.RiskLevel),
		"prompt":      a.Prompt,
	})
	slog.Info("approval requested", "approval_id", a.ID, "thread_id", threadID, "step_id", stepID, "risk_level", risk)
	return a, nil
}

// Decide applies a human decision to a pending approval. The decision
// record is immutable once stored; deciding a terminal approval is a
// FailedPrecondition error.
func (g *Gate) Decide(ctx context.Context, id string, d Decision) (*Approval, error) {
	switch d.Decision {
	case StatusApproved, StatusRejected, StatusAcknowledged:
	default:
		return nil, cerr.NewError(cerr.InvalidArgument,
			fmt.Sprintf("decision must be approved, rejected or acknowledged, got %q", d.Decision), nil)
	}
	if d.DecidedBy == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "decision requires decidedBy", nil)
	}

	a, err := g.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("approval is already %s", a.Status), nil)
	}

	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	a.Status = d.Decision
	a.ResolvedBy = d.DecidedBy
	a.Decision = &d
	if err := g.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	g.notifyWaiters(a)
	g.bus.PublishNew(eventbus.EventApprovalResolved, a.ThreadID, a.StepID, map[string]string{
		"approval_id": a.ID,
		"status":      string(a.Status),
		"resolved_by": a.ResolvedBy,
	})
	slog.Info("approval decided", "approval_id", a.ID, "status", a.Status, "decided_by", d.DecidedBy)
	return a, nil
}

// Cancel transitions a pending approval to cancelled, e.g. on workflow
// abort. Cancelling a terminal approval is a no-op.
func (g *Gate) Cancel(ctx context.Context, id string) error {
	a, err := g.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return nil
	}
	a.Status = StatusCancelled
	if err := g.repo.Update(ctx, a); err != nil {
		return err
	}
	g.notifyWaiters(a)
	g.bus.PublishNew(eventbus.EventApprovalResolved, a.ThreadID, a.StepID, map[string]string{
		"approval_id": a.ID,
		"status":      string(a.Status),
	})
	return nil
}

// Await blocks until the approval reaches a terminal status or ctx is
// done. The approval's own deadline is enforced by the expiry scan, on
// its own clock; ctx carries the caller's cancellation only.
func (g *Gate) Await(ctx context.Context, id string) (*Approval, error) {
	ch := make(chan *Approval, 1)
	g.mu.Lock()
	g.waiters[id] = append(g.waiters[id], ch)
	g.mu.Unlock()
	defer g.removeWaiter(id, ch)

	// The approval may have gone terminal before the waiter registered.
	a, err := g.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return a, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resolved := <-ch:
		return resolved, nil
	}
}

func (g *Gate) removeWaiter(id string, ch chan *Approval) {
	g.mu.Lock()
	defer g.mu.Unlock()
	chans := g.waiters[id]
	for i, c := range chans {
		if c == ch {
			g.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(g.waiters[id]) == 0 {
		delete(g.waiters, id)
	}
}

func (g *Gate) notifyWaiters(a *Approval) {
	g.mu.Lock()
	chans := g.waiters[a.ID]
	delete(g.waiters, a.ID)
	g.mu.Unlock()
	for _, ch := range chans {
		ch <- a
	}
}

// RunExpiryScan periodically applies the expiry policy to overdue
// pending approvals. It blocks until ctx is cancelled.
func (g *Gate) RunExpiryScan(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("approval expiry scan started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("approval expiry scan stopped")
			return
		case <-ticker.C:
			g.scanOnce(ctx, time.Now())
		}
	}
}

func (g *Gate) scanOnce(ctx context.Context, now time.Time) {
	pending, err := g.repo.ListPending(ctx)
	if err != nil {
		slog.Error("approval expiry scan failed to list", "error", err)
		return
	}
	for _, a := range pending {
		if now.Before(a.ExpiresAt) {
			continue
		}
		g.expire(ctx, a, now)
	}
}

// expire applies the configured policy to one overdue approval.
func (g *Gate) expire(ctx context.Context, a *Approval, now time.Time) {
	switch g.cfg.ExpiryPolicy {
	case ExpiryAutoApprove:
		// Never silently auto-approve above the configured ceiling;
		// critical is always refused here even when the ceiling says
		// otherwise.
		if a.RiskLevel != RiskCritical && a.RiskLevel.AtMost(g.cfg.MaxRiskForAutoApprove) {
			a.Status = StatusApproved
			a.ResolvedBy = "system:auto_approve"
		} else {
			a.Status = StatusExpired
		}
	case ExpiryStayPending:
		return
	case ExpiryEscalate:
		g.maybeEscalate(a, now)
		if err := g.repo.Update(ctx, a); err != nil {
			slog.Error("failed to persist approval escalation", "approval_id", a.ID, "error", err)
		}
		return
	default: // auto_reject
		a.Status = StatusExpired
	}

	if err := g.repo.Update(ctx, a); err != nil {
		slog.Error("failed to persist approval expiry", "approval_id", a.ID, "error", err)
		return
	}
	g.notifyWaiters(a)
	g.bus.PublishNew(eventbus.EventApprovalResolved, a.ThreadID, a.StepID, map[string]string{
		"approval_id": a.ID,
		"status":      string(a.Status),
	})
	slog.Info("approval expired", "approval_id", a.ID, "status", a.Status)
}

// maybeEscalate publishes an escalation event once the configured delay
// past expiry has elapsed with no decision. The approval stays pending;
// only the first pass escalates.
func (g *Gate) maybeEscalate(a *Approval, now time.Time) {
	if g.cfg.EscalationUser == "" || a.EscalatedAt != nil {
		return
	}
	if now.Sub(a.ExpiresAt) < g.cfg.EscalationDelay {
		return
	}
	a.EscalatedAt = &now
	g.bus.PublishNew(eventbus.EventApprovalEscalated, a.ThreadID, a.StepID, map[string]string{
		"approval_id":     a.ID,
		"escalation_user": g.cfg.EscalationUser,
		"risk_level":      string(a.RiskLevel),
		"prompt":          a.Prompt,
	})
	slog.Warn("approval escalated", "approval_id", a.ID, "escalation_user", g.cfg.EscalationUser)
}
