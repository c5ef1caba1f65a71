package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadweave/threadweave/internal/eventbus"
	"github.com/threadweave/threadweave/pkg/cerr"
)

type memRepository struct {
	mu       sync.Mutex
	approval map[string]*Approval
}

func newMemRepository() *memRepository {
	return &memRepository{approval: make(map[string]*Approval)}
}

func (r *memRepository) Create(_ context.Context, a *Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.approval[a.ID] = &cp
	return nil
}

func (r *memRepository) Get(_ context.Context, id string) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approval[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "approval not found", nil)
	}
	cp := *a
	return &cp, nil
}

func (r *memRepository) ListPending(_ context.Context) ([]*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Approval
	for _, a := range r.approval {
		if a.Status == StatusPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepository) Update(_ context.Context, a *Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.approval[a.ID] = &cp
	return nil
}

func newTestGate(cfg GateConfig) (*Gate, *memRepository, *eventbus.Bus) {
	repo := newMemRepository()
	bus := eventbus.New()
	return NewGate(repo, bus, cfg), repo, bus
}

func TestGate_RequestAndDecide(t *testing.T) {
	ctx := context.Background()
	g, _, bus := newTestGate(GateConfig{})
	_, events := bus.Subscribe(8)

	a, err := g.Request(ctx, "thread-1", "deploy", "proj-1", "Deploy to prod?", RiskHigh, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.False(t, a.Granted())

	ev := <-events
	assert.Equal(t, eventbus.EventApprovalRequested, ev.Type)
	assert.Equal(t, a.ID, ev.Metadata["approval_id"])

	decided, err := g.Decide(ctx, a.ID, Decision{
		Decision:  StatusApproved,
		DecidedBy: "alice",
		Comment:   "looks fine",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "alice", decided.ResolvedBy)
	assert.True(t, decided.Granted())
	require.NotNil(t, decided.Decision)
	assert.Equal(t, "looks fine", decided.Decision.Comment)

	ev = <-events
	assert.Equal(t, eventbus.EventApprovalResolved, ev.Type)
}

func TestGate_DecisionValidation(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, err := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)
	require.NoError(t, err)

	_, err = g.Decide(ctx, a.ID, Decision{Decision: "maybe", DecidedBy: "bob"})
	require.Error(t, err)

	_, err = g.Decide(ctx, a.ID, Decision{Decision: StatusApproved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decidedBy")
}

func TestGate_DecisionIsImmutable(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)
	_, err := g.Decide(ctx, a.ID, Decision{Decision: StatusRejected, DecidedBy: "alice"})
	require.NoError(t, err)

	// a second decision on a terminal approval is refused
	_, err = g.Decide(ctx, a.ID, Decision{Decision: StatusApproved, DecidedBy: "bob"})
	require.Error(t, err)

	final, err := g.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, final.Status)
	assert.Equal(t, "alice", final.ResolvedBy)
}

func TestGate_AcknowledgedGrants(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskMedium, time.Hour)
	decided, err := g.Decide(ctx, a.ID, Decision{Decision: StatusAcknowledged, DecidedBy: "carol"})
	require.NoError(t, err)
	assert.True(t, decided.Granted())
}

func TestGate_Await(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)

	done := make(chan *Approval, 1)
	go func() {
		resolved, err := g.Await(ctx, a.ID)
		if err == nil {
			done <- resolved
		}
	}()

	// give the waiter time to register, then decide
	time.Sleep(20 * time.Millisecond)
	_, err := g.Decide(ctx, a.ID, Decision{Decision: StatusApproved, DecidedBy: "alice"})
	require.NoError(t, err)

	select {
	case resolved := <-done:
		assert.Equal(t, StatusApproved, resolved.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Await never returned")
	}
}

func TestGate_AwaitAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)
	_, err := g.Decide(ctx, a.ID, Decision{Decision: StatusApproved, DecidedBy: "alice"})
	require.NoError(t, err)

	resolved, err := g.Await(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
}

func TestGate_AwaitContextCancel(t *testing.T) {
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(context.Background(), "t", "s", "", "?", RiskLow, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Await(ctx, a.ID)
	assert.Error(t, err)
}

func TestGate_Cancel(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)
	require.NoError(t, g.Cancel(ctx, a.ID))

	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	// cancelling a terminal approval is a no-op
	require.NoError(t, g.Cancel(ctx, a.ID))
	got, _ = g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestGate_ExpiryAutoReject(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{ExpiryPolicy: ExpiryAutoReject})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Minute)
	g.scanOnce(ctx, time.Now().Add(2*time.Minute))

	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestGate_ExpiryAutoApprove(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{
		ExpiryPolicy:          ExpiryAutoApprove,
		MaxRiskForAutoApprove: RiskMedium,
	})

	low, _ := g.Request(ctx, "t", "low", "", "?", RiskLow, time.Minute)
	med, _ := g.Request(ctx, "t", "med", "", "?", RiskMedium, time.Minute)
	high, _ := g.Request(ctx, "t", "high", "", "?", RiskHigh, time.Minute)

	g.scanOnce(ctx, time.Now().Add(2*time.Minute))

	got, _ := g.repo.Get(ctx, low.ID)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "system:auto_approve", got.ResolvedBy)

	got, _ = g.repo.Get(ctx, med.ID)
	assert.Equal(t, StatusApproved, got.Status)

	// above the ceiling: expired, not approved
	got, _ = g.repo.Get(ctx, high.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestGate_CriticalNeverAutoApproved(t *testing.T) {
	ctx := context.Background()
	// even a ceiling of critical must not wave a critical approval through
	g, _, _ := newTestGate(GateConfig{
		ExpiryPolicy:          ExpiryAutoApprove,
		MaxRiskForAutoApprove: RiskCritical,
	})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskCritical, time.Minute)
	g.scanOnce(ctx, time.Now().Add(2*time.Minute))

	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestGate_ExpiryStayPending(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{ExpiryPolicy: ExpiryStayPending})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Minute)
	g.scanOnce(ctx, time.Now().Add(2*time.Minute))

	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestGate_ExpiryEscalate(t *testing.T) {
	ctx := context.Background()
	g, _, bus := newTestGate(GateConfig{
		ExpiryPolicy:    ExpiryEscalate,
		EscalationDelay: 10 * time.Minute,
		EscalationUser:  "oncall",
	})
	_, events := bus.Subscribe(8)

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskHigh, time.Minute)
	<-events // approval.requested

	// expired but still inside the escalation delay: nothing happens
	g.scanOnce(ctx, time.Now().Add(5*time.Minute))
	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.EscalatedAt)

	// past the delay: escalation fires once and the approval stays pending
	g.scanOnce(ctx, time.Now().Add(20*time.Minute))
	got, _ = g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.EscalatedAt)

	ev := <-events
	assert.Equal(t, eventbus.EventApprovalEscalated, ev.Type)
	assert.Equal(t, "oncall", ev.Metadata["escalation_user"])

	// the second pass does not escalate again
	g.scanOnce(ctx, time.Now().Add(30*time.Minute))
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event %s", ev.Type)
	default:
	}
}

func TestGate_ExpiryScanSkipsUnexpired(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(GateConfig{ExpiryPolicy: ExpiryAutoReject})

	a, _ := g.Request(ctx, "t", "s", "", "?", RiskLow, time.Hour)
	g.scanOnce(ctx, time.Now())

	got, _ := g.repo.Get(ctx, a.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRiskLevel_AtMost(t *testing.T) {
	assert.True(t, RiskLow.AtMost(RiskMedium))
	assert.True(t, RiskMedium.AtMost(RiskMedium))
	assert.False(t, RiskHigh.AtMost(RiskMedium))

	// unknown risk levels rank as critical
	assert.False(t, RiskLevel("bogus").AtMost(RiskHigh))
}
