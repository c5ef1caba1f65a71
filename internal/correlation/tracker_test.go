package correlation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ResolveRoundTrip(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	id, future, err := tr.Track("agent-1", "proj-1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, tr.PendingCount())

	assert.True(t, tr.Resolve(id, "result value"))
	assert.Equal(t, 0, tr.PendingCount())

	outcome := <-future
	require.NoError(t, outcome.Err)
	assert.Equal(t, "result value", outcome.Value)

	// the entry settles exactly once
	assert.False(t, tr.Resolve(id, "again"))
	assert.False(t, tr.Reject(id, errors.New("nope")))
}

func TestTracker_Reject(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	id, future, err := tr.Track("agent-1", "", time.Minute)
	require.NoError(t, err)

	cause := errors.New("agent crashed")
	assert.True(t, tr.Reject(id, cause))

	outcome := <-future
	assert.ErrorIs(t, outcome.Err, cause)
	assert.Empty(t, outcome.Value)
}

func TestTracker_UnknownID(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	assert.False(t, tr.Resolve("no-such-id", "v"))
	assert.False(t, tr.Reject("no-such-id", errors.New("x")))
}

func TestTracker_CapacityBackpressure(t *testing.T) {
	tr := NewTracker(WithMaxPending(3))
	defer tr.Close()

	for i := 0; i < 3; i++ {
		_, _, err := tr.Track("agent-1", "", time.Minute)
		require.NoError(t, err)
	}

	// the registration above the limit fails synchronously and does
	// not register an entry
	_, _, err := tr.Track("agent-1", "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many pending responses")
	assert.Equal(t, 3, tr.PendingCount())
}

func TestTracker_CapacityFreedBySettlement(t *testing.T) {
	tr := NewTracker(WithMaxPending(1))
	defer tr.Close()

	id, _, err := tr.Track("agent-1", "", time.Minute)
	require.NoError(t, err)
	tr.Resolve(id, "done")

	_, _, err = tr.Track("agent-1", "", time.Minute)
	assert.NoError(t, err)
}

func TestTracker_Timeout(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	_, future, err := tr.Track("agent-1", "", 20*time.Millisecond)
	require.NoError(t, err)

	select {
	case outcome := <-future:
		require.Error(t, outcome.Err)
		assert.Contains(t, outcome.Err.Error(), "timed out")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	assert.Equal(t, 0, tr.PendingCount())
}

func TestTracker_PendingForAgent(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	id1, _, _ := tr.Track("agent-a", "", time.Minute)
	id2, _, _ := tr.Track("agent-a", "", time.Minute)
	tr.Track("agent-b", "", time.Minute)

	assert.ElementsMatch(t, []string{id1, id2}, tr.PendingForAgent("agent-a"))
	assert.Empty(t, tr.PendingForAgent("agent-c"))
}

func TestTracker_RejectWhere(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	_, futureA, _ := tr.Track("agent-a", "proj-1", time.Minute)
	_, futureB, _ := tr.Track("agent-b", "proj-2", time.Minute)

	cause := errors.New("project torn down")
	n := tr.RejectWhere(func(agentID, projectID string) bool {
		return projectID == "proj-1"
	}, cause)
	assert.Equal(t, 1, n)

	outcome := <-futureA
	assert.ErrorIs(t, outcome.Err, cause)

	select {
	case <-futureB:
		t.Fatal("unmatched entry must stay pending")
	default:
	}
	assert.Equal(t, 1, tr.PendingCount())
}

func TestTracker_SweepForceRejectsStale(t *testing.T) {
	tr := NewTracker()
	defer tr.Close()

	_, staleFuture, err := tr.Track("agent-a", "", time.Minute)
	require.NoError(t, err)
	_, freshFuture, err := tr.Track("agent-b", "", time.Hour)
	require.NoError(t, err)

	// at +3m the first entry is past twice its timeout, the second is not
	n := tr.sweep(time.Now().Add(3 * time.Minute))
	assert.Equal(t, 1, n)

	outcome := <-staleFuture
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "swept")

	select {
	case <-freshFuture:
		t.Fatal("fresh entry must survive the sweep")
	default:
	}
}

func TestTracker_Close(t *testing.T) {
	tr := NewTracker()

	_, future, err := tr.Track("agent-a", "", time.Minute)
	require.NoError(t, err)

	tr.Close()

	outcome := <-future
	require.Error(t, outcome.Err)

	_, _, err = tr.Track("agent-a", "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")
}
