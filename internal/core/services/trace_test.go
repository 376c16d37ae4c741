package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearcast/internal/app/hub"
	"nearcast/internal/core/domain"
)

const waitFor = 2 * time.Second

func traceFixture(t *testing.T, dropOnRequesterClose bool) (*hub.Hub, *fakeStore, *TraceService) {
	t.Helper()
	h := hub.NewHub(testLogger())
	store := newFakeStore()
	return h, store, NewTraceService(testLogger(), h, store, dropOnRequesterClose)
}

func lastTrace(f *fakeClient) (domain.TraceEvent, bool) {
	events := eventsOfType[domain.TraceEvent](f, domain.TypeTrace)
	if len(events) == 0 {
		return domain.TraceEvent{}, false
	}
	return events[len(events)-1], true
}

func TestTraceCreateRefusedWhenNeitherOnline(t *testing.T) {
	_, _, svc := traceFixture(t, false)
	err := svc.Create(context.Background(), newFakeClient("conn-x"), "alice", "bob", 1)
	assert.ErrorIs(t, err, domain.ErrPairOffline)
	assert.Zero(t, svc.Count())
}

func TestTracePairCanonicalRegardlessOfOrder(t *testing.T) {
	h, store, svc := traceFixture(t, false)
	ctx := context.Background()
	h.Register("alice", newFakeClient("conn-a"))
	store.set("alice", 0, 0)

	require.NoError(t, svc.Create(ctx, newFakeClient("conn-1"), "bob", "alice", 1))
	require.NoError(t, svc.Create(ctx, newFakeClient("conn-2"), "alice", "bob", 2))
	assert.Equal(t, 1, svc.Count())
}

func TestTraceBothOnlineUntilThreshold(t *testing.T) {
	h, store, svc := traceFixture(t, false)
	ctx := context.Background()

	a := newFakeClient("conn-a")
	b := newFakeClient("conn-b")
	h.Register("alice", a)
	h.Register("bob", b)
	store.set("alice", 0, 0)
	store.set("bob", 0, 0.001) // ~0.11 km apart

	require.NoError(t, svc.Create(ctx, a, "alice", "bob", 0.05))

	// Distance exceeds the threshold, so the trace stays armed and both
	// members hear about it.
	require.Eventually(t, func() bool {
		event, ok := lastTrace(a)
		return ok && event.Status == domain.TraceBothOnline
	}, waitFor, 10*time.Millisecond)

	event, _ := lastTrace(a)
	assert.InDelta(t, 0.11, event.Distance, 0.01)
	require.Len(t, event.Users, 2)
	assert.Equal(t, "alice", event.Users[0].Identity)
	assert.True(t, event.Users[0].IsItYou)
	assert.False(t, event.Users[1].IsItYou)
	assert.Equal(t, 1, svc.Count())

	// Bob moves within the threshold: one final update, then the trace ends.
	store.set("bob", 0, 0.0001) // ~0.01 km
	svc.RefreshFor(ctx, "bob")

	require.Eventually(t, func() bool { return svc.Count() == 0 }, waitFor, 10*time.Millisecond)
	event, ok := lastTrace(b)
	require.True(t, ok)
	assert.Equal(t, domain.TraceBothOnline, event.Status)
	assert.LessOrEqual(t, event.Distance, 0.05)

	// No further updates for the pair once terminated.
	before := a.sentCount()
	svc.RefreshFor(ctx, "bob")
	svc.RefreshFor(ctx, "alice")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, a.sentCount())
}

func TestTraceSingleUserThenBothOnline(t *testing.T) {
	h, store, svc := traceFixture(t, false)
	ctx := context.Background()

	a := newFakeClient("conn-a")
	h.Register("alice", a)
	store.set("alice", 10, 10)

	require.NoError(t, svc.Create(ctx, a, "alice", "bob", 0.05))

	// Only alice is online: she gets a single_user update with her own
	// location and nothing else.
	require.Eventually(t, func() bool {
		event, ok := lastTrace(a)
		return ok && event.Status == domain.TraceSingleUser
	}, waitFor, 10*time.Millisecond)
	event, _ := lastTrace(a)
	require.Len(t, event.Users, 1)
	assert.Equal(t, "alice", event.Users[0].Identity)
	assert.Equal(t, 1, svc.Count())

	// Bob comes online with a stored position; the next trigger upgrades
	// the pair without a new trace request.
	b := newFakeClient("conn-b")
	h.Register("bob", b)
	store.set("bob", 10, 10.1)
	svc.RefreshFor(ctx, "bob")

	require.Eventually(t, func() bool {
		event, ok := lastTrace(b)
		return ok && event.Status == domain.TraceBothOnline
	}, waitFor, 10*time.Millisecond)
}

func TestTraceBothOfflineDiscards(t *testing.T) {
	h, store, svc := traceFixture(t, false)
	ctx := context.Background()

	a := newFakeClient("conn-a")
	h.Register("alice", a)
	store.set("alice", 0, 0)
	require.NoError(t, svc.Create(ctx, a, "alice", "bob", 0.05))
	require.Eventually(t, func() bool { return a.sentCount() > 0 }, waitFor, 10*time.Millisecond)

	h.Disconnect(a)
	svc.RefreshFor(ctx, "alice")
	require.Eventually(t, func() bool { return svc.Count() == 0 }, waitFor, 10*time.Millisecond)
}

func TestTraceMissingLocationSkipsSilently(t *testing.T) {
	h, store, svc := traceFixture(t, false)
	ctx := context.Background()

	a := newFakeClient("conn-a")
	b := newFakeClient("conn-b")
	h.Register("alice", a)
	h.Register("bob", b)
	store.set("alice", 0, 0)
	// bob has no stored location yet

	require.NoError(t, svc.Create(ctx, a, "alice", "bob", 0.05))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, a.sentCount())
	assert.Equal(t, 1, svc.Count())
}

func TestTraceRequesterClosePolicy(t *testing.T) {
	t.Run("enabled drops the trace with its requester", func(t *testing.T) {
		h, store, svc := traceFixture(t, true)
		a := newFakeClient("conn-a")
		h.Register("alice", a)
		store.set("alice", 0, 0)

		require.NoError(t, svc.Create(context.Background(), a, "alice", "bob", 0.05))
		require.Equal(t, 1, svc.Count())

		svc.OnConnectionClosed(a)
		assert.Zero(t, svc.Count())
	})

	t.Run("disabled keeps the trace alive", func(t *testing.T) {
		h, store, svc := traceFixture(t, false)
		a := newFakeClient("conn-a")
		b := newFakeClient("conn-b")
		h.Register("alice", a)
		h.Register("bob", b)
		store.set("alice", 0, 0)

		require.NoError(t, svc.Create(context.Background(), a, "alice", "bob", 0.05))
		svc.OnConnectionClosed(a)
		assert.Equal(t, 1, svc.Count())
	})
}
