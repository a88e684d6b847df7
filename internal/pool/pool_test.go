package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Tracked
	Value string
}

func (p *payload) Reset() { p.Value = "" }

func newPayloadPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	p, err := NewPool("payloads", "payload", func() Trackable { return new(payload) }, nil, capacity)
	require.NoError(t, err)
	return p
}

func TestNewPoolValidation(t *testing.T) {
	_, err := NewPool("", "payload", func() Trackable { return new(payload) }, nil, 4)
	require.Error(t, err)

	_, err = NewPool("p", "payload", nil, nil, 4)
	require.Error(t, err)

	_, err = NewPool("p", "payload", func() Trackable { return new(payload) }, nil, 0)
	require.Error(t, err)
}

func TestAcquireInitialisesTracker(t *testing.T) {
	p := newPayloadPool(t, 4)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	tr := TrackerOf(obj)
	require.NotNil(t, tr)
	require.Equal(t, int64(1), tr.RefCount())
	require.False(t, tr.Returned())
}

func TestReturnToPoolRequiresZeroRefs(t *testing.T) {
	p := newPayloadPool(t, 4)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	tr := TrackerOf(obj)

	require.NoError(t, tr.AcquireReference())
	require.NoError(t, tr.ReleaseReference())

	tr.ReturnToPool()
	require.False(t, tr.Returned(), "owner reference still live")

	require.NoError(t, tr.ReleaseReference())
	tr.ReturnToPool()
	require.True(t, tr.Returned())
	require.Equal(t, int64(1), p.AvailableCount())
}

func TestReturnToPoolIsOneShot(t *testing.T) {
	p := newPayloadPool(t, 4)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	tr := TrackerOf(obj)
	require.NoError(t, tr.ReleaseReference())

	tr.ReturnToPool()
	tr.ReturnToPool()
	require.Equal(t, int64(1), p.AvailableCount())
}

func TestAcquireReferenceAfterReturnFails(t *testing.T) {
	p := newPayloadPool(t, 4)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	tr := TrackerOf(obj)
	require.NoError(t, tr.ReleaseReference())
	tr.ReturnToPool()

	require.Error(t, tr.AcquireReference())
}

func TestReleaseAfterReturnIsNoOp(t *testing.T) {
	p := newPayloadPool(t, 4)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	tr := TrackerOf(obj)
	require.NoError(t, tr.ReleaseReference())
	tr.ReturnToPool()

	require.NoError(t, tr.ReleaseReference())
}

func TestReacquireResetsTrackerAndState(t *testing.T) {
	p := newPayloadPool(t, 1)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)
	obj.(*payload).Value = "hi"
	tr := TrackerOf(obj)
	require.NoError(t, tr.ReleaseReference())
	tr.ReturnToPool()

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, obj, again)
	require.Empty(t, again.(*payload).Value)
	require.Equal(t, int64(1), TrackerOf(again).RefCount())
	require.False(t, TrackerOf(again).Returned())
}

func TestCapacityBoundBlocksUntilReturn(t *testing.T) {
	p := newPayloadPool(t, 1)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err, "capacity exhausted and nothing returned")

	tr := TrackerOf(obj)
	require.NoError(t, tr.ReleaseReference())
	tr.ReturnToPool()

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestConcurrentAcquireReleaseNeverExceedsCapacity(t *testing.T) {
	const capacity = 8
	p := newPayloadPool(t, capacity)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				obj, err := p.Acquire(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				tr := TrackerOf(obj)
				if err := tr.ReleaseReference(); err != nil {
					t.Error(err)
					return
				}
				tr.ReturnToPool()
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, p.AvailableCount(), int64(capacity))
}

func TestRemoveFromPoolReplacesInstance(t *testing.T) {
	p := newPayloadPool(t, 2)

	obj, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.RemoveFromPool(obj)
	require.True(t, TrackerOf(obj).Returned())
	require.Equal(t, int64(1), p.AvailableCount())

	replacement, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, obj, replacement)
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry()

	first, err := r.GetOrCreate("payload", func() Trackable { return new(payload) }, nil, 8)
	require.NoError(t, err)
	second, err := r.GetOrCreate("payload", func() Trackable { return new(payload) }, nil, 99)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 8, first.Capacity())

	found, ok := r.Lookup("payload")
	require.True(t, ok)
	require.Same(t, first, found)
	require.Len(t, r.Pools(), 1)
}

func TestRegistryDefaultCapacity(t *testing.T) {
	r := NewRegistry()
	p, err := r.GetOrCreate("payload", func() Trackable { return new(payload) }, nil, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultCapacity, p.Capacity())
}
