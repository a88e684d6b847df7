package pool

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/telaminai/mongoose/errs"
)

// DefaultCapacity is the default per-type pool capacity.
const DefaultCapacity = 256

// Pool is a partitioned free list of Trackable instances of one type.
// Capacity is split across a power-of-two number of partitions
// (default P = min(8, cores)); each partition is an independent bounded
// channel-backed free list (see partition.go).
type Pool struct {
	name     string
	typeName string
	capacity int

	partitions []*partition
	homeSeq    atomic.Uint64
	spinBudget int
	debug      *debugState
}

// NewPool constructs a pool for typeName, eagerly sizing its partitions.
// Instances are still constructed lazily on first acquisition, up to each
// partition's capacity share.
func NewPool(name, typeName string, factory func() Trackable, reset func(Trackable), capacity int) (*Pool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.New("pool", errs.CodeNullArgument, errs.WithMessage("pool name required"))
	}
	if factory == nil {
		return nil, errs.New("pool", errs.CodeNullArgument, errs.WithMessage("factory required"), errs.WithField("pool", name))
	}
	if capacity <= 0 {
		return nil, errs.New("pool", errs.CodeInvalidCapacity, errs.WithMessage("capacity must be positive"), errs.WithField("pool", name))
	}

	numPartitions := partitionCount(capacity)
	p := &Pool{name: name, typeName: typeName, capacity: capacity, spinBudget: 32, debug: newDebugState(name)}
	p.partitions = make([]*partition, numPartitions)

	base := capacity / numPartitions
	remainder := capacity % numPartitions
	for i := 0; i < numPartitions; i++ {
		share := base
		if i < remainder {
			share++
		}
		if share == 0 {
			share = 1
		}
		p.partitions[i] = newPartition(p, i, share, typeName, factory, reset)
	}
	return p, nil
}

func partitionCount(capacity int) int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	if p > capacity {
		p = 1
	}
	return p
}

// Acquire picks the caller's home partition by round-robin hash, attempts
// a non-blocking pop, steals across other partitions on a miss, spins for
// a bounded number of scheduling rounds, and finally blocks on the home
// partition. It never returns a nil instance without an error.
func (p *Pool) Acquire(ctx context.Context) (Trackable, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	home := int(p.homeSeq.Add(1)-1) % len(p.partitions)

	if obj, ok := p.partitions[home].tryAcquire(); ok {
		return obj, nil
	}
	for i := 1; i < len(p.partitions); i++ {
		idx := (home + i) % len(p.partitions)
		if obj, ok := p.partitions[idx].tryAcquire(); ok {
			return obj, nil
		}
	}
	for i := 0; i < p.spinBudget; i++ {
		runtime.Gosched()
		if obj, ok := p.partitions[home].tryAcquire(); ok {
			return obj, nil
		}
	}

	obj, err := p.partitions[home].blockingAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool %s: acquire: %w", p.name, err)
	}
	return obj, nil
}

// release returns tr's instance to its home partition. Called exclusively
// by Tracker.ReturnToPool.
func (p *Pool) release(tr *Tracker) {
	p.partitions[tr.home].release(tr.instance)
}

// spillover places obj on the first sibling partition with free capacity,
// falling back to blocking on the origin partition if every partition is
// momentarily saturated (a narrow race between release and acquire).
func (p *Pool) spillover(from int, obj Trackable) {
	for i := 0; i < len(p.partitions); i++ {
		if i == from {
			continue
		}
		select {
		case p.partitions[i].free <- obj:
			return
		default:
		}
	}
	p.partitions[from].free <- obj
}

// RemoveFromPool permanently detaches instance and places a freshly
// constructed replacement on the free list. It does not adjust the
// partition's created counter.
func (p *Pool) RemoveFromPool(instance Trackable) {
	tr := TrackerOf(instance)
	if tr == nil {
		return
	}
	tr.returned.Store(true)

	pt := p.partitions[tr.home]
	fresh := pt.factory()
	freshTracker := newTracker(p, p.typeName, tr.home, fresh)
	if pa, ok := fresh.(PoolAware); ok {
		pa.SetTracker(freshTracker)
	}
	fresh.Reset()
	pt.release(fresh)
}

// AvailableCount returns the sum of partition free-list sizes.
func (p *Pool) AvailableCount() int64 {
	var total int64
	for _, pt := range p.partitions {
		total += pt.available()
	}
	return total
}

// ActiveStacks returns the acquisition stacks of instances currently held
// outside the pool. Populated only under the debug build tag.
func (p *Pool) ActiveStacks() []string {
	return p.debug.activeStacks()
}

// Name returns the pool's registered name.
func (p *Pool) Name() string { return p.name }

// Capacity returns the pool's total configured capacity.
func (p *Pool) Capacity() int { return p.capacity }
