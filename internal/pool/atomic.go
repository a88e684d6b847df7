package pool

import "sync/atomic"

// atomicCounter is a small CAS-loop counter used to bound lazy partition
// growth without taking a lock.
type atomicCounter struct {
	v atomic.Int64
}

// incrementBelow atomically increments the counter and reports true iff
// the pre-increment value was below ceiling.
func (c *atomicCounter) incrementBelow(ceiling int64) bool {
	for {
		cur := c.v.Load()
		if cur >= ceiling {
			return false
		}
		if c.v.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *atomicCounter) add(delta int64) {
	c.v.Add(delta)
}
