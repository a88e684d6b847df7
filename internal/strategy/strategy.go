// Package strategy implements the pluggable invocation strategies mapping
// (event, processor) pairs to processor entry points. Two built-in shapes
// are provided: the generic on-event dispatch and typed-interface dispatch.
// A strategy is single-threaded with respect to the reader that owns it.
package strategy

import (
	"fmt"
	"time"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/processor"
)

// Invocation is the dispatch contract consumed by queue readers:
// {process(event), process(event, time), register(proc), deregister(proc),
// count()}.
type Invocation interface {
	ProcessEvent(event any) error
	ProcessEventAt(event any, at time.Time) error
	RegisterProcessor(p processor.Processor)
	DeregisterProcessor(p processor.Processor)
	Count() int
}

// Factory builds a fresh strategy bound to the owning agent's current-
// processor slot. The flow manager selects the factory by callback type and
// invokes it once per reader.
type Factory func(slot *processor.ActiveSlot) Invocation

// roster is the shared registration bookkeeping: an ordered processor list
// with idempotent register/deregister.
type roster struct {
	procs []processor.Processor
}

func (r *roster) register(p processor.Processor) {
	if p == nil {
		return
	}
	for _, existing := range r.procs {
		if existing == p {
			return
		}
	}
	r.procs = append(r.procs, p)
}

func (r *roster) deregister(p processor.Processor) {
	for i, existing := range r.procs {
		if existing == p {
			r.procs = append(r.procs[:i], r.procs[i+1:]...)
			return
		}
	}
}

func (r *roster) count() int { return len(r.procs) }

// invoke runs fn with the slot pointing at p, converting panics into
// structured dispatch errors so the reader's retry policy sees them.
func invoke(slot *processor.ActiveSlot, p processor.Processor, fn func() error) (err error) {
	if slot != nil {
		slot.Set(p)
		defer slot.Clear()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errs.New("strategy", errs.CodeDispatchFailed,
				errs.WithMessage(fmt.Sprintf("processor panic: %v", r)),
				errs.WithField("processor", p.Name()))
		}
	}()
	return fn()
}
