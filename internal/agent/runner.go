package agent

import (
	"context"
	"fmt"
	"runtime"

	"github.com/telaminai/mongoose/errs"
	"github.com/telaminai/mongoose/internal/observability"
)

// Run drives the composite agent's duty cycle on a dedicated, locked OS
// thread until ctx is cancelled, applying idle between cycles. An error
// escaping the duty cycle is routed to the global fatal handler: the
// default posture is fail-fast.
func Run(ctx context.Context, c *Composite, idle IdleStrategy) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if idle == nil {
		idle = Yielding{}
	}

	defer func() {
		if r := recover(); r != nil {
			observability.FatalHandler(c.RoleName(), errs.New("agent", errs.CodeFatal,
				errs.WithMessage(fmt.Sprintf("uncaught error in duty cycle: %v", r)),
				errs.WithField("agent", c.RoleName())))
		}
	}()

	c.OnStart()
	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return
		default:
		}
		idle.Idle(c.DoWork())
	}
}
