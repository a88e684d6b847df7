package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telaminai/mongoose/internal/processor"
)

type recordingProcessor struct {
	processor.Base
	seen    []any
	current []processor.Processor
	slot    *processor.ActiveSlot
	fail    error
}

func newRecordingProcessor(name string, slot *processor.ActiveSlot) *recordingProcessor {
	return &recordingProcessor{Base: processor.NewBase(name), slot: slot}
}

func (r *recordingProcessor) OnEvent(event any) error {
	if r.fail != nil {
		return r.fail
	}
	r.seen = append(r.seen, event)
	if r.slot != nil {
		r.current = append(r.current, r.slot.Current())
	}
	return nil
}

func TestOnEventDispatchesInRegistrationOrder(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	a := newRecordingProcessor("a", &slot)
	b := newRecordingProcessor("b", &slot)
	s.RegisterProcessor(a)
	s.RegisterProcessor(b)

	require.NoError(t, s.ProcessEvent("x"))
	require.Equal(t, []any{"x"}, a.seen)
	require.Equal(t, []any{"x"}, b.seen)
}

func TestOnEventRegistrationIsIdempotent(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	p := newRecordingProcessor("p", &slot)
	s.RegisterProcessor(p)
	s.RegisterProcessor(p)
	require.Equal(t, 1, s.Count())

	s.DeregisterProcessor(p)
	require.Equal(t, 0, s.Count())
	s.DeregisterProcessor(p)
	require.Equal(t, 0, s.Count())
}

func TestOnEventSetsCurrentProcessorDuringDispatch(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	p := newRecordingProcessor("p", &slot)
	s.RegisterProcessor(p)

	require.NoError(t, s.ProcessEvent("x"))
	require.Equal(t, []processor.Processor{p}, p.current)
	require.Nil(t, slot.Current(), "slot cleared after dispatch")
}

func TestOnEventPropagatesErrors(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	p := newRecordingProcessor("p", &slot)
	p.fail = errors.New("boom")
	s.RegisterProcessor(p)

	require.Error(t, s.ProcessEvent("x"))
	require.Nil(t, slot.Current())
}

func TestOnEventConvertsPanicsToErrors(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	p := &panickyProcessor{Base: processor.NewBase("panicky")}
	s.RegisterProcessor(p)

	err := s.ProcessEvent("x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")
	require.Nil(t, slot.Current())
}

type panickyProcessor struct {
	processor.Base
}

func (p *panickyProcessor) OnEvent(any) error { panic("kaboom") }

func TestOnEventInstallsReplayClock(t *testing.T) {
	var slot processor.ActiveSlot
	s := NewOnEvent(&slot)
	p := &clockReadingProcessor{Base: processor.NewBase("clocked")}
	s.RegisterProcessor(p)

	replayAt := time.Unix(42, 0)
	require.NoError(t, s.ProcessEventAt("x", replayAt))
	require.Equal(t, replayAt, p.observed)
	require.NotEqual(t, replayAt, p.ProcessorClock().WallClock(), "override restored after dispatch")
}

type clockReadingProcessor struct {
	processor.Base
	observed time.Time
}

func (p *clockReadingProcessor) OnEvent(any) error {
	p.observed = p.ProcessorClock().WallClock()
	return nil
}

type priceListener interface {
	OnPrice(price float64) error
}

type priceProcessor struct {
	processor.Base
	prices []float64
	other  []any
}

func (p *priceProcessor) OnEvent(event any) error {
	p.other = append(p.other, event)
	return nil
}

func (p *priceProcessor) OnPrice(price float64) error {
	p.prices = append(p.prices, price)
	return nil
}

func newPriceTyped(slot *processor.ActiveSlot) *Typed {
	return NewTyped(slot,
		func(p processor.Processor) bool {
			_, ok := p.(priceListener)
			return ok
		},
		func(event any, p processor.Processor) error {
			price, ok := event.(float64)
			if !ok {
				return ErrFallthrough
			}
			return p.(priceListener).OnPrice(price)
		})
}

func TestTypedDispatchesOnlyToCapableProcessors(t *testing.T) {
	var slot processor.ActiveSlot
	s := newPriceTyped(&slot)

	capable := &priceProcessor{Base: processor.NewBase("capable")}
	plain := newRecordingProcessor("plain", &slot)
	s.RegisterProcessor(capable)
	s.RegisterProcessor(plain)
	require.Equal(t, 2, s.Count())

	require.True(t, s.IsValidTarget(capable))
	require.False(t, s.IsValidTarget(plain))

	require.NoError(t, s.ProcessEvent(99.5))
	require.Equal(t, []float64{99.5}, capable.prices)
	require.Empty(t, plain.seen)
}

func TestTypedFallsThroughOnPayloadMismatch(t *testing.T) {
	var slot processor.ActiveSlot
	s := newPriceTyped(&slot)
	capable := &priceProcessor{Base: processor.NewBase("capable")}
	s.RegisterProcessor(capable)

	require.NoError(t, s.ProcessEvent("not a price"))
	require.Empty(t, capable.prices)
	require.Equal(t, []any{"not a price"}, capable.other)
}

func TestTypedFactoryBuildsBoundStrategy(t *testing.T) {
	factory := TypedFactory(
		func(p processor.Processor) bool { _, ok := p.(priceListener); return ok },
		func(event any, p processor.Processor) error { return ErrFallthrough },
	)
	var slot processor.ActiveSlot
	s := factory(&slot)
	require.NotNil(t, s)
	require.Equal(t, 0, s.Count())
}
