package errs

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormattingIncludesFieldsAndCause(t *testing.T) {
	err := New(
		"flow",
		CodeNoSource,
		WithMessage("unknown source"),
		WithRemediation("register the source before subscribing"),
		WithField("source", "trades"),
		WithField("callback_type", "on-event"),
		WithCause(errors.New("lookup miss")),
	)

	out := err.Error()
	require.Contains(t, out, "component=flow")
	require.Contains(t, out, "code=no_source")
	require.Contains(t, out, `message="unknown source"`)
	require.Contains(t, out, `remediation="register the source before subscribing"`)
	require.Contains(t, out, `fields=callback_type="on-event",source="trades"`)
	require.Contains(t, out, `cause="lookup miss"`)
}

func TestWithFieldEmptyKeyIgnored(t *testing.T) {
	err := New("pool", CodeInvalidState, WithField("   ", "x"))
	require.Empty(t, err.Fields)
}

func TestNilErrorString(t *testing.T) {
	var e *E
	require.Equal(t, "<nil>", e.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	a := New("pool", CodeInvalidState, WithMessage("first"))
	b := New("pool", CodeInvalidState, WithMessage("second"))
	c := New("flow", CodeNoSource)

	require.True(t, a.Is(b))
	require.False(t, a.Is(c))
	require.True(t, errors.Is(a, b))
}

func TestDefaultsWhenEmpty(t *testing.T) {
	err := New("  ", "")
	require.True(t, strings.HasPrefix(err.Error(), "component=mongoose code=unknown"))
}
