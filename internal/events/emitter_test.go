package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	e := NewEmitter(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, e.On(Message, NewListener(func(Event) { order = append(order, i) })))
	}

	require.NoError(t, e.Emit(Message, "x"))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitter_DuplicateListenerIgnored(t *testing.T) {
	e := NewEmitter(nil)

	calls := 0
	l := NewListener(func(Event) { calls++ })
	require.NoError(t, e.On(Opened, l))
	require.NoError(t, e.On(Opened, l))

	assert.Equal(t, 1, e.Count(Opened))
	require.NoError(t, e.Emit(Opened, nil))
	assert.Equal(t, 1, calls)
}

func TestEmitter_PanickingListenerIsolated(t *testing.T) {
	e := NewEmitter(nil)

	var reached bool
	require.NoError(t, e.On(Error, NewListener(func(Event) { panic("boom") })))
	require.NoError(t, e.On(Error, NewListener(func(Event) { reached = true })))

	assert.NotPanics(t, func() {
		require.NoError(t, e.Emit(Error, nil))
	})
	assert.True(t, reached, "listener after the panicking one should still run")
}

func TestEmitter_UnknownNameRejected(t *testing.T) {
	e := NewEmitter(nil)

	err := e.On(Name("bogus"), NewListener(func(Event) {}))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	err = e.Emit(Name("bogus"), nil)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestEmitter_Off(t *testing.T) {
	e := NewEmitter(nil)

	calls := 0
	l := NewListener(func(Event) { calls++ })
	require.NoError(t, e.On(Heartbeat, l))
	require.NoError(t, e.Emit(Heartbeat, nil))
	e.Off(Heartbeat, l)
	require.NoError(t, e.Emit(Heartbeat, nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, e.Count(Heartbeat))
}

func TestEmitter_Once(t *testing.T) {
	e := NewEmitter(nil)

	var payloads []any
	_, err := e.Once(Closed, func(ev Event) { payloads = append(payloads, ev.Payload) })
	require.NoError(t, err)

	require.NoError(t, e.Emit(Closed, 1))
	require.NoError(t, e.Emit(Closed, 2))

	assert.Equal(t, []any{1}, payloads)
	assert.Equal(t, 0, e.Count(Closed))
}

func TestEmitter_EventCarriesNameAndTime(t *testing.T) {
	e := NewEmitter(nil)

	var got Event
	require.NoError(t, e.On(Binary, NewListener(func(ev Event) { got = ev })))
	require.NoError(t, e.Emit(Binary, []byte{1, 2}))

	assert.Equal(t, Binary, got.Name)
	assert.Equal(t, []byte{1, 2}, got.Payload)
	assert.False(t, got.At.IsZero())
}

func TestNames_AllValid(t *testing.T) {
	for _, n := range Names() {
		assert.True(t, n.Valid(), n)
	}
	assert.Len(t, Names(), 8)
}
