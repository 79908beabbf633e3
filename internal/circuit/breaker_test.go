package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func TestExecuteSuccessStaysClosed(t *testing.T) {
	cb := New("control", Config{})

	err := cb.Execute(func() error { return nil })

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecuteTripsOpenAfterConsecutiveFailures(t *testing.T) {
	cb := New("control", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		Timeout:     time.Minute,
	})
	boom := simpleErr("boom")

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	cb := New("control", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
		MaxRequests: 1,
	})
	boom := simpleErr("boom")

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New("control", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     10 * time.Millisecond,
		MaxRequests: 1,
	})
	boom := simpleErr("boom")

	_ = cb.Execute(func() error { return boom })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestResetForcesClosed(t *testing.T) {
	cb := New("control", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	boom := simpleErr("boom")

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestOnStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := New("control", Config{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return simpleErr("boom") })

	assert.Equal(t, []string{"control:CLOSED->OPEN"}, transitions)
}
