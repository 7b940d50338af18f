package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Timeout: time.Minute})

	assert.Equal(t, Closed, b.State())

	b.Record(false)
	b.Record(false)
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())

	// Third consecutive failure crosses the threshold.
	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	b.Record(false)
	require.Equal(t, Open, b.State())

	invoked := false
	err := b.Do(func() error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, invoked)

	var openErr *ErrBreakerOpen
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, Open, openErr.State)
}

func TestBreakerHalfOpenTrialAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	b.Record(false)
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	// Timeout elapsed: one trial call is permitted.
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.Record(true)
	assert.Equal(t, Closed, b.State())

	// The reset cleared the failure count, so the next failure does not
	// immediately reopen a breaker with threshold above one.
	b2 := NewBreaker(BreakerConfig{FailureThreshold: 2, Timeout: 10 * time.Millisecond})
	b2.Record(false)
	b2.Record(false)
	require.Equal(t, Open, b2.State())
	time.Sleep(20 * time.Millisecond)
	require.True(t, b2.Allow())
	b2.Record(true)
	b2.Record(false)
	assert.Equal(t, Closed, b2.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	b.Record(false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.State())

	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	b.Record(false)
	require.Equal(t, Open, b.State())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerStateChangeHook(t *testing.T) {
	var transitions []BreakerState
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(_, to BreakerState) {
			transitions = append(transitions, to)
		},
	})

	b.Record(false)
	time.Sleep(20 * time.Millisecond)
	b.Allow()
	b.Record(true)

	assert.Equal(t, []BreakerState{Open, HalfOpen, Closed}, transitions)
}
