package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name: "stays closed on successes",
			settings: Settings{
				FailureThreshold: 3,
				SuccessThreshold: 2,
				Timeout:          time.Minute,
			},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "stays closed below the failure threshold",
			settings: Settings{
				FailureThreshold: 3,
				SuccessThreshold: 2,
				Timeout:          time.Minute,
			},
			requests:      []bool{false, false},
			expectedState: StateClosed,
		},
		{
			name: "opens after exactly threshold consecutive failures",
			settings: Settings{
				FailureThreshold: 3,
				SuccessThreshold: 2,
				Timeout:          time.Minute,
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the failure count",
			settings: Settings{
				FailureThreshold: 3,
				SuccessThreshold: 2,
				Timeout:          time.Minute,
			},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				_, _ = breaker.Execute(func() (interface{}, error) {
					if success {
						return "ok", nil
					}
					return nil, errors.New("failed")
				})
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	// Execute successful request
	_, err := breaker.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	// Execute failed request
	_, err = breaker.Execute(func() (interface{}, error) {
		return nil, errors.New("failed")
	})
	assert.Error(t, err)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejectsWithoutInvoking(t *testing.T) {
	breaker := New("test", Settings{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	})

	// Cause breaker to open
	for i := 0; i < 2; i++ {
		_, _ = breaker.Execute(func() (interface{}, error) {
			return nil, errors.New("failed")
		})
	}

	assert.Equal(t, StateOpen, breaker.State())

	// Next request is rejected before the operation runs
	invoked := false
	_, err := breaker.Execute(func() (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	assert.False(t, invoked)
	assert.Equal(t, errdefs.CodeCircuitOpen, errdefs.CodeOf(err))

	// Operation errors pass through untouched when closed
	breaker2 := New("test2", Settings{Timeout: time.Minute})
	opErr := errors.New("backend down")
	_, err = breaker2.Execute(func() (interface{}, error) {
		return nil, opErr
	})
	assert.Equal(t, opErr, err)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	breaker := New("test", Settings{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	// Open the breaker
	for i := 0; i < 2; i++ {
		_, _ = breaker.Execute(func() (interface{}, error) {
			return nil, errors.New("failed")
		})
	}

	assert.Equal(t, StateOpen, breaker.State())

	// Wait for timeout
	time.Sleep(60 * time.Millisecond)

	// The first call after the timeout probes the operation
	invoked := false
	_, err := breaker.Execute(func() (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateHalfOpen, breaker.State())

	// A second success closes the breaker
	_, err = breaker.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, breaker.State())

	// Counters were reset on the transition
	assert.Equal(t, Counts{}, breaker.Counts())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker := New("test", Settings{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		_, _ = breaker.Execute(func() (interface{}, error) {
			return nil, errors.New("failed")
		})
	}
	assert.Equal(t, StateOpen, breaker.State())

	time.Sleep(60 * time.Millisecond)

	// A single half-open failure re-opens immediately
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, errors.New("still failing")
	})
	assert.Error(t, err)
	assert.Equal(t, StateOpen, breaker.State())

	// And the breaker rejects again without invoking
	invoked := false
	_, err = breaker.Execute(func() (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	assert.False(t, invoked)
	assert.Equal(t, errdefs.CodeCircuitOpen, errdefs.CodeOf(err))
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string

	breaker := New("test", Settings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	// Trigger state transitions
	for i := 0; i < 2; i++ {
		_, _ = breaker.Execute(func() (interface{}, error) {
			return nil, errors.New("failed")
		})
	}

	time.Sleep(20 * time.Millisecond)

	// Trigger half-open
	state := breaker.State()
	assert.Equal(t, StateHalfOpen, state)

	// Verify transitions were recorded
	assert.Contains(t, transitions, "closed->open")
	assert.Contains(t, transitions, "open->half-open")
}

func TestBreakerSnapshot(t *testing.T) {
	breaker := New("root@10.0.0.5:22", Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	snap := breaker.Snapshot()
	assert.Equal(t, "root@10.0.0.5:22", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.True(t, snap.OpenedAt.IsZero())

	_, _ = breaker.Execute(func() (interface{}, error) {
		return nil, errors.New("failed")
	})

	snap = breaker.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.False(t, snap.OpenedAt.IsZero())
}

func TestRegistryPerKeyIsolation(t *testing.T) {
	registry := NewRegistry(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	// Trip one key
	_, err := registry.Execute("host-a", func() (interface{}, error) {
		return nil, errors.New("failed")
	})
	assert.Error(t, err)
	assert.Equal(t, StateOpen, registry.Get("host-a").State())

	// The other key is unaffected
	result, err := registry.Execute("host-b", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, registry.Get("host-b").State())
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	registry := NewRegistry(Settings{Timeout: time.Minute})

	b1 := registry.Get("key")
	b2 := registry.Get("key")
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistrySnapshots(t *testing.T) {
	registry := NewRegistry(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	registry.Get("b-key")
	registry.Get("a-key")

	snaps := registry.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a-key", snaps[0].Name)
	assert.Equal(t, "b-key", snaps[1].Name)
}
