package task

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Defaults(t *testing.T) {
	s := NewState(":compile")

	_, ok := s.Outcome()
	assert.False(t, ok)
	assert.True(t, s.Configurable())
	assert.True(t, s.Actionable())
	assert.False(t, s.Executed())
	assert.False(t, s.Executing())
	assert.False(t, s.DidWork())
	assert.Nil(t, s.Failure())
	assert.NoError(t, s.RethrowFailure())
	assert.Equal(t, "", s.SkipMessage())

	c := s.Caching()
	assert.False(t, c.Enabled())
	assert.Equal(t, CachingReasonUnknown, c.Reason())
	assert.False(t, s.Cacheable())
}

func TestState_OutcomePredicates(t *testing.T) {
	tests := []struct {
		outcome   Outcome
		skipped   bool
		upToDate  bool
		noSource  bool
		fromCache bool
		message   string
	}{
		{OutcomeExecuted, false, false, false, false, ""},
		{OutcomeUpToDate, true, true, false, false, "UP-TO-DATE"},
		{OutcomeSkipped, true, false, false, false, "SKIPPED"},
		{OutcomeNoSource, true, false, true, false, "NO-SOURCE"},
		{OutcomeFromCache, false, true, false, true, "FROM-CACHE"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			s := NewState(":t")
			s.SetOutcome(tt.outcome)

			got, ok := s.Outcome()
			require.True(t, ok)
			assert.Equal(t, tt.outcome, got)
			assert.True(t, s.Executed())
			assert.Equal(t, tt.skipped, s.Skipped())
			assert.Equal(t, tt.upToDate, s.UpToDate())
			assert.Equal(t, tt.noSource, s.NoSource())
			assert.Equal(t, tt.fromCache, s.FromCache())
			assert.Equal(t, tt.message, s.SkipMessage())
			assert.Equal(t, tt.upToDate, s.Avoided())
			assert.Equal(t, tt.outcome == OutcomeExecuted, s.ActionsWereExecuted())
			assert.False(t, s.Configurable())
		})
	}
}

func TestState_NonActionableIsNeverAvoidedOrExecuted(t *testing.T) {
	for _, o := range []Outcome{OutcomeExecuted, OutcomeUpToDate, OutcomeFromCache} {
		s := NewState(":lifecycle")
		s.SetActionable(false)
		s.SetOutcome(o)
		assert.False(t, s.Avoided(), o)
		assert.False(t, s.ActionsWereExecuted(), o)
	}
}

func TestState_SetOutcomeTwicePanics(t *testing.T) {
	s := NewState(":jar")
	s.SetOutcome(OutcomeUpToDate)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		cv, ok := r.(*ContractViolation)
		require.True(t, ok, "expected *ContractViolation, got %T", r)
		assert.Equal(t, ":jar", cv.Task)
		assert.Contains(t, cv.Error(), "UP_TO_DATE")

		// the first outcome survives and the lock was released
		got, _ := s.Outcome()
		assert.Equal(t, OutcomeUpToDate, got)
	}()
	s.SetOutcome(OutcomeExecuted)
}

func TestState_SetOutcomeRejectsUnknown(t *testing.T) {
	s := NewState(":x")
	assert.Panics(t, func() { s.SetOutcome(Outcome("BOGUS")) })
	assert.True(t, s.Configurable())
}

func TestState_SetFailure(t *testing.T) {
	boom := errors.New("boom")

	t.Run("records executed with failure", func(t *testing.T) {
		s := NewState(":test")
		s.SetFailure(boom)
		got, ok := s.Outcome()
		require.True(t, ok)
		assert.Equal(t, OutcomeExecuted, got)
		assert.Same(t, boom, s.Failure())
	})

	t.Run("twice panics", func(t *testing.T) {
		s := NewState(":test")
		s.SetFailure(boom)
		assert.Panics(t, func() { s.SetFailure(errors.New("again")) })
		assert.Same(t, boom, s.Failure())
	})

	t.Run("after outcome panics", func(t *testing.T) {
		s := NewState(":test")
		s.SetOutcome(OutcomeSkipped)
		assert.Panics(t, func() { s.SetFailure(boom) })
		assert.Nil(t, s.Failure())
	})

	t.Run("outcome after failure panics", func(t *testing.T) {
		s := NewState(":test")
		s.SetFailure(boom)
		assert.Panics(t, func() { s.SetOutcome(OutcomeUpToDate) })
	})

	t.Run("nil failure panics", func(t *testing.T) {
		s := NewState(":test")
		assert.Panics(t, func() { s.SetFailure(nil) })
	})
}

func TestState_ConfigurableAcrossInterleavings(t *testing.T) {
	s := NewState(":a")
	assert.True(t, s.Configurable())

	s.SetExecuting(true)
	assert.False(t, s.Configurable())
	s.SetExecuting(false)
	assert.True(t, s.Configurable())

	s.SetExecuting(true)
	s.SetOutcome(OutcomeExecuted)
	assert.False(t, s.Configurable())
	s.SetExecuting(false)
	assert.False(t, s.Configurable())

	// toggling afterwards never makes it configurable again
	s.SetExecuting(true)
	s.SetExecuting(false)
	assert.False(t, s.Configurable())
}

func TestState_RunActionsLowersExecutingOnFailureAndPanic(t *testing.T) {
	s := NewState(":a")

	err := s.RunActions(func() error {
		assert.True(t, s.Executing())
		assert.False(t, s.Configurable())
		return errors.New("failed")
	})
	require.Error(t, err)
	assert.False(t, s.Executing())

	err = s.RunActions(func() error { panic("kaput") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaput", pe.Value)
	assert.NotNil(t, pe.StackTrace())
	assert.False(t, s.Executing())
	assert.True(t, s.Configurable())
}

// A failing action: the outcome is EXECUTED, but actions did not complete and
// the failure is surfaced unchanged when it is already an unchecked kind.
func TestState_FailingCompileScenario(t *testing.T) {
	s := NewState(":compile")
	s.SetActionable(true)

	err := s.RunActions(func() error {
		var m map[string]int
		m["x"] = 1 // assignment to nil map: runtime error
		return nil
	})
	require.Error(t, err)
	s.SetFailure(err)

	assert.True(t, s.Executed())
	got, _ := s.Outcome()
	assert.Equal(t, OutcomeExecuted, got)
	assert.Equal(t, err, s.Failure())
	assert.False(t, s.ActionsWereExecuted())
	assert.Equal(t, err, s.RethrowFailure())
	var fe *FailedError
	assert.False(t, errors.As(s.RethrowFailure(), &fe))
}

func TestState_RethrowFailure(t *testing.T) {
	plain := errors.New("compilation failed")
	failed := &FailedError{Task: ":other", Cause: plain}
	panicked := &PanicError{Value: "boom"}

	tests := []struct {
		name      string
		failure   error
		unchanged bool
	}{
		{"plain error is wrapped", plain, false},
		{"wrapped plain error is wrapped", fmt.Errorf("context: %w", plain), false},
		{"failed error passes through", failed, true},
		{"panic passes through", panicked, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(":build")
			s.SetFailure(tt.failure)
			err := s.RethrowFailure()
			require.Error(t, err)
			if tt.unchanged {
				assert.Same(t, tt.failure, err)
				return
			}
			var fe *FailedError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, ":build", fe.Task)
			assert.Same(t, tt.failure, fe.Cause)
			assert.ErrorIs(t, err, plain)
			assert.Contains(t, err.Error(), "failed with an exception")
		})
	}
}

func TestState_Caching(t *testing.T) {
	s := NewState(":jar")
	s.SetCaching(CachingDisabled(CachingReasonNoOutputsDeclared, "No outputs declared"))
	assert.False(t, s.Cacheable())
	assert.Equal(t, CachingReasonNoOutputsDeclared, s.Caching().Reason())
	assert.Equal(t, "disabled (NO_OUTPUTS_DECLARED): No outputs declared", s.Caching().String())

	s.SetCaching(CachingEnabled())
	assert.True(t, s.Cacheable())
	assert.Equal(t, "enabled", s.Caching().String())

	assert.Equal(t, CachingReasonUnknown, CachingDisabled("", "x").Reason())
}

func TestState_OriginBuildID(t *testing.T) {
	id := NewBuildID()

	tests := []struct {
		outcome Outcome
		visible bool
	}{
		{OutcomeUpToDate, true},
		{OutcomeFromCache, true},
		{OutcomeExecuted, false},
		{OutcomeSkipped, false},
		{OutcomeNoSource, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			s := NewState(":a")
			s.SetOriginBuildID(id)
			_, ok := s.OriginBuildID()
			assert.False(t, ok, "no outcome yet")

			s.SetOutcome(tt.outcome)
			got, ok := s.OriginBuildID()
			assert.Equal(t, tt.visible, ok)
			if tt.visible {
				assert.Equal(t, id, got)
			}
		})
	}
}

func TestState_VisibleAcrossGoroutines(t *testing.T) {
	states := make([]*State, 32)
	for i := range states {
		states[i] = NewState(fmt.Sprintf(":t%d", i))
	}

	var wg sync.WaitGroup
	for _, s := range states {
		wg.Add(1)
		go func(s *State) {
			defer wg.Done()
			_ = s.RunActions(func() error {
				s.SetDidWork(true)
				return nil
			})
			s.SetOutcome(OutcomeExecuted)
		}(s)
	}
	wg.Wait()

	for _, s := range states {
		assert.True(t, s.DidWork())
		assert.True(t, s.ActionsWereExecuted())
		assert.False(t, s.Configurable())
	}
}

func TestOnce(t *testing.T) {
	var o Once[int]
	_, ok := o.Get()
	assert.False(t, ok)
	assert.True(t, o.TrySet(1))
	assert.False(t, o.TrySet(2))
	v, ok := o.Get()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
