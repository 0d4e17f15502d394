package task

import (
	"sync"

	"github.com/google/uuid"
)

// State is the execution record of one task instance for the life of a build.
//
// Lifecycle: configurable -> executing -> outcome assigned exactly once ->
// immutable. Fields are written by the worker running the task and read by
// reporting code on other goroutines, so every access goes through mu.
type State struct {
	path string

	mu            sync.RWMutex
	executing     bool
	actionable    bool
	didWork       bool
	outcome       Once[Outcome]
	failure       Once[error]
	caching       CachingState
	originBuildID BuildID
}

// NewState returns the record of an unconfigured task identified by path.
func NewState(path string) *State {
	return &State{
		path:       path,
		actionable: true,
		caching:    CachingNotDetermined(),
	}
}

// Path is the build-unique identity of the task.
func (s *State) Path() string { return s.path }

// TaskPath lets operation details that carry a State reduce to the path.
func (s *State) TaskPath() string { return s.path }

// SetOutcome assigns the terminal outcome. Assigning a second time panics with
// a *ContractViolation.
func (s *State) SetOutcome(o Outcome) {
	if !o.Valid() {
		violate(s.path, "unknown outcome %q", o)
	}
	s.mu.Lock()
	if !s.outcome.TrySet(o) {
		prev, _ := s.outcome.Get()
		s.mu.Unlock()
		violate(s.path, "outcome already set to %s", prev)
	}
	s.mu.Unlock()
}

// SetFailure marks the task EXECUTED with the given failure. It panics with a
// *ContractViolation if a failure or an outcome was already recorded.
func (s *State) SetFailure(err error) {
	if err == nil {
		violate(s.path, "nil failure")
	}
	s.mu.Lock()
	if s.failure.IsSet() {
		s.mu.Unlock()
		violate(s.path, "failure already recorded")
	}
	if prev, ok := s.outcome.Get(); ok {
		s.mu.Unlock()
		violate(s.path, "outcome already set to %s", prev)
	}
	s.outcome.TrySet(OutcomeExecuted)
	s.failure.TrySet(err)
	s.mu.Unlock()
}

// Outcome returns the terminal outcome, if assigned.
func (s *State) Outcome() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome.Get()
}

func (s *State) outcomeIs(o Outcome) bool {
	got, ok := s.Outcome()
	return ok && got == o
}

// Executed reports whether an outcome was assigned.
func (s *State) Executed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome.IsSet()
}

// Configurable reports whether the task's inputs and outputs may still change.
func (s *State) Configurable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.outcome.IsSet() && !s.executing
}

func (s *State) Executing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executing
}

func (s *State) SetExecuting(executing bool) {
	s.mu.Lock()
	s.executing = executing
	s.mu.Unlock()
}

// RunActions runs fn with the executing flag raised, lowering it again however
// fn returns. A panic inside fn is recovered and returned as the failure.
func (s *State) RunActions(fn func() error) (err error) {
	s.SetExecuting(true)
	defer s.SetExecuting(false)
	defer func() {
		if r := recover(); r != nil {
			err = fromPanic(r)
		}
	}()
	return fn()
}

func (s *State) Actionable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionable
}

func (s *State) SetActionable(actionable bool) {
	s.mu.Lock()
	s.actionable = actionable
	s.mu.Unlock()
}

// DidWork is the legacy flag set by actions that performed observable work.
// It is independent of the outcome.
func (s *State) DidWork() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.didWork
}

func (s *State) SetDidWork(didWork bool) {
	s.mu.Lock()
	s.didWork = didWork
	s.mu.Unlock()
}

// Failure returns the captured failure, or nil.
func (s *State) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err, _ := s.failure.Get()
	return err
}

// RethrowFailure surfaces the captured failure. runtime errors, recovered
// panics and *FailedError values are returned unchanged; anything else is
// wrapped in a *FailedError carrying it as the cause. Returns nil when the task
// did not fail.
func (s *State) RethrowFailure() error {
	err := s.Failure()
	if err == nil {
		return nil
	}
	if isUnchecked(err) {
		return err
	}
	return &FailedError{Task: s.path, Cause: err}
}

func (s *State) Skipped() bool {
	o, ok := s.Outcome()
	return ok && o.IsSkipped()
}

// SkipMessage is the outcome label, empty when no outcome is set.
func (s *State) SkipMessage() string {
	o, _ := s.Outcome()
	return o.Message()
}

func (s *State) UpToDate() bool {
	o, ok := s.Outcome()
	return ok && o.IsUpToDate()
}

func (s *State) NoSource() bool  { return s.outcomeIs(OutcomeNoSource) }
func (s *State) FromCache() bool { return s.outcomeIs(OutcomeFromCache) }

// Avoided reports whether an actionable task reused earlier outputs.
func (s *State) Avoided() bool {
	return s.Actionable() && s.UpToDate()
}

// ActionsWereExecuted reports whether an actionable task ran its actions to
// completion. A recorded failure means they did not.
func (s *State) ActionsWereExecuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcome.Get()
	return s.actionable && ok && o == OutcomeExecuted && !s.failure.IsSet()
}

func (s *State) SetCaching(c CachingState) {
	s.mu.Lock()
	s.caching = c
	s.mu.Unlock()
}

// Caching returns the caching state; disabled until explicitly computed.
func (s *State) Caching() CachingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caching
}

func (s *State) Cacheable() bool { return s.Caching().Enabled() }

// SetOriginBuildID records the build that produced reused outputs. The zero
// id clears it.
func (s *State) SetOriginBuildID(id BuildID) {
	s.mu.Lock()
	s.originBuildID = id
	s.mu.Unlock()
}

// OriginBuildID returns the id of the build that produced the reused outputs.
// It is only reported for UP_TO_DATE and FROM_CACHE outcomes.
func (s *State) OriginBuildID() (BuildID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcome.Get()
	if !ok || !o.IsUpToDate() || s.originBuildID == uuid.Nil {
		return uuid.Nil, false
	}
	return s.originBuildID, true
}
