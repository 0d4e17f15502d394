package task

import (
	"encoding/json"
	"fmt"
)

// CachingReason categorizes why a task's outputs are not eligible for the
// shared build cache. Diagnostics group disabled tasks by this value.
type CachingReason string

const (
	CachingReasonUnknown            CachingReason = "UNKNOWN"
	CachingReasonBuildCacheDisabled CachingReason = "BUILD_CACHE_DISABLED"
	CachingReasonNotEnabledForTask  CachingReason = "NOT_ENABLED_FOR_TASK"
	CachingReasonNoOutputsDeclared  CachingReason = "NO_OUTPUTS_DECLARED"
	CachingReasonValidationFailure  CachingReason = "VALIDATION_FAILURE"
	CachingReasonDisabledByConfig   CachingReason = "DISABLED_BY_CONFIG"
)

// CachingState tells whether a task's outputs may be stored in and loaded from
// the build cache. A disabled state always carries a reason.
type CachingState struct {
	enabled bool
	reason  CachingReason
	message string
}

// CachingEnabled returns the state of a cacheable task.
func CachingEnabled() CachingState {
	return CachingState{enabled: true}
}

// CachingDisabled returns a disabled state with the given reason.
func CachingDisabled(reason CachingReason, message string) CachingState {
	if reason == "" {
		reason = CachingReasonUnknown
	}
	return CachingState{reason: reason, message: message}
}

// CachingNotDetermined is the initial state of every task.
func CachingNotDetermined() CachingState {
	return CachingDisabled(CachingReasonUnknown, "Cacheability was not determined")
}

func (c CachingState) Enabled() bool         { return c.enabled }
func (c CachingState) Reason() CachingReason { return c.reason }
func (c CachingState) Message() string       { return c.message }

func (c CachingState) String() string {
	if c.enabled {
		return "enabled"
	}
	return fmt.Sprintf("disabled (%s): %s", c.reason, c.message)
}

// MarshalJSON exposes the state to trace payload reduction.
func (c CachingState) MarshalJSON() ([]byte, error) {
	type wire struct {
		Enabled bool          `json:"enabled"`
		Reason  CachingReason `json:"reason,omitempty"`
		Message string        `json:"message,omitempty"`
	}
	return json.Marshal(wire{Enabled: c.enabled, Reason: c.reason, Message: c.message})
}
