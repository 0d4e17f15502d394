package execution

import "buildledger/internal/task"

// Result is the outcome of a build.
type Result struct {
	BuildID task.BuildID

	// Cancelled is set when the context was cancelled before every task
	// could start.
	Cancelled bool

	order  []string
	states map[string]*task.State
}

func newResult(id task.BuildID, g *Graph) *Result {
	r := &Result{
		BuildID: id,
		order:   g.TopologicalOrder(),
		states:  make(map[string]*task.State, g.Len()),
	}
	for _, p := range r.order {
		r.states[p] = task.NewState(p)
	}
	return r
}

// State returns the state of the task at path.
func (r *Result) State(path string) (*task.State, bool) {
	st, ok := r.states[path]
	return st, ok
}

// States returns every task state in execution order.
func (r *Result) States() []*task.State {
	out := make([]*task.State, len(r.order))
	for i, p := range r.order {
		out[i] = r.states[p]
	}
	return out
}

// NotRun lists tasks that never received an outcome, which only happens when
// the build is cancelled.
func (r *Result) NotRun() []string {
	var out []string
	for _, p := range r.order {
		if !r.states[p].Executed() {
			out = append(out, p)
		}
	}
	return out
}

// Summary counts outcomes.
func (r *Result) Summary() BuildSummary {
	s := BuildSummary{Outcomes: map[string]int{}}
	for _, p := range r.order {
		st := r.states[p]
		o, ok := st.Outcome()
		if !ok {
			s.NotRun++
			continue
		}
		s.Outcomes[o.String()]++
		if st.Failure() != nil {
			s.Failed++
		}
	}
	return s
}

// Err rethrows every recorded task failure and returns them as a
// *BuildFailure, or nil when no task failed.
func (r *Result) Err() error {
	var failures []error
	for _, p := range r.order {
		if err := r.states[p].RethrowFailure(); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &BuildFailure{Failures: failures}
}
