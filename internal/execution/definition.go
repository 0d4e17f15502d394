package execution

// ActionKind selects how an Action is performed.
type ActionKind string

const (
	// ActionRun executes a shell command with sh -c.
	ActionRun ActionKind = "run"
	// ActionFetch resolves a remote resource through the resource cache and
	// copies it into the work directory.
	ActionFetch ActionKind = "fetch"
)

// Action is one step of a task.
type Action struct {
	Kind ActionKind

	// Command is the shell command of a run action.
	Command string

	// URI, Dest and Candidates configure a fetch action. Dest is relative to
	// the work directory; Candidates are local files that may stand in for
	// the download.
	URI        string
	Dest       string
	Candidates []string
}

// Definition declares a task.
type Definition struct {
	// Path identifies the task within the build, e.g. ":app:compile".
	Path      string
	DependsOn []string

	// Inputs are files or glob patterns relative to the work directory. A
	// task that declares inputs but matches none has no source.
	Inputs []string

	// Outputs are files or directories the actions produce. Only tasks with
	// outputs can be up to date or cached.
	Outputs []string

	// Env is added to the environment of run actions.
	Env map[string]string

	Actions []Action

	Disabled  bool
	Cacheable bool
}
