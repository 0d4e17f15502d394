package execution

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"buildledger/internal/fsutil"
	"buildledger/internal/logging"
	"buildledger/internal/operation"
	"buildledger/internal/resource"
	"buildledger/internal/task"
)

// Operation names emitted by the Executor.
const (
	OpRunBuild       = "Run build"
	OpExecuteTask    = "Execute task"
	OpSnapshotInputs = "Snapshot inputs"
	OpExecuteAction  = "Execute action"
)

// BuildDetails is the details payload of the root operation.
type BuildDetails struct {
	BuildID string   `json:"buildId"`
	Tasks   []string `json:"tasks"`
}

// BuildSummary is the result payload of the root operation.
type BuildSummary struct {
	Outcomes map[string]int `json:"outcomes"`
	Failed   int            `json:"failed"`
	NotRun   int            `json:"notRun"`
}

// TaskResult is the result payload of an "Execute task" operation.
type TaskResult struct {
	Outcome       string `json:"outcome"`
	SkipMessage   string `json:"skipMessage,omitempty"`
	Caching       string `json:"caching"`
	OriginBuildID string `json:"originBuildId,omitempty"`
	DidWork       bool   `json:"didWork"`
}

// SnapshotResult is the result payload of a "Snapshot inputs" operation.
type SnapshotResult struct {
	Files       int    `json:"files"`
	Fingerprint string `json:"fingerprint"`
}

// ActionDetails is the details payload of an "Execute action" operation.
type ActionDetails struct {
	Task    string     `json:"task"`
	Index   int        `json:"index"`
	Kind    ActionKind `json:"kind"`
	Command string     `json:"command,omitempty"`
	URI     string     `json:"uri,omitempty"`
}

// Options configures an Executor. Only WorkDir is required.
type Options struct {
	WorkDir string
	Workers int // defaults to runtime.NumCPU()

	// BuildID identifies this build; a random one is used when zero.
	BuildID task.BuildID

	Listener operation.Listener
	Logger   logrus.FieldLogger

	// History enables up-to-date checks when set.
	History *HistoryStore
	// OutputCache enables restoring outputs of cacheable tasks when set.
	OutputCache *OutputCache

	// Resources and ResourceStore serve fetch actions.
	Resources     *resource.Accessor
	ResourceStore resource.FileStore

	// Stdout and Stderr receive the output of run actions.
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs a Graph.
type Executor struct {
	graph    *Graph
	opts     Options
	listener operation.Listener
	log      logrus.FieldLogger
}

func NewExecutor(g *Graph, opts Options) (*Executor, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("work directory is required")
	}
	abs, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve work directory")
	}
	opts.WorkDir = abs
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BuildID == uuid.Nil {
		opts.BuildID = task.NewBuildID()
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	opts.Stdout = logging.SyncWriter(opts.Stdout)
	opts.Stderr = logging.SyncWriter(opts.Stderr)
	e := &Executor{
		graph:    g,
		opts:     opts,
		listener: opts.Listener,
		log:      logging.OrDiscard(opts.Logger),
	}
	if e.listener == nil {
		e.listener = operation.Nop{}
	}
	return e, nil
}

func (e *Executor) BuildID() task.BuildID { return e.opts.BuildID }

type workItem struct {
	node    *Node
	blocked bool // a dependency failed
}

// Run executes the graph and returns the state of every task. Task failures
// are recorded on their states and reported by Result.Err, never as Run's
// error. Cancelling ctx stops new tasks from starting; tasks already running
// see the cancelled context and finish with a failure.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := newResult(e.opts.BuildID, e.graph)

	root, finishRoot := e.begin(ctx, OpRunBuild, "Run build", BuildDetails{
		BuildID: e.opts.BuildID.String(),
		Tasks:   e.graph.TopologicalOrder(),
	})
	taskCtx := operation.WithParent(ctx, root.ID)
	e.log.WithFields(logrus.Fields{"build": e.opts.BuildID.String(), "tasks": e.graph.Len()}).Info("build started")

	workCh := make(chan workItem)
	doneCh := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				e.executeTask(taskCtx, w, res.states[w.node.Path()])
				doneCh <- w
			}
		}()
	}

	remaining := make(map[*Node]int, e.graph.Len())
	blocked := make(map[*Node]bool)
	var queue []*Node
	for _, n := range e.graph.order {
		remaining[n] = len(n.deps)
		if len(n.deps) == 0 {
			queue = append(queue, n)
		}
	}

	complete := func(w workItem) {
		st := res.states[w.node.Path()]
		failed := w.blocked || st.Failure() != nil
		for _, dep := range w.node.dependents {
			if failed {
				blocked[dep] = true
			}
			remaining[dep]--
			if remaining[dep] == 0 {
				queue = append(queue, dep)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i].index < queue[j].index })
	}

	inFlight := 0
	done := ctx.Done()
	for len(queue) > 0 || inFlight > 0 {
		var dispatch chan workItem
		var next workItem
		if !res.Cancelled && len(queue) > 0 && inFlight < e.opts.Workers {
			dispatch = workCh
			next = workItem{node: queue[0], blocked: blocked[queue[0]]}
		}
		if dispatch == nil && inFlight == 0 {
			break
		}
		select {
		case dispatch <- next:
			queue = queue[1:]
			inFlight++
		case w := <-doneCh:
			inFlight--
			complete(w)
		case <-done:
			done = nil
			res.Cancelled = true
			e.log.Warn("build cancelled; waiting for running tasks")
		}
	}
	close(workCh)
	wg.Wait()

	var rootFailure error
	if res.Cancelled {
		rootFailure = errors.Wrap(ctx.Err(), "build cancelled")
	} else if err := res.Err(); err != nil {
		rootFailure = err
	}
	summary := res.Summary()
	finishRoot(summary, rootFailure)
	e.log.WithFields(logrus.Fields{
		"build":  e.opts.BuildID.String(),
		"failed": summary.Failed,
		"notRun": summary.NotRun,
	}).Info("build finished")
	return res, nil
}

// executeTask emits the task's operation and drives its state to an outcome.
func (e *Executor) executeTask(ctx context.Context, w workItem, st *task.State) {
	n := w.node
	desc, finish := e.begin(ctx, OpExecuteTask, "Task "+n.Path(), st)
	ctx = operation.WithParent(ctx, desc.ID)
	log := e.log.WithField("task", n.Path())

	defer func() {
		result := taskResult(st)
		finish(result, st.Failure())
		entry := log.WithField("outcome", result.Outcome)
		if err := st.Failure(); err != nil {
			entry.WithError(err).Error("task failed")
		} else {
			entry.Debug("task finished")
		}
	}()

	switch {
	case w.blocked:
		st.SetOutcome(task.OutcomeSkipped)
	case n.Definition.Disabled:
		st.SetOutcome(task.OutcomeSkipped)
	default:
		e.runTask(ctx, n, st, log)
	}
}

func taskResult(st *task.State) TaskResult {
	r := TaskResult{
		SkipMessage: st.SkipMessage(),
		Caching:     st.Caching().String(),
		DidWork:     st.DidWork(),
	}
	if o, ok := st.Outcome(); ok {
		r.Outcome = o.String()
	}
	if id, ok := st.OriginBuildID(); ok {
		r.OriginBuildID = id.String()
	}
	return r
}

func (e *Executor) cachingFor(def Definition) task.CachingState {
	switch {
	case e.opts.OutputCache == nil:
		return task.CachingDisabled(task.CachingReasonBuildCacheDisabled, "Build cache is disabled")
	case !def.Cacheable:
		return task.CachingDisabled(task.CachingReasonNotEnabledForTask, "Caching has not been enabled for the task")
	case len(def.Outputs) == 0:
		return task.CachingDisabled(task.CachingReasonNoOutputsDeclared, "No outputs declared")
	default:
		return task.CachingEnabled()
	}
}

func (e *Executor) runTask(ctx context.Context, n *Node, st *task.State, log logrus.FieldLogger) {
	def := n.Definition
	st.SetActionable(len(def.Actions) > 0)
	st.SetCaching(e.cachingFor(def))

	inputs, fp, err := e.snapshotInputs(ctx, n, st)
	if err != nil {
		st.SetFailure(err)
		return
	}
	if len(def.Inputs) > 0 && len(inputs) == 0 {
		st.SetOutcome(task.OutcomeNoSource)
		return
	}
	if !st.Actionable() {
		st.SetOutcome(task.OutcomeUpToDate)
		return
	}
	if e.upToDate(def, fp, st, log) {
		return
	}
	if st.Cacheable() && e.restoreFromCache(def, fp, st, log) {
		return
	}

	if err := st.RunActions(func() error { return e.runActions(ctx, n) }); err != nil {
		st.SetFailure(err)
		return
	}
	st.SetOutcome(task.OutcomeExecuted)
	st.SetDidWork(true)
	e.recordExecution(def, fp, st, log)
}

func (e *Executor) snapshotInputs(ctx context.Context, n *Node, st *task.State) (inputs []FileDigest, fp string, err error) {
	_, finish := e.begin(ctx, OpSnapshotInputs, "Snapshot inputs of "+n.Path(), st)
	defer func() {
		var result any
		if err == nil {
			result = SnapshotResult{Files: len(inputs), Fingerprint: fp}
		}
		finish(result, err)
	}()

	inputs, err = ResolveInputs(e.opts.WorkDir, n.Definition.Inputs)
	if err != nil {
		return nil, "", err
	}
	return inputs, Fingerprint(n.Definition, inputs), nil
}

func (e *Executor) upToDate(def Definition, fp string, st *task.State, log logrus.FieldLogger) bool {
	if e.opts.History == nil || len(def.Outputs) == 0 {
		return false
	}
	prev, err := e.opts.History.Get(def.Path)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable task history")
		return false
	}
	if prev == nil || prev.Fingerprint != fp || !outputsMatch(e.opts.WorkDir, def.Outputs, prev.Outputs) {
		return false
	}
	st.SetOutcome(task.OutcomeUpToDate)
	if id, err := uuid.Parse(prev.BuildID); err == nil {
		st.SetOriginBuildID(id)
	}
	return true
}

func (e *Executor) restoreFromCache(def Definition, fp string, st *task.State, log logrus.FieldLogger) bool {
	entry, err := e.opts.OutputCache.Load(fp)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable output cache entry")
		return false
	}
	if entry == nil {
		return false
	}
	if err := e.opts.OutputCache.Restore(entry, e.opts.WorkDir); err != nil {
		log.WithError(err).Warn("could not restore outputs from cache; executing")
		return false
	}
	st.SetOutcome(task.OutcomeFromCache)
	if id, err := uuid.Parse(entry.BuildID); err == nil {
		st.SetOriginBuildID(id)
	}
	if e.opts.History != nil {
		if err := e.opts.History.Put(def.Path, HistoryEntry{
			Fingerprint: fp,
			BuildID:     entry.BuildID,
			Outputs:     entry.Outputs,
			RecordedAt:  time.Now().UTC(),
		}); err != nil {
			log.WithError(err).Warn("could not record task history")
		}
	}
	return true
}

// recordExecution stores history and cache entries after a successful run.
// Problems are logged; the outcome is already final.
func (e *Executor) recordExecution(def Definition, fp string, st *task.State, log logrus.FieldLogger) {
	if len(def.Outputs) == 0 {
		return
	}
	outputs, err := SnapshotOutputs(e.opts.WorkDir, def.Outputs)
	if err != nil {
		log.WithError(err).Warn("declared outputs missing after execution")
		return
	}
	buildID := e.opts.BuildID.String()
	if e.opts.History != nil {
		if err := e.opts.History.Put(def.Path, HistoryEntry{
			Fingerprint: fp,
			BuildID:     buildID,
			Outputs:     outputs,
			RecordedAt:  time.Now().UTC(),
		}); err != nil {
			log.WithError(err).Warn("could not record task history")
		}
	}
	if st.Cacheable() {
		if err := e.opts.OutputCache.Store(fp, buildID, e.opts.WorkDir, outputs); err != nil {
			log.WithError(err).Warn("could not store outputs in cache")
		}
	}
}

func (e *Executor) runActions(ctx context.Context, n *Node) error {
	for i, a := range n.Definition.Actions {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "build cancelled")
		}
		if err := e.runAction(ctx, n, i, a); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, n *Node, index int, a Action) (err error) {
	details := ActionDetails{Task: n.Path(), Index: index, Kind: a.Kind, Command: a.Command, URI: a.URI}
	desc, finish := e.begin(ctx, OpExecuteAction, "Execute "+string(a.Kind)+" action of "+n.Path(), details)
	defer func() { finish(nil, err) }()
	ctx = operation.WithParent(ctx, desc.ID)

	switch a.Kind {
	case ActionRun:
		return runShell(ctx, n.Path(), e.opts.WorkDir, a.Command, n.Definition.Env, e.opts.Stdout, e.opts.Stderr)
	case ActionFetch:
		return e.fetch(ctx, a)
	default:
		return errors.Errorf("unknown action kind %q", a.Kind)
	}
}

func (e *Executor) fetch(ctx context.Context, a Action) error {
	if e.opts.Resources == nil || e.opts.ResourceStore == nil {
		return errors.New("fetch action used but no resource cache is configured")
	}
	if a.URI == "" || a.Dest == "" {
		return errors.New("fetch action requires uri and dest")
	}
	var candidates resource.Candidates
	if len(a.Candidates) > 0 {
		paths := make([]string, len(a.Candidates))
		for i, c := range a.Candidates {
			paths[i] = c
			if !filepath.IsAbs(c) {
				paths[i] = filepath.Join(e.opts.WorkDir, c)
			}
		}
		candidates = resource.NewFileCandidates(paths...)
	}
	cached, err := e.opts.Resources.GetResource(ctx, a.URI, e.opts.ResourceStore, candidates)
	if err != nil {
		return err
	}
	if cached == nil {
		return errors.Errorf("resource %s not found", a.URI)
	}
	dst := a.Dest
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(e.opts.WorkDir, dst)
	}
	src, err := os.Open(cached.Path)
	if err != nil {
		return errors.Wrap(err, "open cached resource")
	}
	defer src.Close()
	return fsutil.WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// begin emits an operation start and returns its descriptor and finisher.
func (e *Executor) begin(ctx context.Context, name, display string, details any) (operation.Descriptor, func(result any, failure error)) {
	d := operation.Descriptor{
		ID:          operation.ID(uuid.NewString()),
		ParentID:    operation.ParentFrom(ctx),
		Name:        name,
		DisplayName: display,
		Details:     details,
	}
	e.listener.OnStart(d, operation.StartEvent{StartTime: operation.Now()})
	return d, func(result any, failure error) {
		e.listener.OnFinish(d, operation.FinishEvent{EndTime: operation.Now(), Result: result, Failure: failure})
	}
}
