// Package execution is the reference scheduler that drives task state
// machines and emits build operations.
//
// A build file is turned into a validated Graph of task Definitions. The
// Executor walks it on a bounded pool of workers. For every task it emits an
// "Execute task" operation, snapshots inputs, decides whether the work can be
// avoided (up to date from history, or restored from the output cache) and
// otherwise runs the task's actions, recording the outcome on a task.State.
package execution
