package cli

import (
	"buildledger/internal/buildfile"
	"buildledger/internal/execution"
)

// loadGraph reads the build file at path and returns the graph restricted to
// the requested tasks and their dependencies. No tasks means all of them.
func loadGraph(path string, tasks []string) (*execution.Graph, error) {
	defs, err := buildfile.Load(path)
	if err != nil {
		return nil, err
	}
	g, err := execution.NewGraph(defs)
	if err != nil {
		return nil, configError(path, err)
	}
	selected, err := g.Select(tasks...)
	if err != nil {
		return nil, invalidInvocationf("%v", err)
	}
	return selected, nil
}
