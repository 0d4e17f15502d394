// Package buildfile loads task definitions from build.yaml.
//
// The format is a list of tasks, each with an optional list of actions:
//
//	tasks:
//	  - path: ":deps:fetch"
//	    outputs: [vendor/lib.tar.gz]
//	    actions:
//	      - fetch:
//	          uri: https://example.com/lib.tar.gz
//	          dest: vendor/lib.tar.gz
//	  - path: ":app:compile"
//	    depends_on: [":deps:fetch"]
//	    inputs: ["src/**/*.go"]
//	    outputs: [bin/app]
//	    cacheable: true
//	    actions:
//	      - run: go build -o bin/app ./src
//
// Unknown keys are rejected so that typos never silently change a build.
package buildfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"buildledger/internal/execution"
)

// FileName is the build file looked up in the working directory.
const FileName = "build.yaml"

// Error reports an unusable build file. Line is 1-based and zero when the
// problem has no single location.
type Error struct {
	Path string
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	loc := e.Path
	if loc == "" {
		loc = FileName
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

type document struct {
	Tasks []taskSpec `yaml:"tasks"`
}

type taskSpec struct {
	Path      string            `yaml:"path"`
	DependsOn []string          `yaml:"depends_on"`
	Inputs    []string          `yaml:"inputs"`
	Outputs   []string          `yaml:"outputs"`
	Env       map[string]string `yaml:"env"`
	Disabled  bool              `yaml:"disabled"`
	Cacheable bool              `yaml:"cacheable"`
	Actions   []actionSpec      `yaml:"actions"`
}

type actionSpec struct {
	Run   *string    `yaml:"run"`
	Fetch *fetchSpec `yaml:"fetch"`
}

type fetchSpec struct {
	URI        string   `yaml:"uri"`
	Dest       string   `yaml:"dest"`
	Candidates []string `yaml:"candidates"`
}

// Load reads and parses the build file at path.
func Load(path string) ([]execution.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Msg: "read build file", Err: err}
	}
	defs, err := Parse(data)
	if err != nil {
		var bfErr *Error
		if errors.As(err, &bfErr) {
			bfErr.Path = path
		}
		return nil, err
	}
	return defs, nil
}

// Parse decodes build file content into task definitions in file order.
func Parse(data []byte) ([]execution.Definition, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Msg: "no tasks defined"}
		}
		return nil, &Error{Line: errorLine(err), Msg: "parse build file", Err: err}
	}
	if len(doc.Tasks) == 0 {
		return nil, &Error{Msg: "no tasks defined"}
	}

	lines := taskLines(data)
	defs := make([]execution.Definition, 0, len(doc.Tasks))
	for i, ts := range doc.Tasks {
		def, action, msg := ts.definition()
		if msg != "" {
			line := lines.task(i)
			if action >= 0 {
				line = lines.action(i, action)
			}
			return nil, &Error{Line: line, Msg: msg}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// definition converts ts. On failure it returns a message and the index of
// the offending action, or -1 when the task itself is at fault.
func (ts taskSpec) definition() (execution.Definition, int, string) {
	path := strings.TrimSpace(ts.Path)
	if path == "" {
		return execution.Definition{}, -1, "task path is required"
	}
	def := execution.Definition{
		Path:      path,
		DependsOn: ts.DependsOn,
		Inputs:    ts.Inputs,
		Outputs:   ts.Outputs,
		Env:       ts.Env,
		Disabled:  ts.Disabled,
		Cacheable: ts.Cacheable,
	}
	for i, as := range ts.Actions {
		a, msg := as.action()
		if msg != "" {
			return execution.Definition{}, i, fmt.Sprintf("task %s: action %d: %s", path, i+1, msg)
		}
		def.Actions = append(def.Actions, a)
	}
	return def, -1, ""
}

func (as actionSpec) action() (execution.Action, string) {
	switch {
	case as.Run != nil && as.Fetch != nil:
		return execution.Action{}, "exactly one of run or fetch is allowed"
	case as.Run != nil:
		if strings.TrimSpace(*as.Run) == "" {
			return execution.Action{}, "run command is empty"
		}
		return execution.Action{Kind: execution.ActionRun, Command: *as.Run}, ""
	case as.Fetch != nil:
		if strings.TrimSpace(as.Fetch.URI) == "" {
			return execution.Action{}, "fetch uri is required"
		}
		if strings.TrimSpace(as.Fetch.Dest) == "" {
			return execution.Action{}, "fetch dest is required"
		}
		return execution.Action{
			Kind:       execution.ActionFetch,
			URI:        as.Fetch.URI,
			Dest:       as.Fetch.Dest,
			Candidates: as.Fetch.Candidates,
		}, ""
	default:
		return execution.Action{}, "one of run or fetch is required"
	}
}

type lineTable struct {
	tasks   []int
	actions [][]int
}

// taskLines returns the source line of each task and action. Failures
// are ignored: the strict decode has already succeeded by this point.
func taskLines(data []byte) lineTable {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil || len(root.Content) == 0 {
		return lineTable{}
	}
	tasks := mappingValue(root.Content[0], "tasks")
	if tasks == nil || tasks.Kind != yaml.SequenceNode {
		return lineTable{}
	}
	var lt lineTable
	for _, t := range tasks.Content {
		lt.tasks = append(lt.tasks, t.Line)
		var actionLines []int
		if actions := mappingValue(t, "actions"); actions != nil {
			for _, a := range actions.Content {
				actionLines = append(actionLines, a.Line)
			}
		}
		lt.actions = append(lt.actions, actionLines)
	}
	return lt
}

func (lt lineTable) task(i int) int {
	if i < len(lt.tasks) {
		return lt.tasks[i]
	}
	return 0
}

func (lt lineTable) action(task, i int) int {
	if task < len(lt.actions) && i < len(lt.actions[task]) {
		return lt.actions[task][i]
	}
	return lt.task(task)
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// errorLine extracts the first line number from a yaml decode error.
func errorLine(err error) int {
	var typeErr *yaml.TypeError
	msg := err.Error()
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		msg = typeErr.Errors[0]
	}
	var line int
	if i := strings.Index(msg, "line "); i >= 0 {
		_, _ = fmt.Sscanf(msg[i:], "line %d", &line)
	}
	return line
}
