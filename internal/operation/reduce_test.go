package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	path  string
	inner chan int // not serializable
}

func (f *fakeTask) TaskPath() string { return f.path }

type compileResult struct {
	Files   int    `json:"files"`
	Warning string `json:"warning,omitempty"`
}

type secret struct{ Value string }

func TestReduce_TaskPayloadBecomesTaskReference(t *testing.T) {
	r := NewReducer()
	doc, err := r.Reduce(&fakeTask{path: ":app:compile", inner: make(chan int)})
	require.NoError(t, err)
	assert.Equal(t, `{"task":":app:compile"}`, doc.String())
}

func TestReduce_PlainValuesUseJSON(t *testing.T) {
	r := NewReducer()
	doc, err := r.Reduce(compileResult{Files: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"files":3}`, doc.String())
}

func TestReduce_RegisteredRuleWins(t *testing.T) {
	r := NewReducer()
	Register(r, func(s secret) (any, error) {
		return Map(F("redacted", Bool(true))), nil
	})
	doc, err := r.Reduce(secret{Value: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, `{"redacted":true}`, doc.String())
}

func TestReduce_Idempotent(t *testing.T) {
	r := NewReducer()
	for _, v := range []any{
		&fakeTask{path: ":a"},
		compileResult{Files: 1, Warning: "w"},
		map[string]any{"k": []int{1, 2}},
		"plain",
	} {
		once, err := r.Reduce(v)
		require.NoError(t, err)
		twice, err := r.Reduce(once)
		require.NoError(t, err)
		assert.True(t, once.Equal(twice), "%v", v)
	}
}

func TestReduce_NilAndTypedNil(t *testing.T) {
	r := NewReducer()
	var p *compileResult
	for _, v := range []any{nil, p} {
		doc, err := r.Reduce(v)
		require.NoError(t, err)
		assert.True(t, doc.IsNull())
	}
}

func TestReduce_UnencodableValueFails(t *testing.T) {
	_, err := NewReducer().Reduce(make(chan int))
	assert.Error(t, err)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "buildledger/internal/operation.compileResult", TypeName(&compileResult{}))
	assert.Equal(t, "string", TypeName("x"))
	assert.Equal(t, "", TypeName(nil))
}
