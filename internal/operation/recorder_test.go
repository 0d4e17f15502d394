package operation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(l Listener, id, parent ID, name string, details any, at int64) Descriptor {
	d := Descriptor{ID: id, ParentID: parent, Name: name, DisplayName: name + " " + string(id), Details: details}
	l.OnStart(d, StartEvent{StartTime: at})
	return d
}

func TestRecorder_KeepsStartOrder(t *testing.T) {
	r := NewRecorder(nil)
	a := start(r, "a", "", "Build", nil, 1)
	b := start(r, "b", "a", "Task", nil, 2)
	c := start(r, "c", "a", "Task", nil, 3)

	r.OnFinish(c, FinishEvent{EndTime: 4})
	r.OnFinish(a, FinishEvent{EndTime: 6})
	r.OnFinish(b, FinishEvent{EndTime: 5})

	var ids []ID
	for _, op := range r.Operations() {
		ids = append(ids, op.ID)
		assert.True(t, op.Finished)
	}
	assert.Equal(t, []ID{"a", "b", "c"}, ids)
}

func TestRecorder_FinishWithoutStartPanics(t *testing.T) {
	r := NewRecorder(nil)
	defer func() {
		v := recover()
		pv, ok := v.(*ProtocolViolation)
		require.True(t, ok, "got %v", v)
		assert.Equal(t, ID("ghost"), pv.ID)
	}()
	r.OnFinish(Descriptor{ID: "ghost"}, FinishEvent{})
}

func TestRecorder_DoubleFinishAndRestartPanic(t *testing.T) {
	r := NewRecorder(nil)
	d := start(r, "x", "", "Op", nil, 0)
	r.OnFinish(d, FinishEvent{EndTime: 1})

	assert.Panics(t, func() { r.OnFinish(d, FinishEvent{EndTime: 2}) })
	assert.Panics(t, func() { r.OnStart(d, StartEvent{}) })
}

func TestRecorder_ConcurrentProducers(t *testing.T) {
	const n = 64
	r := NewRecorder(nil)
	root := start(r, "root", "", "Build", nil, 0)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ID(fmt.Sprintf("op-%d", i))
			d := start(r, id, root.ID, "Task", &fakeTask{path: fmt.Sprintf(":t%d", i)}, int64(i))
			// Finish on another goroutine than the one that started it.
			done := make(chan struct{})
			go func() {
				r.OnFinish(d, FinishEvent{EndTime: int64(i + 1)})
				close(done)
			}()
			<-done
		}(i)
	}
	wg.Wait()
	r.OnFinish(root, FinishEvent{EndTime: n + 1})

	tr := r.Trace()
	assert.Equal(t, n+1, tr.Len())
	assert.Len(t, tr.Children("root"), n)
	for _, op := range tr.Operations() {
		assert.True(t, op.Finished, op.ID)
	}
}

func TestRecorder_FailPending(t *testing.T) {
	r := NewRecorder(nil)
	a := start(r, "a", "", "Build", nil, 0)
	start(r, "b", "a", "Task", nil, 1)
	r.OnFinish(Descriptor{ID: "b"}, FinishEvent{EndTime: 2})
	start(r, "c", "a", "Task", nil, 3)

	cause := context.Canceled
	assert.Equal(t, 2, r.FailPending(cause, 10))
	assert.Equal(t, 0, r.FailPending(cause, 11))

	tr := r.Trace()
	root, _ := tr.Get(a.ID)
	assert.ErrorIs(t, root.Failure, context.Canceled)
	assert.Equal(t, int64(10), root.EndTime)
	b, _ := tr.Get("b")
	assert.NoError(t, b.Failure)
}

func TestRecorder_PersistLoadRoundTrip(t *testing.T) {
	r := NewRecorder(nil)
	build := start(r, "1", "", "Run build", Map(F("tasks", List(String(":compile")))), 100)
	compile := start(r, "2", "1", "Execute task", &fakeTask{path: ":compile"}, 110)
	snap := start(r, "3", "2", "Snapshot inputs", &fakeTask{path: ":compile"}, 111)
	r.OnFinish(snap, FinishEvent{EndTime: 112, Result: compileResult{Files: 2}})
	r.OnFinish(compile, FinishEvent{EndTime: 150, Failure: errors.New("compilation failed")})
	r.OnFinish(build, FinishEvent{EndTime: 160})

	path := filepath.Join(t.TempDir(), "trace", "operations.trace")
	require.NoError(t, r.Persist(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	want := r.Trace().Operations()
	got := loaded.Operations()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.ParentID, g.ParentID)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.DisplayName, g.DisplayName)
		assert.Equal(t, w.StartTime, g.StartTime)
		assert.Equal(t, w.EndTime, g.EndTime)
		assert.Equal(t, w.DetailsType, g.DetailsType)
		assert.True(t, w.Details.Equal(g.Details), "details of %s", w.ID)
		assert.Equal(t, w.ResultType, g.ResultType)
		assert.True(t, w.Result.Equal(g.Result), "result of %s", w.ID)
		if w.Failure == nil {
			assert.Nil(t, g.Failure)
		} else {
			require.NotNil(t, g.Failure)
			assert.Equal(t, w.Failure.Error(), g.Failure.Error())
		}
	}

	ex, ok := loaded.Get("2")
	require.True(t, ok)
	assert.Equal(t, `{"task":":compile"}`, ex.Details.String())
	assert.Equal(t, "buildledger/internal/operation.fakeTask", ex.DetailsType)
	assert.Equal(t, []CompleteOperation{got[2]}, loaded.Children("2"))
	assert.Len(t, loaded.Roots(), 1)

	// Writing the loaded trace again yields the same bytes.
	var first, second bytes.Buffer
	require.NoError(t, r.Trace().Encode(&first))
	require.NoError(t, loaded.Encode(&second))
	assert.Equal(t, first.String(), second.String())
}

func TestRecorder_InvalidUTF8NamesRoundTrip(t *testing.T) {
	r := NewRecorder(nil)
	d := Descriptor{ID: "1", Name: "n\xff", DisplayName: "bad \xc3( name"}
	r.OnStart(d, StartEvent{StartTime: 1})
	r.OnFinish(d, FinishEvent{EndTime: 2})

	ops := r.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "n\uFFFD", ops[0].Name)
	assert.Equal(t, "bad \uFFFD( name", ops[0].DisplayName)

	path := filepath.Join(t.TempDir(), "operations.trace")
	require.NoError(t, r.Persist(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	got, ok := loaded.Get("1")
	require.True(t, ok)
	assert.Equal(t, ops[0].Name, got.Name)
	assert.Equal(t, ops[0].DisplayName, got.DisplayName)
}

func TestRecorder_UnencodablePayloadIsIsolated(t *testing.T) {
	r := NewRecorder(nil)
	a := start(r, "a", "", "Broken", make(chan int), 0)
	b := start(r, "b", "", "Fine", compileResult{Files: 1}, 0)
	r.OnFinish(a, FinishEvent{EndTime: 1})
	r.OnFinish(b, FinishEvent{EndTime: 1})

	path := filepath.Join(t.TempDir(), "ops.trace")
	require.NoError(t, r.Persist(path))
	tr, err := Load(path)
	require.NoError(t, err)

	broken, _ := tr.Get("a")
	require.Len(t, broken.PayloadErrors, 1)
	assert.Equal(t, "details", broken.PayloadErrors[0].Field)
	assert.True(t, broken.Details.IsNull())

	fine, _ := tr.Get("b")
	assert.Empty(t, fine.PayloadErrors)
	assert.Equal(t, `{"files":1}`, fine.Details.String())
}

func TestLoad_CorruptPayloadOnlyAffectsItsOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.trace")
	content := strings.Join([]string{
		`{"format":"buildledger-operations","version":1}`,
		`{"id":"a","name":"A","displayName":"A","startTime":1,"endTime":2,"finished":true,"detailsType":"x.T","details":"{not json"}`,
		`{"id":"b","name":"B","displayName":"B","startTime":3,"endTime":4,"finished":true,"detailsType":"x.T","details":"{\"ok\":true}"}`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tr, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, tr.Len())

	a, _ := tr.Get("a")
	require.Len(t, a.PayloadErrors, 1)
	var pe *PayloadError
	assert.ErrorAs(t, a.PayloadErrors[0], &pe)
	assert.Equal(t, "x.T", pe.Type)

	b, _ := tr.Get("b")
	assert.Empty(t, b.PayloadErrors)
	assert.Equal(t, `{"ok":true}`, b.Details.String())
	assert.Len(t, tr.PayloadErrors(), 1)
}

func TestLoad_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, os.ErrNotExist)

	for name, content := range map[string]string{
		"empty":   "",
		"foreign": `{"format":"something-else","version":1}` + "\n",
		"version": `{"format":"buildledger-operations","version":99}` + "\n",
		"garbage": "PK\x03\x04\n",
	} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
			_, err := Load(p)
			assert.ErrorIs(t, err, ErrIncompatibleTrace)
		})
	}

	t.Run("bad record", func(t *testing.T) {
		p := filepath.Join(dir, "bad-record")
		content := `{"format":"buildledger-operations","version":1}` + "\n" + `{"id":` + "\n"
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		_, err := Load(p)
		assert.ErrorIs(t, err, ErrCorruptTrace)
	})
}

func TestPersist_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewRecorder(nil).Persist(filepath.Join(blocker, "ops.trace"))
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestRender(t *testing.T) {
	r := NewRecorder(nil)
	root := start(r, "1", "", "Build", nil, 0)
	child := start(r, "2", "1", "Task", &fakeTask{path: ":x"}, 0)
	r.OnFinish(child, FinishEvent{EndTime: 5, Failure: errors.New("boom")})
	_ = root

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r.Trace(), RenderOptions{Details: true}))
	out := buf.String()
	assert.Contains(t, out, "Build 1")
	assert.Contains(t, out, "(pending)")
	assert.Contains(t, out, "  Task 2")
	assert.Contains(t, out, "FAILED: boom")
	assert.Contains(t, out, `details: {"task":":x"}`)
}
