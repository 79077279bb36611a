package planexec

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/jail"
	"reprise/internal/planner"
	"reprise/internal/task"
)

type fakeTask struct {
	name        string
	fetchStatus task.Status
	calls       *[]string
}

func (f *fakeTask) PkgName() string { return f.name }

func (f *fakeTask) Fetch(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	*f.calls = append(*f.calls, "fetch:"+f.name)
	return f.fetchStatus, nil
}

func (f *fakeTask) Install(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	*f.calls = append(*f.calls, "install:"+f.name)
	return task.StatusSuccess, nil
}

func (f *fakeTask) Test(ctx context.Context, sandbox jail.Runner, log io.Writer) (task.Status, error) {
	*f.calls = append(*f.calls, "test:"+f.name)
	return task.StatusSuccess, nil
}

func TestFetch_StopsAtFirstFailure(t *testing.T) {
	var calls []string
	plan := &planner.Plan{Tasks: []task.Task{
		&fakeTask{name: "a", fetchStatus: task.StatusSuccess, calls: &calls},
		&fakeTask{name: "b", fetchStatus: task.StatusFailure, calls: &calls},
		&fakeTask{name: "c", fetchStatus: task.StatusSuccess, calls: &calls},
	}}

	exec := New(plan)
	var log bytes.Buffer
	status, err := exec.Fetch(context.Background(), nil, &log)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailure, status)
	assert.Equal(t, []string{"fetch:a", "fetch:b"}, calls)
}

func TestInstall_RunsAllOnSuccess(t *testing.T) {
	var calls []string
	plan := &planner.Plan{Tasks: []task.Task{
		&fakeTask{name: "a", calls: &calls},
		&fakeTask{name: "b", calls: &calls},
	}}
	exec := New(plan)
	var log bytes.Buffer
	status, err := exec.Install(context.Background(), nil, &log)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, status)
	assert.Equal(t, []string{"install:a", "install:b"}, calls)
}
