package bulk

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/model"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	statusFor func(origin string) model.JobStatus
	errFor    func(origin string) error
}

func (f *fakeRunner) Run(ctx context.Context, spec *model.JobSpec) (*model.JobResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.errFor != nil {
		if err := f.errFor(spec.TargetOrigin); err != nil {
			return nil, err
		}
	}
	status := model.StatusSuccess
	if f.statusFor != nil {
		status = f.statusFor(spec.TargetOrigin)
	}
	return &model.JobResult{Spec: spec, Status: status}, nil
}

func specs(origins ...string) []*model.JobSpec {
	var out []*model.JobSpec
	for _, o := range origins {
		out = append(out, &model.JobSpec{TargetOrigin: o})
	}
	return out
}

func TestRun_AllSucceed(t *testing.T) {
	runner := &fakeRunner{}
	stats := Run(context.Background(), runner, specs("a/a", "b/b", "c/c"), Options{Workers: 2})

	total, results := stats.Snapshot()
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, results[model.StatusSuccess])
}

func TestRun_MixedStatusesCounted(t *testing.T) {
	runner := &fakeRunner{statusFor: func(origin string) model.JobStatus {
		if origin == "b/b" {
			return model.StatusBuildFailed
		}
		return model.StatusSuccess
	}}
	stats := Run(context.Background(), runner, specs("a/a", "b/b"), Options{Workers: 2})

	total, results := stats.Snapshot()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, results[model.StatusSuccess])
	assert.Equal(t, 1, results[model.StatusBuildFailed])
}

func TestRun_RunnerErrorBecomesCrashed(t *testing.T) {
	runner := &fakeRunner{errFor: func(origin string) error { return fmt.Errorf("boom") }}
	stats := Run(context.Background(), runner, specs("a/a"), Options{Workers: 1})

	total, results := stats.Snapshot()
	require.Equal(t, 1, total)
	assert.Equal(t, 1, results[model.StatusCrashed])
}

func TestRun_OnResultCalledForEverySpec(t *testing.T) {
	runner := &fakeRunner{}
	var mu sync.Mutex
	seen := make(map[string]bool)
	Run(context.Background(), runner, specs("a/a", "b/b", "c/c"), Options{
		Workers: 3,
		OnResult: func(spec *model.JobSpec, result *model.JobResult) {
			mu.Lock()
			seen[spec.TargetOrigin] = true
			mu.Unlock()
		},
	})
	assert.Len(t, seen, 3)
}

func TestRun_ZeroWorkersTreatedAsOne(t *testing.T) {
	runner := &fakeRunner{}
	stats := Run(context.Background(), runner, specs("a/a"), Options{Workers: 0})
	total, _ := stats.Snapshot()
	assert.Equal(t, 1, total)
}
