package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reprise/internal/model"
)

func TestStdoutDashboard_StartStopNoError(t *testing.T) {
	d := NewStdoutDashboard()
	assert.NoError(t, d.Start())
	d.Stop()
}

func TestStdoutDashboard_UpdateProgressThrottles(t *testing.T) {
	d := NewStdoutDashboard()
	results := map[model.JobStatus]int{model.StatusSuccess: 1}

	d.UpdateProgress(10, results, time.Second)
	first := d.lastPrint
	assert.False(t, first.IsZero())

	d.UpdateProgress(10, results, time.Second)
	assert.Equal(t, first, d.lastPrint, "second call within throttle window should not update lastPrint")
}

func TestStdoutDashboard_UpdateProgressAfterThrottleWindowUpdates(t *testing.T) {
	d := NewStdoutDashboard()
	results := map[model.JobStatus]int{model.StatusSuccess: 1}

	d.lastPrint = time.Now().Add(-3 * time.Second)
	before := d.lastPrint
	d.UpdateProgress(10, results, time.Second)
	assert.True(t, d.lastPrint.After(before))
}

func TestStdoutDashboard_LogEventDoesNotPanic(t *testing.T) {
	d := NewStdoutDashboard()
	assert.NotPanics(t, func() {
		d.LogEvent("editors/vim", model.StatusFetchFailed)
	})
}

func TestTviewDashboard_SatisfiesInterface(t *testing.T) {
	var _ Dashboard = NewTviewDashboard()
}

func TestTviewDashboard_SetInterruptHandler(t *testing.T) {
	d := NewTviewDashboard()
	called := false
	d.SetInterruptHandler(func() { called = true })
	d.mu.Lock()
	handler := d.onInterrupt
	d.mu.Unlock()
	assert.NotNil(t, handler)
	handler()
	assert.True(t, called)
}
