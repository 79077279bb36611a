// Package ui renders a bulk run's live progress, either as a plain
// throttled stdout line (grounded on the teacher's build.StdoutUI) or,
// when attached to a terminal, a tview/tcell dashboard (grounded on
// the teacher's build.NcursesUI) — header + per-status counts + a
// scrolling event log. Both implement the same Dashboard interface so
// cmd/reprise can pick one without the bulk runner knowing which.
package ui

import (
	"fmt"
	"sync"
	"time"

	"reprise/internal/model"
)

// Dashboard receives progress events from a bulk run.
type Dashboard interface {
	Start() error
	Stop()
	UpdateProgress(total int, results map[model.JobStatus]int, elapsed time.Duration)
	LogEvent(origin string, status model.JobStatus)
}

// StdoutDashboard prints a single throttled progress line, the
// non-interactive default (piped output, CI, --quiet).
type StdoutDashboard struct {
	mu        sync.Mutex
	lastPrint time.Time
}

func NewStdoutDashboard() *StdoutDashboard { return &StdoutDashboard{} }

func (d *StdoutDashboard) Start() error { return nil }

func (d *StdoutDashboard) Stop() { fmt.Println() }

func (d *StdoutDashboard) UpdateProgress(total int, results map[model.JobStatus]int, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if now.Sub(d.lastPrint) < 2*time.Second {
		return
	}
	d.lastPrint = now
	done := results[model.StatusSuccess] + results[model.StatusBuildFailed] + results[model.StatusFetchFailed] +
		results[model.StatusTestFailed] + results[model.StatusCrashed] + results[model.StatusSkipped]
	fmt.Printf("\r%-90s", fmt.Sprintf("Progress: %d/%d done (success=%d build_failed=%d fetch_failed=%d test_failed=%d skipped=%d crashed=%d) %s elapsed",
		done, total, results[model.StatusSuccess], results[model.StatusBuildFailed], results[model.StatusFetchFailed],
		results[model.StatusTestFailed], results[model.StatusSkipped], results[model.StatusCrashed], elapsed.Round(time.Second)))
}

func (d *StdoutDashboard) LogEvent(origin string, status model.JobStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Printf("\r%-90s\n", fmt.Sprintf("[%s] %s", origin, status))
}

var _ Dashboard = (*StdoutDashboard)(nil)
