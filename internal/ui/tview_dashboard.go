package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"reprise/internal/model"
)

// TviewDashboard is a full-screen terminal dashboard: a header line, a
// per-status counter block, and a scrolling event log, grounded on the
// teacher's NcursesUI layout (header/progress/events Flex rows).
type TviewDashboard struct {
	app          *tview.Application
	headerText   *tview.TextView
	progressText *tview.TextView
	eventsText   *tview.TextView

	mu            sync.Mutex
	eventLines    []string
	maxEventLines int
	onInterrupt   func()
	doneCh        chan struct{}
}

func NewTviewDashboard() *TviewDashboard {
	return &TviewDashboard{maxEventLines: 200, doneCh: make(chan struct{})}
}

// SetInterruptHandler registers a callback fired on Ctrl+C, before the
// dashboard itself stops.
func (d *TviewDashboard) SetInterruptHandler(handler func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onInterrupt = handler
}

func (d *TviewDashboard) Start() error {
	d.mu.Lock()
	d.app = tview.NewApplication()

	d.headerText = tview.NewTextView().SetDynamicColors(true)
	d.headerText.SetBorder(true).SetTitle(" reprise ")
	d.headerText.SetText("[yellow]starting bulk run...[white]")

	d.progressText = tview.NewTextView().SetDynamicColors(true)
	d.progressText.SetBorder(true).SetTitle(" progress ")

	d.eventsText = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).
		SetChangedFunc(func() { d.app.Draw() })
	d.eventsText.SetBorder(true).SetTitle(" jobs ")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.headerText, 3, 0, false).
		AddItem(d.progressText, 5, 0, false).
		AddItem(d.eventsText, 0, 1, false)

	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			d.app.Stop()
			d.mu.Lock()
			handler := d.onInterrupt
			d.mu.Unlock()
			if handler != nil {
				handler()
			}
			return nil
		}
		return event
	})

	d.app.SetRoot(layout, true)
	app := d.app
	d.mu.Unlock()

	go func() {
		if err := app.Run(); err != nil {
			// Terminal gone or run aborted; nothing further to render.
		}
		close(d.doneCh)
	}()
	return nil
}

func (d *TviewDashboard) Stop() {
	d.mu.Lock()
	app := d.app
	d.mu.Unlock()
	if app != nil {
		app.Stop()
	}
	<-d.doneCh
}

func (d *TviewDashboard) UpdateProgress(total int, results map[model.JobStatus]int, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	done := results[model.StatusSuccess] + results[model.StatusBuildFailed] + results[model.StatusFetchFailed] +
		results[model.StatusTestFailed] + results[model.StatusCrashed] + results[model.StatusSkipped]
	text := fmt.Sprintf("[green]success[white]: %d  [red]build_failed[white]: %d  [red]fetch_failed[white]: %d\n"+
		"[red]test_failed[white]: %d  [yellow]skipped[white]: %d  [red]crashed[white]: %d\n%d/%d done, %s elapsed",
		results[model.StatusSuccess], results[model.StatusBuildFailed], results[model.StatusFetchFailed],
		results[model.StatusTestFailed], results[model.StatusSkipped], results[model.StatusCrashed],
		done, total, elapsed.Round(time.Second))
	if d.progressText != nil {
		d.progressText.SetText(text)
	}
	if d.headerText != nil {
		d.headerText.SetText(fmt.Sprintf("[yellow]reprise[white] bulk run — %d jobs queued", total))
	}
}

func (d *TviewDashboard) LogEvent(origin string, status model.JobStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	color := "green"
	if status != model.StatusSuccess {
		color = "red"
	}
	d.eventLines = append(d.eventLines, fmt.Sprintf("[%s]%s[white]: %s", color, origin, status))
	if len(d.eventLines) > d.maxEventLines {
		d.eventLines = d.eventLines[len(d.eventLines)-d.maxEventLines:]
	}
	if d.eventsText != nil {
		d.eventsText.SetText(joinLines(d.eventLines))
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

var _ Dashboard = (*TviewDashboard)(nil)
