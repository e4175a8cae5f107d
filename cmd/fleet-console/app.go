package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/uav-fleet/internal/app"
	"github.com/unklstewy/uav-fleet/internal/cli"
	"github.com/unklstewy/uav-fleet/pkg/fleet"
)

var statusColumns = []string{"IDX", "TARGET", "ARMED", "MODE", "ALT", "TGT", "BATT", "GPS", "SATS", "LAT", "LON", "HDG"}

// App is the interactive fleet console.
type App struct {
	core     *app.App
	executor *cli.Executor

	// UI components
	tviewApp   *tview.Application
	status     *tview.Table
	info       *tview.TextView
	help       *tview.TextView
	logs       *LogManager
	input      *tview.InputField
	rootLayout *tview.Flex

	// State
	mu       sync.Mutex
	snaps    []fleet.Snapshot
	inFlight int
	history  []string
	histPos  int

	// connectOnStart queues a connect once the UI is running
	connectOnStart bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the console around an initialized coordinator.
func NewApp(core *app.App) *App {
	a := &App{
		core:     core,
		executor: &cli.Executor{Registry: core.Registry, Sampler: core.Sampler},
	}
	a.setupUI()
	return a
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.createStatusTable()
	a.createInfoPanel()
	a.createHelpPanel()
	a.logs = NewLogManager(200)
	a.createInput()
	a.createLayout()

	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

func (a *App) createStatusTable() {
	a.status = tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0).
		SetSelectable(true, false)
	a.status.SetBorder(true).SetTitle(" Fleet ")
	a.renderStatus(nil)
}

func (a *App) createInfoPanel() {
	a.info = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.info.SetBorder(true).SetTitle(" Coordinator ")
}

func (a *App) createHelpPanel() {
	a.help = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true)
	a.help.SetBorder(true).SetTitle(" Commands ")
	a.help.SetText(cli.Usage() + "\n  help               Show this list\n  quit               Exit the console\n\n  ↑/↓  history   Tab  table/input   Esc  quit")
}

func (a *App) createInput() {
	a.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldBackgroundColor(tcell.ColorDefault)
	a.input.SetBorder(true).SetTitle(" Command ")
	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := strings.TrimSpace(a.input.GetText())
		a.input.SetText("")
		if line == "" {
			return
		}
		a.history = append(a.history, line)
		a.histPos = len(a.history)
		a.submit(line)
	})
}

// createLayout arranges the fleet table over the command line on the left
// and the info, help and log panels on the right.
func (a *App) createLayout() {
	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.status, 0, 1, false).
		AddItem(a.input, 3, 0, true)

	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.info, 8, 0, false).
		AddItem(a.help, 0, 1, false).
		AddItem(a.logs.View(), 0, 1, false)

	a.rootLayout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 7, true).
		AddItem(sidebar, 0, 4, false)

	a.tviewApp.SetRoot(a.rootLayout, true).SetFocus(a.input)
}

// handleKeyboard handles keys that are not typed into the command line
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		a.Stop()
		return nil
	case tcell.KeyTab:
		if a.input.HasFocus() {
			a.tviewApp.SetFocus(a.status)
		} else {
			a.tviewApp.SetFocus(a.input)
		}
		return nil
	case tcell.KeyUp:
		if a.input.HasFocus() {
			a.recall(-1)
			return nil
		}
	case tcell.KeyDown:
		if a.input.HasFocus() {
			a.recall(1)
			return nil
		}
	}
	return event
}

// recall steps through command history.
func (a *App) recall(step int) {
	if len(a.history) == 0 {
		return
	}
	a.histPos += step
	if a.histPos < 0 {
		a.histPos = 0
	}
	if a.histPos >= len(a.history) {
		a.histPos = len(a.history)
		a.input.SetText("")
		return
	}
	a.input.SetText(a.history[a.histPos])
}

// submit parses line on the UI goroutine and runs it in the background.
// Commands may block for the arm timeout, so the UI never waits on them.
func (a *App) submit(line string) {
	switch strings.ToLower(line) {
	case "quit", "exit":
		a.Stop()
		return
	case "help", "?":
		a.logs.Add(LogLevelInfo, "Commands:\n%s", cli.Usage())
		return
	}

	cmd, err := cli.ParseLine(line)
	if err != nil {
		a.logs.Add(LogLevelError, "%v", err)
		return
	}

	a.mu.Lock()
	a.inFlight++
	a.mu.Unlock()
	a.logs.Add(LogLevelDebug, "%s ...", cmd)

	go func() {
		text, err := a.executor.Execute(a.ctx, cmd)

		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()

		a.tviewApp.QueueUpdateDraw(func() {
			if text != "" {
				a.logs.Add(LogLevelInfo, "%s", text)
			}
			if err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					a.logs.Add(LogLevelError, "%s", line)
				}
			}
			a.updateInfo()
		})
	}()
}

// startConnect connects every target in the background. Progress and the
// result land in the log panel.
func (a *App) startConnect() {
	a.logs.Add(LogLevelInfo, "Connecting %d target(s)...", len(a.core.Registry.Targets()))
	a.submit("connect")
}

// renderStatus redraws the fleet table. Must run on the UI goroutine.
func (a *App) renderStatus(snaps []fleet.Snapshot) {
	a.status.Clear()
	for col, name := range statusColumns {
		a.status.SetCell(0, col, tview.NewTableCell(name).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}

	if len(snaps) == 0 {
		a.status.SetCell(1, 0, tview.NewTableCell("no vehicles connected").
			SetTextColor(tcell.ColorGray).
			SetSelectable(false))
		return
	}

	for row, s := range snaps {
		color := tcell.ColorWhite
		if s.Armed {
			color = tcell.ColorGreen
		}
		for col, text := range statusRow(s) {
			a.status.SetCell(row+1, col, tview.NewTableCell(text).
				SetTextColor(color).
				SetExpansion(1))
		}
	}
}

// statusRow formats one snapshot as table cells, in statusColumns order.
func statusRow(s fleet.Snapshot) []string {
	armed := "no"
	if s.Armed {
		armed = "yes"
	}
	return []string{
		fmt.Sprintf("%d", s.Index),
		s.Target,
		armed,
		s.Mode.String(),
		fmt.Sprintf("%.1f m", s.Altitude),
		fmt.Sprintf("%.1f m", s.TargetAltitude),
		fmt.Sprintf("%.2f V", s.BatteryVoltage),
		fmt.Sprintf("%d", s.GPSFixType),
		fmt.Sprintf("%d", s.Satellites),
		fmt.Sprintf("%.6f", s.Latitude),
		fmt.Sprintf("%.6f", s.Longitude),
		fmt.Sprintf("%.0f°", s.HeadingDeg),
	}
}

// updateInfo redraws the coordinator summary. Must run on the UI goroutine.
func (a *App) updateInfo() {
	reg := a.core.Registry

	a.mu.Lock()
	inFlight := a.inFlight
	armed := 0
	for _, s := range a.snaps {
		if s.Armed {
			armed++
		}
	}
	a.mu.Unlock()

	journal := "[gray]off[-]"
	if a.core.Commands != nil {
		journal = "[green]postgres[-]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[gray]Backend:[-]   [white]%s[-]\n", reg.Backend())
	fmt.Fprintf(&b, "[gray]Vehicles:[-]  [white]%d of %d connected, %d armed[-]\n", reg.Connected(), len(reg.Targets()), armed)
	fmt.Fprintf(&b, "[gray]Session:[-]   [white]generation %d[-]\n", reg.Generation())
	fmt.Fprintf(&b, "[gray]Pending:[-]   [white]%d command(s)[-]\n", inFlight)
	fmt.Fprintf(&b, "[gray]Journal:[-]   %s\n", journal)
	fmt.Fprintf(&b, "[gray]Time:[-]      [white]%s[-]", time.Now().Format("15:04:05"))
	a.info.SetText(b.String())
}

// Run starts the status loop and blocks until the console exits.
func (a *App) Run(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.logs.Add(LogLevelInfo, "Console started, %d target(s) configured. Type 'connect' to begin.", len(a.core.Registry.Targets()))
	a.updateInfo()

	go a.core.Sampler.Run(a.ctx, a.core.Config.Fleet.StatusInterval(), func(snaps []fleet.Snapshot) {
		a.core.RecordSnapshots(a.ctx)

		a.mu.Lock()
		a.snaps = snaps
		a.mu.Unlock()

		a.tviewApp.QueueUpdateDraw(func() {
			a.renderStatus(snaps)
			a.updateInfo()
		})
	})

	if a.connectOnStart {
		a.startConnect()
	}

	go func() {
		<-a.ctx.Done()
		a.tviewApp.Stop()
	}()

	return a.tviewApp.Run()
}

// Stop exits the console.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.tviewApp.Stop()
}
