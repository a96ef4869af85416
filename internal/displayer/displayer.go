package displayer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"obdrelay/internal/models"
	"obdrelay/pkg/log"
)

// Controller is the part of the engine the dashboard can drive.
type Controller interface {
	ClearTroubleCodes(ctx context.Context) error
	DetectProtocol(ctx context.Context) (int, string, error)
}

// Displayer is the terminal dashboard. It is a presenter: the engine and
// uploader push updates, and key presses are forwarded to the Controller.
type Displayer struct {
	app     *tview.Application
	tabs    *tview.Pages
	ctrl    Controller
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	log     *zap.Logger

	mu     sync.Mutex
	state  models.ConnectionState
	sample models.VehicleSample
	upload models.UploadResult
	notice string

	// UI elements cached for updates
	valuesText *tview.TextView
	statusText *tview.TextView
	helpText   *tview.TextView
	dtcTable   *tview.Table
}

func New(ctrl Controller) *Displayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Displayer{
		app:    tview.NewApplication(),
		tabs:   tview.NewPages(),
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("displayer"),
		state:  models.Disconnected(""),
	}
}

// Run builds the UI and blocks until the user quits or ctx is done.
func (d *Displayer) Run(ctx context.Context) error {
	title := tview.NewTextView().SetTextAlign(tview.AlignCenter).SetText("obdrelay - OBD-II telemetry relay")
	d.statusText = tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true)
	d.helpText = tview.NewTextView().SetTextAlign(tview.AlignCenter).
		SetText("[1 - Dashboard] [2 - DTC] [c - Clear codes] [p - Detect protocol] [q - Quit]")

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	headerFlex.AddItem(title, 1, 0, false)
	headerFlex.AddItem(d.statusText, 1, 0, false)
	headerFlex.AddItem(d.helpText, 1, 0, false)

	d.valuesText = tview.NewTextView().SetDynamicColors(true)
	d.dtcTable = tview.NewTable().SetBorders(true)
	d.tabs.AddPage("dashboard", d.valuesText, true, true)
	d.tabs.AddPage("dtc", d.dtcTable, true, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	mainFlex.AddItem(headerFlex, 3, 0, false)
	mainFlex.AddItem(d.tabs, 0, 1, true)

	d.app.SetRoot(mainFlex, true)
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q', 'Q':
			d.Shutdown()
			return nil
		case '1':
			d.tabs.SwitchToPage("dashboard")
			return nil
		case '2':
			d.tabs.SwitchToPage("dtc")
			return nil
		case 'c', 'C':
			go d.clearCodes()
			return nil
		case 'p', 'P':
			go d.detectProtocol()
			return nil
		}
		return event
	})

	d.render()
	d.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		d.render()
		return false
	})

	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.ctx.Done():
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	return d.app.Run()
}

func (d *Displayer) Shutdown() {
	d.cancel()
	d.app.Stop()
}

func (d *Displayer) redraw() {
	if d.running.Load() {
		d.app.QueueUpdateDraw(func() {})
	}
}

func (d *Displayer) setNotice(msg string) {
	d.mu.Lock()
	d.notice = msg
	d.mu.Unlock()
	d.redraw()
}

func (d *Displayer) clearCodes() {
	d.setNotice("clearing trouble codes...")
	ctx, cancel := context.WithTimeout(d.ctx, time.Minute)
	defer cancel()
	if err := d.ctrl.ClearTroubleCodes(ctx); err != nil {
		d.log.Warn("clear codes from dashboard", zap.Error(err))
		d.setNotice("clear failed: " + err.Error())
		return
	}
	d.setNotice("trouble codes cleared")
}

func (d *Displayer) detectProtocol() {
	d.setNotice("detecting protocol...")
	ctx, cancel := context.WithTimeout(d.ctx, time.Minute)
	defer cancel()
	n, name, err := d.ctrl.DetectProtocol(ctx)
	if err != nil {
		d.setNotice("protocol detection failed: " + err.Error())
		return
	}
	d.setNotice(fmt.Sprintf("protocol %d: %s", n, name))
}

func (d *Displayer) ConnectionChanged(state models.ConnectionState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
	d.redraw()
}

func (d *Displayer) SampleUpdated(s models.VehicleSample) {
	d.mu.Lock()
	d.sample = s
	d.mu.Unlock()
	d.redraw()
}

func (d *Displayer) UploadFinished(r models.UploadResult) {
	d.mu.Lock()
	d.upload = r
	d.mu.Unlock()
	d.redraw()
}

// render copies the latest snapshot into the widgets. It runs on the UI
// goroutine.
func (d *Displayer) render() {
	d.mu.Lock()
	state, sample, upload, notice := d.state, d.sample, d.upload, d.notice
	d.mu.Unlock()

	d.statusText.SetText(statusLine(state, notice))
	d.valuesText.SetText(strings.Join(dashboardLines(sample, upload), "\n"))

	d.dtcTable.Clear()
	d.dtcTable.SetCell(0, 0, tview.NewTableCell("Code").SetSelectable(false).SetAlign(tview.AlignCenter))
	d.dtcTable.SetCell(0, 1, tview.NewTableCell("Description").SetSelectable(false).SetAlign(tview.AlignCenter))
	for i, e := range sample.DTCs {
		d.dtcTable.SetCell(i+1, 0, tview.NewTableCell(e.Code))
		d.dtcTable.SetCell(i+1, 1, tview.NewTableCell(e.Description))
	}
}

func statusLine(state models.ConnectionState, notice string) string {
	color := "red"
	switch {
	case state.Connected():
		color = "green"
	case state.Status == models.StatusConnecting:
		color = "yellow"
	}
	line := fmt.Sprintf("Status: [%s]%s[white]", color, tview.Escape(state.String()))
	if notice != "" {
		line += "  " + tview.Escape(notice)
	}
	return line
}

func dashboardLines(s models.VehicleSample, up models.UploadResult) []string {
	if s.Cycle == 0 {
		return []string{"Waiting for first cycle..."}
	}
	mil := "[green]off[white]"
	if s.MILOn {
		mil = "[red]ON[white]"
	}
	valid := "[green]valid[white]"
	if !s.DataValid {
		valid = "[red]no data[white]"
	}
	lines := []string{
		fmt.Sprintf("Cycle: %d (%s, %d/%d read)", s.Cycle, valid, s.PIDsRead, s.PIDsTotal),
		fmt.Sprintf("RPM: %.0f", s.RPM),
		fmt.Sprintf("Speed (km/h): %.1f", s.Speed),
		fmt.Sprintf("Engine load (%%): %.1f", s.EngineLoad),
		fmt.Sprintf("Throttle (%%): %.1f  relative %.1f", s.Throttle, s.RelativeThrottle),
		fmt.Sprintf("Coolant (C): %.0f", s.CoolantTemp),
		fmt.Sprintf("Intake (C): %.0f", s.IntakeTemp),
		fmt.Sprintf("Ambient (C): %.0f", s.AmbientTemp),
		fmt.Sprintf("Battery (V): %.2f", s.Voltage),
		fmt.Sprintf("MAF (g/s): %.2f", s.MAF),
		fmt.Sprintf("Fuel level (%%): %.1f  rate %.2f L/h  pressure %.0f kPa", s.FuelLevel, s.FuelRate, s.FuelPressure),
		fmt.Sprintf("Fuel trims (%%): STFT1 %.1f LTFT1 %.1f STFT2 %.1f LTFT2 %.1f",
			s.ShortTrimBank1, s.LongTrimBank1, s.ShortTrimBank2, s.LongTrimBank2),
		fmt.Sprintf("Timing advance: %.1f", s.TimingAdvance),
		fmt.Sprintf("Engine runtime: %s", time.Duration(s.Runtime)*time.Second),
		fmt.Sprintf("Standard: %s  Protocol: %s", s.OBDStandard, protocolLabel(s)),
		fmt.Sprintf("MIL: %s  DTCs: %d", mil, s.DTCCount),
	}
	if !up.At.IsZero() {
		lines = append(lines, "Last upload: "+tview.Escape(up.String()))
	}
	return lines
}

func protocolLabel(s models.VehicleSample) string {
	if s.Protocol == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d (%s)", s.Protocol, s.ProtocolName)
}
