package app

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/pipeline"
	"smartcrowd.klederson.com/internal/position"
	"smartcrowd.klederson.com/internal/radar"
	"smartcrowd.klederson.com/internal/ui"
)

// Controller sends upstream control messages. *Feed implements it.
type Controller interface {
	URL() string
	SendControl(msg pipeline.ControlMessage) error
}

// shared holds mutable state that must survive bubbletea's value-copy
// semantics.
type shared struct {
	ctl   Controller
	pulse *radar.Pulse
	trail *pipeline.Ring[position.Point]
}

// AppModel is the top-level bubbletea model of the monitor.
type AppModel struct {
	width  int
	height int

	connected   bool
	data        *pipeline.SensorData
	calibration *calibration.Table
	lastData    time.Time
	messages    int
	selected    string
	notice      string

	shared *shared
}

// New creates the monitor model. Anchor A1 starts selected.
func New(ctl Controller) AppModel {
	return AppModel{
		selected: calibration.A1,
		shared: &shared{
			ctl:   ctl,
			pulse: radar.NewPulse(),
			trail: pipeline.NewRing[position.Point](config.TrailLength),
		},
	}
}

// Init starts the animation loop.
func (m AppModel) Init() tea.Cmd {
	return tickCmd()
}

// Update handles incoming messages.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		m.shared.pulse.Update()
		return m, tickCmd()

	case SensorDataMsg:
		d := pipeline.SensorData(msg)
		m.data = &d
		m.calibration = &d.Calibration
		m.lastData = time.Now()
		m.messages++
		m.shared.trail.Push(d.Position)
		return m, nil

	case CalibrationMsg:
		t := calibration.Table(msg)
		m.calibration = &t
		m.messages++
		return m, nil

	case FeedStatusMsg:
		m.connected = msg.Connected
		m.notice = ""
		if msg.Err != nil {
			m.notice = "feed: " + msg.Err.Error()
		}
		return m, nil

	case ControlResultMsg:
		if msg.Err != nil {
			m.notice = fmt.Sprintf("%s update failed: %v", msg.AnchorID, msg.Err)
		} else {
			m.notice = msg.AnchorID + " update sent"
		}
		return m, nil
	}

	return m, nil
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "1":
		m.selected = calibration.A1
	case "2":
		m.selected = calibration.A2
	case "3":
		m.selected = calibration.A3

	case "+", "=":
		return m.nudge(1, 0)
	case "-", "_":
		return m.nudge(-1, 0)
	case ">", ".":
		return m.nudge(0, 0.1)
	case "<", ",":
		return m.nudge(0, -0.1)
	}

	return m, nil
}

// nudge asks the backend to shift the selected anchor's calibration. The
// model is not changed locally; the resulting calibration_update is.
func (m AppModel) nudge(dRSSI, dExp float64) (AppModel, tea.Cmd) {
	if m.calibration == nil {
		m.notice = "no calibration yet"
		return m, nil
	}
	a, ok := m.calibration.Anchor(m.selected)
	if !ok {
		return m, nil
	}

	req := pipeline.ControlMessage{Type: pipeline.TypeUpdateCalibration, AnchorID: a.ID}
	if dRSSI != 0 {
		v := a.RSSIAt1m + dRSSI
		req.RSSIAt1m = &v
	}
	if dExp != 0 {
		v := position.Round(a.PathLossExp+dExp, 1)
		if v <= 0 {
			m.notice = "path loss exponent must stay positive"
			return m, nil
		}
		req.PathLossExp = &v
	}

	ctl := m.shared.ctl
	return m, func() tea.Msg {
		return ControlResultMsg{AnchorID: req.AnchorID, Err: ctl.SendControl(req)}
	}
}

// View renders the full UI.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing SmartCrowd monitor..."
	}

	menuH := 1
	statusH := 1
	bodyH := m.height - menuH - statusH
	if bodyH < 5 {
		bodyH = 5
	}

	roomW := m.width * 3 / 5
	if roomW < 30 {
		roomW = 30
	}
	sideW := m.width - roomW
	if sideW < 30 {
		sideW = 30
		roomW = m.width - sideW
	}

	url := ""
	if m.shared.ctl != nil {
		url = m.shared.ctl.URL()
	}
	menuBar := ui.RenderMenuBar(m.width, url, m.connected)

	innerW := roomW - 4
	innerH := bodyH - 4
	if innerW < 5 {
		innerW = 5
	}
	if innerH < 3 {
		innerH = 3
	}
	sc := m.scene()
	roomContent := radar.Render(innerW, innerH, sc, m.shared.pulse)
	legend := radar.RenderLegend(innerW, sc.Wearer)
	roomPanel := ui.RenderRoomPanel(roomW, bodyH, roomContent, legend)

	anchorsH := 16
	if bodyH-anchorsH < 8 {
		anchorsH = bodyH / 2
	}
	vitals := ui.RenderVitalsPanel(m.data, sideW, bodyH-anchorsH)
	anchors := ui.RenderAnchorList(m.anchorRows(), m.selected, sideW, anchorsH)

	room := ""
	if m.data != nil {
		room = m.data.Room
	}
	statusBar := ui.RenderStatusBar(m.width, ui.Status{
		Connected: m.connected,
		Room:      room,
		Messages:  m.messages,
		LastData:  m.lastData,
		Selected:  m.selected,
		Notice:    m.notice,
	})

	return ui.ComposeLayout(menuBar, roomPanel, statusBar, vitals, anchors)
}

// scene collects what the room map draws from the latest state.
func (m AppModel) scene() radar.Scene {
	sc := radar.Scene{RoomW: config.RoomWidth, RoomH: config.RoomHeight}
	if m.calibration != nil {
		var dist position.Distances
		if m.data != nil {
			dist = m.data.Distances
		}
		ranges := [3]float64{dist.A1, dist.A2, dist.A3}
		for i, a := range m.calibration.Anchors() {
			sc.Anchors = append(sc.Anchors, radar.Anchor{
				ID:       a.ID,
				Name:     a.Name,
				X:        a.X,
				Y:        a.Y,
				Distance: ranges[i],
				Selected: a.ID == m.selected,
			})
		}
	}
	if m.data != nil {
		p := m.data.Position
		sc.Wearer = &p
		sc.Fall = m.data.Fall != 0
		sc.Trail = m.shared.trail.Values()
	}
	return sc
}

func (m AppModel) anchorRows() []ui.AnchorRow {
	if m.calibration == nil {
		return nil
	}
	var rssi [3]float64
	var dist [3]float64
	if m.data != nil {
		rssi = [3]float64{m.data.RSSI.RSSI1, m.data.RSSI.RSSI2, m.data.RSSI.RSSI3}
		dist = [3]float64{m.data.Distances.A1, m.data.Distances.A2, m.data.Distances.A3}
	}
	anchors := m.calibration.Anchors()
	rows := make([]ui.AnchorRow, len(anchors))
	for i, a := range anchors {
		rows[i] = ui.AnchorRow{Anchor: a, RSSI: rssi[i], Distance: dist[i]}
	}
	return rows
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(config.TargetFPS), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
