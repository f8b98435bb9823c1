package radar

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"smartcrowd.klederson.com/internal/position"
)

var (
	colorBright   = lipgloss.Color("#00FF41")
	colorMid      = lipgloss.Color("#008F11")
	colorDim      = lipgloss.Color("#004A0A")
	colorAnchor   = lipgloss.Color("#00FFAA")
	colorWearer   = lipgloss.Color("#33FF66")
	colorFall     = lipgloss.Color("#FF3300")
	colorLabelDim = lipgloss.Color("#008F11")

	styleWall        = lipgloss.NewStyle().Foreground(colorMid)
	styleDot         = lipgloss.NewStyle().Foreground(colorDim)
	styleRing        = lipgloss.NewStyle().Foreground(colorMid)
	styleRingActive  = lipgloss.NewStyle().Foreground(colorAnchor)
	styleAnchor      = lipgloss.NewStyle().Foreground(colorAnchor).Bold(true)
	styleAnchorSel   = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(colorBright).Bold(true)
	styleWearer      = lipgloss.NewStyle().Foreground(colorWearer).Bold(true)
	styleWearerFall  = lipgloss.NewStyle().Foreground(colorFall).Bold(true).Blink(true)
	styleTrail       = lipgloss.NewStyle().Foreground(colorMid)
	styleLabel       = lipgloss.NewStyle().Foreground(colorAnchor)
	styleLabelDim    = lipgloss.NewStyle().Foreground(colorLabelDim)
	styleLegAnchor   = lipgloss.NewStyle().Foreground(colorAnchor)
	styleLegWearer   = lipgloss.NewStyle().Foreground(colorWearer)
	styleLegPosition = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
)

const maxLabelLen = 8

// Anchor is a reference beacon as drawn on the map.
type Anchor struct {
	ID       string
	Name     string
	X, Y     float64 // Meters
	Distance float64 // Estimated wearer range in meters; 0 draws no ring
	Selected bool
}

// Scene is everything the map shows in one frame.
type Scene struct {
	RoomW, RoomH float64
	Anchors      []Anchor
	Wearer       *position.Point // nil until the first reading
	Fall         bool
	Trail        []position.Point // oldest first
}

type anchorPos struct {
	col, row int
	anchor   Anchor
	symbol   byte
	label    string
	labelCol int
	labelRow int
}

type mapCell struct {
	col, row int
}

// Render produces the room map as a styled string. The map is centered
// horizontally in width and is at most height rows tall.
func Render(width, height int, scene Scene, pulse *Pulse) string {
	if width < 10 || height < 5 {
		return ""
	}

	g := FitGrid(width, height, scene.RoomW, scene.RoomH)
	indent := strings.Repeat(" ", max(0, (width-g.Cols)/2))

	aps := buildAnchorPositions(g, scene.Anchors)

	// Label cells: key = row*cols+col → index into aps + char offset
	type labelCell struct {
		apIdx   int
		charIdx int
	}
	labelMap := make(map[int]labelCell)
	for i, ap := range aps {
		for ci := 0; ci < len(ap.label); ci++ {
			col := ap.labelCol + ci
			if !g.Contains(col, ap.labelRow) {
				continue
			}
			labelMap[ap.labelRow*g.Cols+col] = labelCell{apIdx: i, charIdx: ci}
		}
	}

	trail := make(map[mapCell]bool, len(scene.Trail))
	for _, p := range scene.Trail {
		col, row := g.Clamp(g.ToCell(p.X, p.Y))
		trail[mapCell{col, row}] = true
	}

	wearer := mapCell{-1, -1}
	if scene.Wearer != nil {
		col, row := g.Clamp(g.ToCell(scene.Wearer.X, scene.Wearer.Y))
		wearer = mapCell{col, row}
	}

	var sb strings.Builder
	for row := 0; row < g.Rows; row++ {
		sb.WriteString(indent)
		for col := 0; col < g.Cols; col++ {
			if col == wearer.col && row == wearer.row {
				sb.WriteString(renderWearer(scene.Fall))
				continue
			}
			if ap, ok := anchorAt(aps, col, row); ok {
				sb.WriteString(renderAnchor(ap))
				continue
			}
			if lc, ok := labelMap[row*g.Cols+col]; ok {
				ap := aps[lc.apIdx]
				sb.WriteString(styleLabelFor(ap.anchor, ap.label[lc.charIdx]))
				continue
			}
			if trail[mapCell{col, row}] {
				sb.WriteString(styleTrail.Render("o"))
				continue
			}
			sb.WriteString(renderCell(g, col, row, scene, pulse))
		}
		if row < g.Rows-1 {
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

// buildAnchorPositions places the anchors and resolves label collisions.
func buildAnchorPositions(g Grid, anchors []Anchor) []anchorPos {
	aps := make([]anchorPos, 0, len(anchors))

	// Track occupied row segments: map[row] → list of (startCol, endCol)
	type segment struct{ start, end int }
	occupied := make(map[int][]segment)
	collides := func(row, col, n int) bool {
		for _, seg := range occupied[row] {
			if col < seg.end && col+n > seg.start {
				return true
			}
		}
		return false
	}

	for _, a := range anchors {
		ac, ar := g.Clamp(g.ToCell(a.X, a.Y))
		label := anchorCallsign(a)

		// Try placing label to the right
		lc := ac + 2
		if lc+len(label) > g.Cols {
			lc = ac - len(label) - 1
		}
		if lc < 0 {
			lc = 0
		}

		// Prefer the row inside the room when the anchor sits on a wall
		rows := []int{ar, ar + 1, ar - 1}
		if ar == 0 {
			rows = []int{ar + 1, ar, ar + 2}
		} else if ar == g.Rows-1 {
			rows = []int{ar - 1, ar, ar - 2}
		}

		lr := -1
		for _, r := range rows {
			if r < 0 || r >= g.Rows || collides(r, lc, len(label)) {
				continue
			}
			if r == ar && lc <= ac && ac < lc+len(label) {
				continue
			}
			lr = r
			break
		}
		if lr < 0 {
			// Give up on label for this anchor to keep the map clean
			label = ""
		}

		aps = append(aps, anchorPos{
			col:      ac,
			row:      ar,
			anchor:   a,
			symbol:   anchorSymbol(a.ID),
			label:    label,
			labelCol: lc,
			labelRow: lr,
		})

		// Mark anchor symbol position as occupied
		occupied[ar] = append(occupied[ar], segment{ac, ac + 1})

		if label != "" {
			occupied[lr] = append(occupied[lr], segment{lc, lc + len(label)})
		}
	}

	return aps
}

func anchorAt(aps []anchorPos, col, row int) (anchorPos, bool) {
	for _, ap := range aps {
		if ap.col == col && ap.row == row {
			return ap, true
		}
	}
	return anchorPos{}, false
}

// anchorSymbol is the last character of the ID: A1 → '1'.
func anchorSymbol(id string) byte {
	if id == "" {
		return '#'
	}
	return id[len(id)-1]
}

func anchorCallsign(a Anchor) string {
	name := a.Name
	if name == "" {
		name = a.ID
	}
	if len(name) > maxLabelLen {
		name = name[:maxLabelLen]
	}
	return name
}

func styleLabelFor(a Anchor, ch byte) string {
	if a.Selected {
		return styleLabel.Bold(true).Render(string(ch))
	}
	return styleLabelDim.Render(string(ch))
}

func renderAnchor(ap anchorPos) string {
	if ap.anchor.Selected {
		return styleAnchorSel.Render(string(ap.symbol))
	}
	return styleAnchor.Render(string(ap.symbol))
}

func renderWearer(fall bool) string {
	if fall {
		return styleWearerFall.Render("@")
	}
	return styleWearer.Render("@")
}

func renderCell(g Grid, col, row int, scene Scene, pulse *Pulse) string {
	x, y := g.ToMeters(col, row)
	half := g.CellSize() * 0.55

	if g.IsWall(col, row) {
		return styleWall.Render(string(wallChar(g, col, row)))
	}

	for _, a := range scene.Anchors {
		if a.Distance <= 0 {
			continue
		}
		if math.Abs(math.Hypot(x-a.X, y-a.Y)-a.Distance) < half {
			ch := RingChar(Angle(a.X, a.Y, x, y))
			if a.Selected {
				return styleRingActive.Render(string(ch))
			}
			return renderPulseChar(ch, pulse, scene.Wearer, x, y, styleRing)
		}
	}

	// Floor markers every whole meter
	dx, dy := g.Step()
	if nearWhole(x, dx/2) && nearWhole(y, dy/2) {
		return renderPulseChar('.', pulse, scene.Wearer, x, y, styleDot)
	}

	if scene.Wearer != nil {
		if color := pulseColor(pulse.Intensity(math.Hypot(x-scene.Wearer.X, y-scene.Wearer.Y))); color != "" {
			return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(":")
		}
	}
	return " "
}

func wallChar(g Grid, col, row int) rune {
	vertical := col == 0 || col == g.Cols-1
	horizontal := row == 0 || row == g.Rows-1
	switch {
	case vertical && horizontal:
		return '+'
	case vertical:
		return '|'
	default:
		return '-'
	}
}

func nearWhole(v, tol float64) bool {
	return math.Abs(v-math.Round(v)) < tol
}

func renderPulseChar(ch rune, pulse *Pulse, wearer *position.Point, x, y float64, base lipgloss.Style) string {
	if wearer == nil {
		return base.Render(string(ch))
	}
	color := pulseColor(pulse.Intensity(math.Hypot(x-wearer.X, y-wearer.Y)))
	if color == "" {
		return base.Render(string(ch))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(ch))
}

func pulseColor(intensity float64) string {
	if intensity <= 0 {
		return ""
	}
	if intensity > 0.8 {
		return "#00FF41"
	}
	if intensity > 0.5 {
		return "#00CC33"
	}
	if intensity > 0.3 {
		return "#00AA22"
	}
	return "#005511"
}

// RenderLegend produces the map legend line, including the wearer position
// when one is known.
func RenderLegend(width int, wearer *position.Point) string {
	legend := "   " +
		styleLegWearer.Render("@ wearer") +
		"  " +
		styleLegAnchor.Render("1 2 3 anchors") +
		"  " +
		styleTrail.Render("o trail")
	if wearer != nil {
		legend += "  " + styleLegPosition.Render(fmt.Sprintf("(%.2f, %.2f)", wearer.X, wearer.Y))
	}

	pad := (width - lipgloss.Width(legend)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + legend
}
