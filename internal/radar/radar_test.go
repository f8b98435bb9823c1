package radar

import (
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/position"
)

var ansiSeq = regexp.MustCompile("\x1b\\[[0-9;]*m")

// plain drops styling so assertions see the drawn characters.
func plain(s string) string {
	return ansiSeq.ReplaceAllString(s, "")
}

func TestFitGridKeepsRoomSquare(t *testing.T) {
	g := FitGrid(41, 40, 10, 10)
	assert.Equal(t, 41, g.Cols)
	assert.Equal(t, 21, g.Rows)

	// Height bound: shrink columns instead.
	g = FitGrid(200, 11, 10, 10)
	assert.Equal(t, 11, g.Rows)
	assert.Equal(t, 21, g.Cols)

	dx, dy := g.Step()
	assert.InDelta(t, dx, dy*config.AspectRatio, 1e-9)
}

func TestFitGridDefaultsRoom(t *testing.T) {
	g := FitGrid(41, 40, 0, -1)
	assert.Equal(t, config.RoomWidth, g.RoomW)
	assert.Equal(t, config.RoomHeight, g.RoomH)
}

func TestGridCellConversions(t *testing.T) {
	g := FitGrid(41, 21, 10, 10)

	col, row := g.ToCell(0, 0)
	assert.Equal(t, []int{0, 20}, []int{col, row}, "origin is bottom left")
	col, row = g.ToCell(10, 10)
	assert.Equal(t, []int{40, 0}, []int{col, row})
	col, row = g.ToCell(5, 5)
	assert.Equal(t, []int{20, 10}, []int{col, row})

	x, y := g.ToMeters(col, row)
	assert.InDelta(t, 5.0, x, 1e-9)
	assert.InDelta(t, 5.0, y, 1e-9)

	col, row = g.Clamp(g.ToCell(-3, 14))
	assert.Equal(t, []int{0, 0}, []int{col, row})
	assert.True(t, g.Contains(col, row))
	assert.False(t, g.Contains(41, 0))
	assert.True(t, g.IsWall(0, 7))
	assert.False(t, g.IsWall(1, 1))
}

func TestAngleAndRingChar(t *testing.T) {
	assert.InDelta(t, 0, Angle(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, math.Pi/2, Angle(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 3*math.Pi/2, Angle(0, 0, -1, 0), 1e-9)

	assert.Equal(t, '-', RingChar(0))
	assert.Equal(t, '/', RingChar(math.Pi/4))
	assert.Equal(t, '|', RingChar(math.Pi/2))
	assert.Equal(t, '\\', RingChar(-math.Pi/4))
	assert.InDelta(t, math.Pi, NormalizeAngle(-math.Pi), 1e-9)
	assert.InDelta(t, 0, NormalizeAngle(4*math.Pi), 1e-9)
}

func TestPulseIntensity(t *testing.T) {
	p := &Pulse{StartTime: time.Unix(0, 0)}
	p.UpdateAt(p.StartTime.Add(config.PulsePeriod / 2))
	assert.InDelta(t, config.PulseRange/2, p.Radius, 1e-9)

	assert.InDelta(t, 1.0, p.Intensity(p.Radius), 1e-9)
	assert.Greater(t, p.Intensity(p.Radius-config.PulseWidth/2), 0.0)
	assert.Zero(t, p.Intensity(p.Radius+0.1), "nothing ahead of the ring")
	assert.Zero(t, p.Intensity(p.Radius-config.PulseWidth-0.1))

	p.UpdateAt(p.StartTime.Add(config.PulsePeriod))
	assert.InDelta(t, 0, p.Radius, 1e-9, "wraps every period")

	var nilPulse *Pulse
	assert.Zero(t, nilPulse.Intensity(0))
}

func scene() Scene {
	wearer := position.Point{X: 5, Y: 5}
	return Scene{
		RoomW: 10,
		RoomH: 10,
		Anchors: []Anchor{
			{ID: "A1", Name: "ENTRANCE", X: 0, Y: 0, Distance: 7.07},
			{ID: "A2", Name: "BACKSTAGE_1", X: 10, Y: 0, Distance: 7.07, Selected: true},
			{ID: "A3", Name: "BACKSTAGE_2", X: 5, Y: 10, Distance: 5},
		},
		Wearer: &wearer,
		Trail:  []position.Point{{X: 2, Y: 2}, {X: 3, Y: 3}},
	}
}

func TestRenderDrawsRoom(t *testing.T) {
	out := plain(Render(41, 30, scene(), NewPulse()))
	require.NotEmpty(t, out)

	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 21)
	for _, l := range lines {
		assert.Equal(t, 41, lipgloss.Width(l))
	}
	for _, want := range []string{"@", "1", "2", "3", "ENTRANCE", "BACKSTAG", "o"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "BACKSTAGE_1", "labels are truncated")
}

func TestRenderCentersNarrowMap(t *testing.T) {
	out := plain(Render(80, 11, scene(), nil))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, strings.Repeat(" ", 29)+"+", lines[0][:30])
}

func TestRenderWithoutWearer(t *testing.T) {
	s := scene()
	s.Wearer = nil
	s.Trail = nil
	out := plain(Render(41, 21, s, NewPulse()))
	assert.NotContains(t, out, "@")
	assert.NotContains(t, out, ":")
}

func TestRenderTooSmall(t *testing.T) {
	assert.Empty(t, Render(9, 20, scene(), nil))
	assert.Empty(t, Render(40, 4, scene(), nil))
}

func TestRenderLegend(t *testing.T) {
	p := position.Point{X: 1.5, Y: 2.25}
	assert.Contains(t, plain(RenderLegend(60, &p)), "(1.50, 2.25)")
	assert.NotContains(t, plain(RenderLegend(60, nil)), "(")
}

func TestBuildAnchorPositionsAvoidsCollisions(t *testing.T) {
	g := FitGrid(41, 21, 10, 10)
	aps := buildAnchorPositions(g, []Anchor{
		{ID: "A1", Name: "FIRST", X: 4, Y: 5},
		{ID: "A2", Name: "SECOND", X: 4.25, Y: 5},
	})
	require.Len(t, aps, 2)
	assert.Equal(t, byte('1'), aps[0].symbol)
	assert.Equal(t, aps[0].row, aps[0].labelRow)
	assert.NotEqual(t, aps[0].labelRow, aps[1].labelRow, "second label moves to another row")

	// Anchors on the wall label the row inside the room.
	aps = buildAnchorPositions(g, []Anchor{{ID: "A3", Name: "TOP", X: 5, Y: 10}})
	assert.Equal(t, 0, aps[0].row)
	assert.Equal(t, 1, aps[0].labelRow)
}
