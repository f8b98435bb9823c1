package radar

import (
	"math"

	"smartcrowd.klederson.com/internal/config"
)

// Grid maps room coordinates in meters onto a block of terminal cells.
// Row 0 is the far wall (y = RoomH), so the room is drawn north up.
type Grid struct {
	Cols, Rows   int
	RoomW, RoomH float64
}

// FitGrid returns the largest grid that fits in width x height cells while
// keeping the room's proportions, accounting for terminal aspect ratio.
func FitGrid(width, height int, roomW, roomH float64) Grid {
	if roomW <= 0 || roomH <= 0 {
		roomW, roomH = config.RoomWidth, config.RoomHeight
	}
	cols := width
	rows := int(math.Round(float64(cols-1)*roomH/roomW*config.AspectRatio)) + 1
	if rows > height {
		rows = height
		cols = int(math.Round(float64(rows-1)*roomW/roomH/config.AspectRatio)) + 1
	}
	return Grid{Cols: max(cols, 2), Rows: max(rows, 2), RoomW: roomW, RoomH: roomH}
}

// ToCell converts a room position to the nearest cell. The result may lie
// off the grid when the position is outside the room.
func (g Grid) ToCell(x, y float64) (col, row int) {
	col = int(math.Round(x / g.RoomW * float64(g.Cols-1)))
	row = int(math.Round((g.RoomH - y) / g.RoomH * float64(g.Rows-1)))
	return col, row
}

// ToMeters returns the room position of a cell's center.
func (g Grid) ToMeters(col, row int) (x, y float64) {
	x = float64(col) / float64(g.Cols-1) * g.RoomW
	y = g.RoomH - float64(row)/float64(g.Rows-1)*g.RoomH
	return x, y
}

// Contains reports whether the cell is on the grid.
func (g Grid) Contains(col, row int) bool {
	return col >= 0 && col < g.Cols && row >= 0 && row < g.Rows
}

// Clamp pulls a cell onto the nearest edge of the grid.
func (g Grid) Clamp(col, row int) (int, int) {
	return min(max(col, 0), g.Cols-1), min(max(row, 0), g.Rows-1)
}

// Step returns the width and height of one cell in meters.
func (g Grid) Step() (dx, dy float64) {
	return g.RoomW / float64(g.Cols-1), g.RoomH / float64(g.Rows-1)
}

// CellSize returns the longer side of a cell in meters.
func (g Grid) CellSize() float64 {
	return math.Max(g.Step())
}

// IsWall reports whether the cell is on the room outline.
func (g Grid) IsWall(col, row int) bool {
	return col == 0 || row == 0 || col == g.Cols-1 || row == g.Rows-1
}

// Angle returns the bearing from (fromX, fromY) to (toX, toY) in room
// coordinates. Radians in [0, 2π), where 0=north, increasing clockwise.
func Angle(fromX, fromY, toX, toY float64) float64 {
	return NormalizeAngle(math.Atan2(toX-fromX, toY-fromY))
}

// RingChar returns the appropriate character for a ring at the given angle.
func RingChar(angle float64) rune {
	// 8 sectors for character selection
	sector := int(math.Round(NormalizeAngle(angle)/(math.Pi/4))) % 8

	switch sector {
	case 0, 4: // North, South
		return '-'
	case 1, 5: // NE, SW
		return '/'
	case 2, 6: // East, West
		return '|'
	case 3, 7: // SE, NW
		return '\\'
	default:
		return '.'
	}
}

// NormalizeAngle wraps an angle to [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
