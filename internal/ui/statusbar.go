package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Status is what the bottom bar reports.
type Status struct {
	Connected bool
	Room      string
	Messages  int
	LastData  time.Time // zero before the first sensor_data
	Selected  string
	Notice    string // last error or acknowledgement, if any
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, s Status) string {
	status := StyleStatusOffline.Render("[OFFLINE]")
	if s.Connected {
		status = StyleStatusLive.Render("[LIVE]")
	}

	room := s.Room
	if room == "" {
		room = "-"
	}
	last := "never"
	if !s.LastData.IsZero() {
		last = formatLastSeen(s.LastData)
	}

	info := fmt.Sprintf(" Room: %s  Msgs: %d  Last: %s  Anchor: %s", room, s.Messages, last, s.Selected)
	if s.Notice != "" {
		info += "  " + s.Notice
	}

	content := status + StyleStatusBar.Foreground(ColorGreen).Render(info)

	gap := width - 2 - lipgloss.Width(content)
	if gap < 0 {
		gap = 0
	}

	return StyleStatusBar.Width(width).Render(content + strings.Repeat(" ", gap))
}
