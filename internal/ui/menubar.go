package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"smartcrowd.klederson.com/internal/config"
)

// RenderMenuBar renders the top menu bar.
func RenderMenuBar(width int, feedURL string, connected bool) string {
	title := fmt.Sprintf(" %s v%s ", config.AppName, config.AppVersion)

	keys := []struct{ key, label string }{
		{"1-3", "Anchor"},
		{"+/-", "RSSI"},
		{"</>", "Exp"},
		{"Q", "uit"},
	}

	menu := ""
	for _, k := range keys {
		menu += "  " + StyleMenuKey.Render("["+k.key+"]") + StyleMenuLabel.Render(k.label)
	}

	status := StyleStatusOffline.Render("OFFLINE")
	if connected {
		status = StyleStatusLive.Render("LIVE")
	}

	feedInfo := StyleMenuLabel.Render(fmt.Sprintf("Feed: %s", feedURL))

	left := StyleMenuKey.Render(title) + menu
	right := status + "  " + feedInfo + " "

	// Menu bar padding takes one column each side
	gap := width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	return StyleMenuBar.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}
