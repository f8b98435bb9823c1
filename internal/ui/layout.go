package ui

import "github.com/charmbracelet/lipgloss"

// ComposeLayout joins the room panel and the side panels horizontally,
// with menu bar on top and status bar on bottom. Side panels stack top to
// bottom.
func ComposeLayout(menuBar, roomPanel, statusBar string, side ...string) string {
	right := lipgloss.JoinVertical(lipgloss.Left, side...)
	middle := lipgloss.JoinHorizontal(lipgloss.Top, roomPanel, right)
	return lipgloss.JoinVertical(lipgloss.Left, menuBar, middle, statusBar)
}
