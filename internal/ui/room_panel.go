package ui

// RenderRoomPanel wraps the room map with a styled border.
// The map itself is rendered by the radar package to avoid import cycles.
func RenderRoomPanel(width, height int, mapContent, legend string) string {
	content := mapContent + "\n" + legend
	return StylePanelBorder.Width(width - 2).Height(height - 2).Render(content)
}
