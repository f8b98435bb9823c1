package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"smartcrowd.klederson.com/internal/calibration"
)

// AnchorRow is one anchor with the latest signal seen from the wearer.
type AnchorRow struct {
	Anchor   calibration.Anchor
	RSSI     float64 // dBm; 0 when no reading yet
	Distance float64 // meters; 0 when no reading yet
}

// Cursor row style: black text on bright green = unmissable highlight
var cursorRowSty = lipgloss.NewStyle().
	Foreground(ColorBlack).
	Background(ColorMatrixGreen).
	Bold(true)

// RenderAnchorList renders the anchor panel. The selected anchor is the one
// the calibration keys act on.
func RenderAnchorList(rows []AnchorRow, selected string, width, height int) string {
	innerW := width - 4
	if innerW < 10 {
		innerW = 10
	}

	lines := []string{
		StylePanelTitle.Render(fmt.Sprintf("ANCHORS [%d]", len(rows))),
		StyleSeparator.Render(strings.Repeat("-", innerW)),
	}

	if len(rows) == 0 {
		lines = append(lines, "", StyleHelp.Render(" No calibration yet..."))
		return fitPanel(StylePanelBorder, lines, width, height)
	}

	for _, r := range rows {
		lines = append(lines, renderAnchorEntry(r, innerW, r.Anchor.ID == selected)...)
	}
	return fitPanel(StylePanelBorder, lines, width, height)
}

func renderAnchorEntry(r AnchorRow, maxW int, isCursor bool) []string {
	a := r.Anchor

	cursor := "  "
	if isCursor {
		cursor = ">>"
	}

	name := a.Name
	nameMax := maxW - 12
	if nameMax < 4 {
		nameMax = 4
	}
	if len(name) > nameMax {
		name = name[:nameMax]
	}

	symbol := "[?]"
	if a.ID != "" {
		symbol = "[" + a.ID[len(a.ID)-1:] + "]"
	}
	calStr := fmt.Sprintf("%.0fdBm@1m  n=%.1f  (%g,%g)", a.RSSIAt1m, a.PathLossExp, a.X, a.Y)
	sigStr := "no signal"
	if r.RSSI != 0 {
		sigStr = fmt.Sprintf("%ddBm  ~%.2fm", int(r.RSSI), r.Distance)
	}

	if isCursor {
		return []string{
			cursorRowSty.Render(truncRaw(fmt.Sprintf("%s %s %s %s", cursor, symbol, name, a.ID), maxW)),
			cursorRowSty.Render(truncRaw("       "+calStr, maxW)),
			cursorRowSty.Render(truncRaw("       "+sigStr, maxW)),
			"",
		}
	}

	line1 := fmt.Sprintf("%s %s %s %s", cursor, StyleAnchorName.Render(symbol), StyleAnchorName.Render(name), StyleAnchorID.Render(a.ID))
	line2 := "       " + StyleAnchorID.Render(truncRaw(calStr, maxW-7))
	line3 := "       " + StyleAnchorRSSI.Render(sigStr)
	if r.RSSI != 0 {
		barW := maxW - 7 - len(sigStr) - 4
		if barW >= 5 {
			line3 = "       " + StyleAnchorRSSI.Render(fmt.Sprintf("%ddBm", int(r.RSSI))) + "  " +
				StyleAnchorDist.Render(fmt.Sprintf("~%.2fm", r.Distance)) + "  " + renderSignalBar(r.RSSI, barW)
		}
	}
	return []string{line1, line2, line3, ""}
}

// truncRaw pads or truncates a raw string to exactly w characters.
func truncRaw(s string, w int) string {
	if len(s) > w {
		return s[:w]
	}
	if len(s) < w {
		return s + strings.Repeat(" ", w-len(s))
	}
	return s
}
