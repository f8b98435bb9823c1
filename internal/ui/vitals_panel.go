package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"smartcrowd.klederson.com/internal/pipeline"
)

// RenderVitalsPanel renders the wearer's latest vitals, motion and flags.
// d is nil until the first sensor_data arrives.
func RenderVitalsPanel(d *pipeline.SensorData, width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}

	title := StylePanelTitle.Render("VITALS")
	lines := []string{title, StyleSeparator.Render(strings.Repeat("-", innerW))}

	if d == nil {
		lines = append(lines, "", StyleHelp.Render(" Waiting for sensor data..."))
		return fitPanel(StylePanelBorder, lines, width, height)
	}

	fall := StyleValue.Render("no")
	if d.Fall != 0 {
		fall = StyleAlert.Render("FALL DETECTED")
	}
	system := StyleAlert.Render("off")
	if d.SystemOn != 0 {
		system = StyleValue.Render("on")
	}

	fields := []struct{ label, value string }{
		{"Heart", StyleValue.Render(fmt.Sprintf("%.0f bpm", d.Heartbeat))},
		{"Temp", StyleValue.Render(fmt.Sprintf("%.1f C", d.Temperature))},
		{"Accel", StyleValue.Render(fmt.Sprintf("%.1f", d.Acceleration)) +
			StyleLabel.Render(fmt.Sprintf("  x%+.2f y%+.2f z%+.2f", d.AccX, d.AccY, d.AccZ))},
		{"Fall", fall},
		{"System", system},
		{"Position", StyleValue.Render(fmt.Sprintf("(%.2f, %.2f)", d.Position.X, d.Position.Y))},
	}
	for _, f := range fields {
		lines = append(lines, StyleLabel.Render(fmt.Sprintf("  %-10s", f.label))+f.value)
	}

	sparkW := innerW - 4
	if sparkW < 10 {
		sparkW = 10
	}
	histories := []struct {
		label   string
		samples []pipeline.Sample
	}{
		{"Heart History:", d.HRHistory},
		{"Temp History:", d.TempHistory},
	}
	for _, h := range histories {
		if len(h.samples) == 0 {
			continue
		}
		lines = append(lines, "", StyleLabel.Render("  "+h.label))
		lines = append(lines, "  "+StyleSparkline.Render(renderSparkline(sampleValues(h.samples), sparkW)))
	}

	return fitPanel(StylePanelBorder, lines, width, height)
}

func sampleValues(samples []pipeline.Sample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

// fitPanel renders lines in a bordered box of exactly height lines.
// lipgloss Height() only sets a minimum; it won't truncate overflow.
func fitPanel(style lipgloss.Style, lines []string, width, height int) string {
	innerH := height - 2
	if innerH < 1 {
		innerH = 1
	}
	if len(lines) > innerH {
		lines = lines[:innerH]
	}
	rendered := style.Width(width - 2).Height(innerH).Render(strings.Join(lines, "\n"))

	outLines := strings.Split(rendered, "\n")
	if len(outLines) > height {
		outLines = outLines[:height]
	}
	for len(outLines) < height {
		outLines = append(outLines, "")
	}
	return strings.Join(outLines, "\n")
}

func renderSignalBar(rssi float64, width int) string {
	// Map RSSI -100..-30 to 0..width filled bars
	ratio := (rssi + 100.0) / 70.0
	if ratio < 0 || math.IsNaN(ratio) {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(math.Round(ratio * float64(width)))

	filledPart := lipgloss.NewStyle().Foreground(lipgloss.Color(proximityColor(rssi))).Render(strings.Repeat("|", filled))
	emptyPart := lipgloss.NewStyle().Foreground(ColorDimGreen).Render(strings.Repeat("-", width-filled))
	return StyleHelp.Render("[") + filledPart + emptyPart + StyleHelp.Render("]")
}

// proximityColor shades stronger signals brighter.
func proximityColor(rssi float64) string {
	switch {
	case rssi >= -50:
		return "#00FF41"
	case rssi >= -65:
		return "#00CC33"
	case rssi >= -80:
		return "#00AA22"
	default:
		return "#005511"
	}
}

func renderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}

	chars := []byte{'_', '.', '-', '~', '^'}

	// Take last `width` values
	if len(values) > width {
		values = values[len(values)-width:]
	}

	// Find min/max for scaling
	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}

	rng := maxV - minV
	if rng < 1 {
		rng = 1
	}

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(chars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(chars) {
			idx = len(chars) - 1
		}
		sb.WriteByte(chars[idx])
	}

	return sb.String()
}

func formatLastSeen(t time.Time) string {
	d := time.Since(t)
	if d < time.Second {
		return "now"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm ago", int(d.Minutes()))
}
