package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Timeline color scheme. Each concern keeps one consistent color so a
// transcript can be scanned by hue: tools blue, gate cyan,
// confirmations yellow, outcomes green/red.
var (
	// Structural / metadata
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timestamps, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - labels

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White - values

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - headers

	// Planning flow
	planStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")) // White

	// Tools - Blue
	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	// Gate rulings - Cyan
	gateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan

	// Confirmations - Yellow bold
	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")) // Yellow

	// Outcomes
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	// Timeline
	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)

// decisionStyle colors a gate decision.
func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case "approve":
		return successStyle
	case "refuse":
		return errorStyle
	case "escalate":
		return warnStyle
	default:
		return valueStyle
	}
}

// confirmStateStyle colors a confirmation resolution.
func confirmStateStyle(state string) lipgloss.Style {
	switch state {
	case "approved":
		return successStyle
	case "denied":
		return errorStyle
	default:
		return warnStyle
	}
}
