package console

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c0c4d0"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f87171"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34d474"))

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	helpLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#505868")).
			Padding(0, 1)
)

// statusStyles は予約ステータスごとの表示色。
var statusStyles = map[string]lipgloss.Style{
	"pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b")),
	"confirmed": lipgloss.NewStyle().Foreground(lipgloss.Color("#22d3ee")),
	"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171")),
	"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("#4ade80")),
}

func renderStatus(status string) string {
	if s, ok := statusStyles[status]; ok {
		return s.Render(status)
	}
	return normalStyle.Render(status)
}

func renderHelp(pairs ...string) string {
	out := ""
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			out += "  "
		}
		out += helpKeyStyle.Render(pairs[i]) + " " + helpLabelStyle.Render(pairs[i+1])
	}
	return out
}
