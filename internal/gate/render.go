package gate

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"threatfusion/internal/planner"
)

var (
	colorGreen   = lipgloss.Color("#50FA7B")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorRed     = lipgloss.Color("#FF5555")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorGray    = lipgloss.Color("#6272A4")

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1).
			Width(48)

	topCardStyle = cardStyle.BorderForeground(colorCyan)

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMagenta)
	dimStyle    = lipgloss.NewStyle().Foreground(colorGray)
)

func costStyle(c planner.Cost) lipgloss.Style {
	switch c {
	case planner.CostLow:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case planner.CostMedium:
		return lipgloss.NewStyle().Foreground(colorYellow)
	default:
		return lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	}
}

// RenderOffer renders the batch as numbered plan cards laid out side by side.
func RenderOffer(incidentID string, plans []planner.Plan) string {
	cards := make([]string, 0, len(plans))
	for i, p := range plans {
		cards = append(cards, RenderPlanCard(i+1, p))
	}
	header := headerStyle.Render(fmt.Sprintf("Incident %s: %d plans awaiting selection", incidentID, len(plans)))
	return lipgloss.JoinVertical(lipgloss.Left, header, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
}

// RenderPlanCard renders one plan. Rank 1 gets a highlighted border.
func RenderPlanCard(n int, p planner.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("[%d] %s  %s", n, p.PlanID, p.PlanName)))
	fmt.Fprintf(&b, "%s %s   %s #%d\n", dimStyle.Render("approach"), p.Approach, dimStyle.Render("rank"), p.Rank)
	fmt.Fprintf(&b, "%s %.1f%%   %s %.1fs   %s %s\n",
		dimStyle.Render("effect"), p.EstimatedEffectiveness,
		dimStyle.Render("time"), p.ExecutionTimeS,
		dimStyle.Render("cost"), costStyle(p.ResourceCost).Render(string(p.ResourceCost)))
	for _, c := range p.Commands {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	for _, pro := range p.Pros {
		fmt.Fprintf(&b, "+ %s\n", pro)
	}
	for _, con := range p.Cons {
		fmt.Fprintf(&b, "- %s\n", con)
	}
	style := cardStyle
	if p.Rank == 1 {
		style = topCardStyle
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}
