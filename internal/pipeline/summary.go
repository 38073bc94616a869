package pipeline

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"threatfusion/internal/actuator"
	"threatfusion/internal/classify"
)

var (
	summaryHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF79C6"))
	summaryLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Width(14)
	summaryBox    = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#6272A4")).
			Padding(0, 1)

	levelColors = map[classify.Level]lipgloss.Color{
		classify.LevelLow:      lipgloss.Color("#50FA7B"),
		classify.LevelMedium:   lipgloss.Color("#F1FA8C"),
		classify.LevelHigh:     lipgloss.Color("#FFB86C"),
		classify.LevelCritical: lipgloss.Color("#FF5555"),
	}
	statusColors = map[actuator.Status]lipgloss.Color{
		actuator.StatusSuccess: lipgloss.Color("#50FA7B"),
		actuator.StatusPartial: lipgloss.Color("#F1FA8C"),
		actuator.StatusUnknown: lipgloss.Color("#FF5555"),
	}
)

// RenderSummary renders the report for a terminal.
func RenderSummary(rep Report) string {
	var b strings.Builder
	fmt.Fprintln(&b, summaryHeader.Render("Incident "+rep.IncidentID))
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s%s\n", summaryLabel.Render(label), value)
	}
	if rep.Scenario != "" {
		row("scenario", rep.Scenario)
	}
	row("detections", fmt.Sprintf("%d", len(rep.Detections)))
	correlated := 0
	for _, t := range rep.Threats {
		if t.RadarCorrelation {
			correlated++
		}
	}
	row("threats", fmt.Sprintf("%d (%d radar-correlated)", len(rep.Threats), correlated))

	for _, a := range rep.Assessments {
		level := lipgloss.NewStyle().Foreground(levelColors[a.ThreatLevel]).Render(string(a.ThreatLevel))
		kind := string(a.ThreatType)
		if a.ThreatSubtype != "" {
			kind += "/" + a.ThreatSubtype
		}
		line := fmt.Sprintf("%s %s conf %.2f", level, kind, a.Confidence)
		if a.SwarmDetected {
			line += " swarm"
		}
		row("  "+a.ThreatID, line)
	}

	if s := rep.Susceptibility; s != nil {
		row("emitters", fmt.Sprintf("%s (max score %.0f), stealth=%t", s.OverallCategory, s.MaxThreatScore, s.StealthRecommended))
	}
	if rep.Selection != nil {
		sel := string(rep.Selection.State)
		if rep.Selection.PlanID != "" {
			sel += " " + rep.Selection.PlanID
		}
		if rep.Selection.Reason != "" {
			sel += ": " + rep.Selection.Reason
		}
		row("selection", sel)
	}
	if ex := rep.Execution; ex != nil {
		for _, r := range ex.PerCommandResults {
			status := lipgloss.NewStyle().Foreground(statusColors[r.Status]).Render(string(r.Status))
			row("  "+string(r.ActuatorKind), fmt.Sprintf("%s %.1f%% %s", status, r.Effectiveness, r.TargetID))
		}
		row("outcome", fmt.Sprintf("success=%t average %.1f%%", ex.OverallSuccess, ex.AverageEffectiveness))
	}
	return summaryBox.Render(strings.TrimRight(b.String(), "\n"))
}
