// Package display renders snapshots, status reports and scenario results
// for the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/scenario"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 1)

	alertPanelStyle = panelStyle.
		BorderForeground(lipgloss.Color("#EF4444"))

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))

	passStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)
)

var levelColors = map[string]lipgloss.Color{
	engine.RiskGreen:    lipgloss.Color("#10B981"),
	engine.RiskYellow:   lipgloss.Color("#EAB308"),
	engine.RiskOrange:   lipgloss.Color("#F97316"),
	engine.RiskRed:      lipgloss.Color("#EF4444"),
	engine.RiskCritical: lipgloss.Color("#B91C1C"),
}

const barWidth = 20

// Level renders a risk level in its band color.
func Level(level string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(levelColors[level]).Render(strings.ToUpper(level))
}

// bar draws a [0,1] value as a fixed-width gauge.
func bar(x float64) string {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	n := int(x*barWidth + 0.5)
	return strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
}

// Snapshot renders the state of one tick.
func Snapshot(snap engine.Snapshot) string {
	header := titleStyle.Render(fmt.Sprintf("tick %d  risk %.3f ", snap.Tick, snap.CompositeRisk)) +
		Level(snap.RiskLevel) +
		labelStyle.Render(fmt.Sprintf("  stress %.3f", snap.SystemStress))

	var ind strings.Builder
	for _, name := range engine.IndicatorNames() {
		i, ok := snap.Indicators[name]
		if !ok {
			continue
		}
		pin := ""
		if i.Pinned > 0 {
			pin = " pinned"
		}
		fmt.Fprintf(&ind, "%-20s %s %.3f %+.3f%s\n", name, bar(i.Value), i.Value, i.Trend, pin)
	}
	p := snap.Psychology
	fmt.Fprintf(&ind, "%s sentiment %.2f  fear %.2f  greed %.2f  herding %.2f",
		labelStyle.Render("mood"), p.Sentiment, p.Fear, p.Greed, p.Herding)

	sections := []string{header, panelStyle.Render(ind.String())}

	if len(snap.ActiveCrises) > 0 {
		var b strings.Builder
		b.WriteString("Active crises\n")
		for _, c := range snap.ActiveCrises {
			kind := string(c.Kind)
			if c.Subtype != "" {
				kind += "/" + c.Subtype
			}
			fmt.Fprintf(&b, "\n%-28s %-22s %-12s %.2f", kind, c.Target, c.Phase, c.Intensity)
		}
		sections = append(sections, panelStyle.Render(b.String()))
	}

	if len(snap.ActiveInterventions) > 0 {
		var b strings.Builder
		b.WriteString("Interventions\n")
		for _, iv := range snap.ActiveInterventions {
			fmt.Fprintf(&b, "\n%-20s %-20s %-10s cost %s", iv.Kind, iv.Government, iv.Phase, iv.Cost.StringFixed(0))
		}
		sections = append(sections, panelStyle.Render(b.String()))
	}

	if len(snap.ActiveAlerts) > 0 {
		var b strings.Builder
		b.WriteString("Alerts\n")
		for _, a := range snap.ActiveAlerts {
			ack := ""
			if a.Acknowledged {
				ack = " (ack)"
			}
			fmt.Fprintf(&b, "\nsev %d  %-22s %s%s", a.Severity, a.Type, a.Source, ack)
		}
		for _, w := range snap.EarlyWarnings {
			fmt.Fprintf(&b, "\nwarning %s: crisis in ~%d ticks, %s", w.Source, w.TimeToCrisis, strings.Join(w.Actions, ", "))
		}
		sections = append(sections, alertPanelStyle.Render(b.String()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Status renders a health summary.
func Status(st engine.Status) string {
	state := passStyle.Render("running")
	if !st.Running {
		state = failStyle.Render("stopped")
	}
	rows := [][2]string{
		{"tick", fmt.Sprint(st.Tick)},
		{"seed", fmt.Sprint(st.Seed)},
		{"agents", fmt.Sprintf("%d (%d active)", st.Agents, st.ActiveAgents)},
		{"crises", fmt.Sprint(st.ActiveCrises)},
		{"interventions", fmt.Sprint(st.Interventions)},
		{"alerts", fmt.Sprint(st.Alerts)},
		{"cascades", fmt.Sprint(st.PendingCascades)},
		{"events", fmt.Sprint(st.Events)},
		{"risk", fmt.Sprintf("%.3f %s", st.CompositeRisk, Level(st.RiskLevel))},
	}
	if len(st.Disabled) > 0 {
		rows = append(rows, [2]string{"disabled", strings.Join(st.Disabled, ", ")})
	}
	var b strings.Builder
	b.WriteString(state)
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render(fmt.Sprintf("%-14s", r[0])), r[1])
	}
	return panelStyle.Render(b.String())
}

// Events renders the last n events, oldest first.
func Events(events []engine.Event, n int) string {
	if len(events) > n {
		events = events[len(events)-n:]
	}
	var b strings.Builder
	for i, e := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s", labelStyle.Render(fmt.Sprintf("[%5d]", e.Tick)), e.Description)
	}
	return b.String()
}

// Scenario renders a scenario report.
func Scenario(res scenario.Result) string {
	verdict := passStyle.Render("PASS")
	if !res.Passed() {
		verdict = failStyle.Render("FAIL")
	}
	header := titleStyle.Render(res.Name) + " " + verdict +
		labelStyle.Render(fmt.Sprintf("  seed %d, %d ticks", res.Seed, res.Ticks))

	var checks strings.Builder
	checks.WriteString(res.Description)
	for _, c := range res.Checks {
		mark := passStyle.Render("✓")
		if !c.OK {
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(&checks, "\n%s %s", mark, c.Name)
		if c.Detail != "" {
			checks.WriteString(labelStyle.Render(" (" + c.Detail + ")"))
		}
	}

	var counts strings.Builder
	counts.WriteString("Events by kind")
	for i, kc := range res.Summary() {
		if i == 8 {
			break
		}
		fmt.Fprintf(&counts, "\n%-28s %d", kc.Kind, kc.Count)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		panelStyle.Render(checks.String()),
		panelStyle.Render(counts.String()),
		fmt.Sprintf("final risk %.3f %s", res.Final.CompositeRisk, Level(res.Final.RiskLevel)),
	)
}
