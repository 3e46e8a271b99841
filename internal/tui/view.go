package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"hotplugd/internal/hotplug"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff")).MarginBottom(1)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd700")).MarginTop(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#87d7af"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fd75f")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).MarginTop(1)
)

var stateColors = map[hotplug.Status]lipgloss.Color{
	hotplug.StatusIdle:      "#ffffff",
	hotplug.StatusUp:        "#5fd75f",
	hotplug.StatusDown:      "#ffaf00",
	hotplug.StatusPaused:    "#d7d700",
	hotplug.StatusSuspended: "#5f87ff",
	hotplug.StatusDisabled:  "#808080",
}

func (m Model) renderHeader(title string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("hotplugd · " + title))
	b.WriteString("\n\n")
	return b.String()
}

func (m Model) renderFooter(hint string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(hintStyle.Render(hint))
	b.WriteString("\n")
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("⚠ " + m.lastError))
		b.WriteString("\n")
	} else if m.message != "" {
		b.WriteString(dimStyle.Render(m.message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderCoresScreen() string {
	var b strings.Builder
	b.WriteString(m.renderHeader("Cores"))

	if !m.hasSnapshot {
		b.WriteString(dimStyle.Render("Waiting for daemon..."))
		b.WriteString("\n")
		b.WriteString(m.renderFooter("Refresh: r | Quit: q"))
		return b.String()
	}

	snap := m.snapshot
	stateStyle := lipgloss.NewStyle().Bold(true).Foreground(stateColors[snap.State])

	b.WriteString(labelStyle.Render("State: "))
	b.WriteString(stateStyle.Render(strings.ToUpper(string(snap.State))))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("Enabled: "))
	b.WriteString(valueStyle.Render(yesNo(snap.Enabled)))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("Load: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d.%d", snap.Load/10, snap.Load%10)))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render("Online: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d/%d", snap.Online, snap.Possible)))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Last verdict: "))
	b.WriteString(valueStyle.Render(snap.LastVerdict))
	if !snap.PausedUntil.IsZero() && snap.State == hotplug.StatusPaused {
		b.WriteString("  ")
		b.WriteString(labelStyle.Render("Paused until: "))
		b.WriteString(valueStyle.Render(snap.PausedUntil.Format("15:04:05")))
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Per-core"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-5s %-8s %9s %-6s %s", "CPU", "STATE", "HOTPLUGS", "SLEEP", "LAST ONLINE")))
	b.WriteString("\n")
	for _, core := range snap.Cores {
		b.WriteString(m.renderCoreRow(core))
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render("Loop"))
	b.WriteString("\n")
	stats := snap.Stats
	b.WriteString(valueStyle.Render(fmt.Sprintf("ticks %d  up %d  down %d  drift pauses %d  failures %d",
		stats.Ticks, stats.ScaleUps, stats.ScaleDowns, stats.Drifts, stats.Failures)))
	b.WriteString("\n")

	b.WriteString(m.renderFooter("Screens: Tab/1/2/? | Toggle enabled: e | Refresh: r | Quit: q"))
	return b.String()
}

func (m Model) renderCoreRow(core hotplug.CoreStatus) string {
	state := offlineStyle.Render(fmt.Sprintf("%-8s", "offline"))
	if core.ExpectedOnline {
		state = onlineStyle.Render(fmt.Sprintf("%-8s", "online"))
	}
	sleep := "-"
	if core.Sleeping {
		sleep = "capped"
	}
	lastOnline := "-"
	if !core.LastOnline.IsZero() && !m.updated.IsZero() {
		lastOnline = prettyDuration(m.updated.Sub(core.LastOnline)) + " ago"
	}
	return fmt.Sprintf("%-5s %s %9d %-6s %s",
		fmt.Sprintf("cpu%d", core.CPU), state, core.HotplugCount, sleep, lastOnline)
}

func (m Model) renderTunablesScreen() string {
	var b strings.Builder
	b.WriteString(m.renderHeader("Tunables"))

	if len(m.knobs) == 0 {
		b.WriteString(dimStyle.Render("No tunables loaded"))
		b.WriteString("\n")
	} else {
		names := make([]string, 0, len(m.knobs))
		width := 0
		for name := range m.knobs {
			names = append(names, name)
			if len(name) > width {
				width = len(name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s ", width, name)))
			b.WriteString(valueStyle.Render(m.knobs[name]))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.renderFooter("Change with: hotplugd set <knob> <value> | Back: Esc | Quit: q"))
	return b.String()
}

func (m Model) renderHelpScreen() string {
	var b strings.Builder
	b.WriteString(m.renderHeader("Help"))

	keys := [][2]string{
		{"1 / 2 / ?", "Cores, tunables, this help"},
		{"Tab", "Next screen"},
		{"e", "Toggle the control loop"},
		{"r", "Refresh now"},
		{"Esc", "Back to cores"},
		{"q", "Quit"},
	}
	for _, k := range keys {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", k[0])))
		b.WriteString(valueStyle.Render(k[1]))
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter(fmt.Sprintf("Refreshing every %s", m.refresh)))
	return b.String()
}

func prettyDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	return d.Truncate(time.Second).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
