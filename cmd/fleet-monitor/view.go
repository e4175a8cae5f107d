package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/unklstewy/uav-fleet/pkg/fleet"
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("86")).
	Background(lipgloss.Color("235")).
	Padding(0, 1)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	armedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	selectStyle = cellStyle.Background(lipgloss.Color("237"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var statusHeaders = []string{"#", "TARGET", "ARMED", "MODE", "ALT", "TGT", "BATT", "GPS", "SATS", "POSITION", "HDG"}

func (m model) View() string {
	var s strings.Builder

	title := "UAV FLEET MONITOR"
	if m.fromDB {
		title = "UAV FLEET MONITOR (STORED)"
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Press any key to continue..."))
		return s.String()
	}

	s.WriteString(m.renderSummary())
	s.WriteString("\n\n")
	s.WriteString(m.renderFleet())
	s.WriteString("\n")

	if m.showHistory {
		s.WriteString("\n")
		s.WriteString(renderHistory(m.historyTarget, m.history))
		s.WriteString("\n")
	}

	if m.stats != nil {
		s.WriteString("\n")
		s.WriteString(m.renderDatabase())
		s.WriteString("\n")
	}

	s.WriteString("\n")
	help := "↑/↓: Select  h: Fleet history  v: Vehicle history  q: Quit"
	if !m.fromDB {
		help = "↑/↓: Select  c: Reconnect  h: Fleet history  v: Vehicle history  q: Quit"
	}
	s.WriteString(helpStyle.Render(help))
	return s.String()
}

func (m model) renderSummary() string {
	reg := m.core.Registry
	armed := 0
	for _, snap := range m.snaps {
		if snap.Armed {
			armed++
		}
	}

	state := fmt.Sprintf("%d of %d connected", reg.Connected(), len(reg.Targets()))
	switch {
	case m.fromDB:
		state = fmt.Sprintf("%d stored vehicle(s)", len(m.snaps))
	case m.connecting:
		state = fmt.Sprintf("connecting %d target(s)...", len(reg.Targets()))
	}

	updated := "never"
	if !m.sampledAt.IsZero() {
		updated = m.sampledAt.Format("15:04:05")
	}

	return fmt.Sprintf("%s %s  %s %s  %s %d  %s %s",
		headerStyle.Render("Backend:"), reg.Backend(),
		headerStyle.Render("Vehicles:"), state,
		headerStyle.Render("Armed:"), armed,
		headerStyle.Render("Updated:"), updated,
	)
}

func (m model) renderFleet() string {
	if len(m.snaps) == 0 {
		return helpStyle.Render("  No vehicles connected")
	}

	rows := make([][]string, 0, len(m.snaps))
	for _, snap := range m.snaps {
		rows = append(rows, fleetRow(snap))
	}

	snaps, selected := m.snaps, m.selected
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(statusHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle.Padding(0, 1)
			case row == selected:
				return selectStyle
			case col == 2 && row < len(snaps) && snaps[row].Armed:
				return armedStyle.Padding(0, 1)
			}
			return cellStyle
		})
	return t.Render()
}

// fleetRow formats one snapshot in statusHeaders order.
func fleetRow(s fleet.Snapshot) []string {
	armed := "no"
	if s.Armed {
		armed = "ARMED"
	}
	return []string{
		fmt.Sprintf("%d", s.Index),
		s.Target,
		armed,
		s.Mode.String(),
		fmt.Sprintf("%.1f m", s.Altitude),
		fmt.Sprintf("%.1f m", s.TargetAltitude),
		fmt.Sprintf("%.2f V", s.BatteryVoltage),
		gpsFix(s.GPSFixType),
		fmt.Sprintf("%d", s.Satellites),
		fmt.Sprintf("%.5f, %.5f", s.Latitude, s.Longitude),
		fmt.Sprintf("%03.0f°", s.HeadingDeg),
	}
}

// gpsFix names a GPS_FIX_TYPE value.
func gpsFix(fix int) string {
	switch fix {
	case 0, 1:
		return "none"
	case 2:
		return "2D"
	case 3:
		return "3D"
	case 4:
		return "DGPS"
	case 5:
		return "RTK~"
	case 6:
		return "RTK"
	default:
		return fmt.Sprintf("%d", fix)
	}
}

func renderHistory(target string, records []fleet.CommandRecord) string {
	heading := "Recent Commands:"
	if target != "" {
		heading = "Recent Commands for " + target + ":"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(heading))
	b.WriteString(fmt.Sprintf(" (%d)\n", len(records)))

	if len(records) == 0 {
		b.WriteString(helpStyle.Render("  No commands journaled"))
		return b.String()
	}

	for _, rec := range records {
		status := armedStyle.Render("ok  ")
		if !rec.Succeeded {
			status = errStyle.Render("FAIL")
		}
		line := fmt.Sprintf("  %s  %s  #%d %-12s %-22s %6s",
			rec.IssuedAt.Local().Format("15:04:05"),
			status,
			rec.Index,
			rec.Command,
			rec.Args,
			rec.Duration.Round(time.Millisecond),
		)
		if rec.Error != "" {
			line += "  " + errStyle.Render(rec.Error)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderDatabase() string {
	health := armedStyle.Render("healthy")
	if !m.dbHealthy {
		health = errStyle.Render("unreachable")
	}
	return fmt.Sprintf("%s %s  %s %v  %s %v  %s %v",
		headerStyle.Render("Journal:"), health,
		helpStyle.Render("commands"), m.stats["commands"],
		helpStyle.Render("failed"), m.stats["failed_commands"],
		helpStyle.Render("snapshots"), m.stats["snapshots"],
	)
}
