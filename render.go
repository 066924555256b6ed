package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"blinksend/crypto"
	"blinksend/models"
	"blinksend/storage"
)

var (
	primaryColor = lipgloss.Color("#FF79C6")
	accentColor  = lipgloss.Color("#50FA7B")
	dangerColor  = lipgloss.Color("#FF5555")
	mutedColor   = lipgloss.Color("#6272A4")
	fgColor      = lipgloss.Color("#F8F8F2")

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	accentStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	dangerStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)
)

func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	empty := width - filled

	bar := lipgloss.NewStyle().Foreground(lipgloss.Color("#42c767")).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(lipgloss.Color("#333333")).Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%s %5.1f%%", bar, percent)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primaryColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("#ffffff")).
					Bold(true).
					Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func renderPeersTable(peers []models.Peer) string {
	t := newTable("NAME", "ID")
	for _, peer := range peers {
		t.Row(peer.Label(), peer.ID)
	}
	return t.Render()
}

func renderHistoryTable(records []storage.TransferRecord) string {
	t := newTable("WHEN", "DIR", "PEER", "FILE", "SIZE", "STATUS", "CHECKSUM")
	for _, record := range records {
		status := record.Status
		if record.Reason != nil && *record.Reason != "" {
			status += " (" + *record.Reason + ")"
		}
		t.Row(
			time.UnixMilli(record.CreatedAt).Format("2006-01-02 15:04"),
			directionArrow(record.Direction),
			record.PeerName,
			record.Filename,
			formatBytes(record.Filesize),
			status,
			crypto.FormatChecksum(record.Checksum),
		)
	}
	return t.Render()
}

func directionArrow(direction string) string {
	if direction == storage.DirectionSend {
		return "↑ send"
	}
	return "↓ receive"
}
