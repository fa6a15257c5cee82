// Package ui renders command-line output for one-shot downloads.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"clipdrop/internal/media"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D")).
			Width(8)

	linkStyle = lipgloss.NewStyle().
			Underline(true).
			Foreground(lipgloss.Color("#A8DADC"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#95E1A3")).
			Padding(0, 1)
)

// Result renders a finished download as a bordered summary.
func Result(res *media.DownloadResult, path string) string {
	rows := []string{
		titleStyle.Render(res.Title),
		"",
		row("file", res.Filename),
		row("size", FormatSize(res.Size)),
		row("path", path),
		row("link", linkStyle.Render(res.DownloadURL)),
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

// Error renders a failed download with its error kind.
func Error(err error) string {
	return errorStyle.Render("✗ "+media.KindOf(err).String()) + " " + err.Error()
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
