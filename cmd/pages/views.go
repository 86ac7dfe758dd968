package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/Schwaller/tradery/internal/cache"
)

// NewPagesTable creates the table for the page inspector.
func NewPagesTable() table.Model {
	columns := []table.Column{
		{Title: "Key", Width: 46},
		{Title: "State", Width: 10},
		{Title: "Consumers", Width: 10},
		{Title: "Records", Width: 9},
		{Title: "Progress", Width: 9},
		{Title: "Error", Width: 28},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(16),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	t.SetStyles(s)

	return t
}

// UpdatePageRows replaces the table rows with the latest snapshot. The
// snapshot arrives pre-sorted by key, so row order is stable across polls.
func UpdatePageRows(t table.Model, pages []cache.PageInfo) table.Model {
	rows := make([]table.Row, 0, len(pages))

	for _, p := range pages {
		rows = append(rows, table.Row{
			p.Key,
			FormatState(p.State),
			FormatConsumers(p),
			fmt.Sprintf("%d", p.Records),
			FormatProgress(p.Progress),
			p.Error,
		})
	}

	t.SetRows(rows)

	return t
}

// FormatConsumers renders the consumer count with labels when they fit.
func FormatConsumers(p cache.PageInfo) string {
	if len(p.ConsumerLabels) == 0 {
		return fmt.Sprintf("%d", p.Consumers)
	}

	labels := strings.Join(p.ConsumerLabels, ",")
	if len(labels) > 8 {
		labels = labels[:8]
	}

	return fmt.Sprintf("%d %s", p.Consumers, labels)
}

// FormatProgress renders percent progress, or dots when the total is
// unknowable.
func FormatProgress(progress int) string {
	if progress < 0 {
		return "..."
	}

	return fmt.Sprintf("%d%%", progress)
}

// RenderEvents renders the event history for the detail view, oldest first.
func RenderEvents(key string, events []cache.Event) string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render(fmt.Sprintf("Events - %s", key)))
	s.WriteString("\n\n")

	if len(events) == 0 {
		s.WriteString("No events recorded.\n")
		return s.String()
	}

	for _, ev := range events {
		s.WriteString(fmt.Sprintf("%s  %-20s %s\n",
			ev.Time.Format("15:04:05.000"),
			ev.Type,
			ev.Message,
		))
	}

	return s.String()
}
