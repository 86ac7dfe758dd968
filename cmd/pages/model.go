package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// Application states.
const (
	StatePageList = iota
	StateEventDetail
)

// pollInterval is the snapshot refresh cadence.
const pollInterval = time.Second

// Model is the Bubble Tea model for the page inspector.
type Model struct {
	state      int
	client     *apiClient
	pagesTable table.Model
	pageCount  int
	selected   string
	eventsView string
	err        error
	width      int
	height     int
}

// NewModel creates a new Model polling the given workbench server.
func NewModel(client *apiClient) Model {
	return Model{
		state:      StatePageList,
		client:     client,
		pagesTable: NewPagesTable(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchSnapshot(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchSnapshot polls the snapshot endpoint off the UI goroutine.
func (m Model) fetchSnapshot() tea.Cmd {
	client := m.client

	return func() tea.Msg {
		pages, err := client.Pages()
		if err != nil {
			return FetchErrorMsg{Err: err}
		}

		return SnapshotMsg{Pages: pages}
	}
}

// fetchEvents loads the event history for the selected page.
func (m Model) fetchEvents(key string) tea.Cmd {
	client := m.client

	return func() tea.Msg {
		events, err := client.PageEvents(key)
		if err != nil {
			return FetchErrorMsg{Err: err}
		}

		return EventsMsg{Key: key, Events: events}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			if m.state == StateEventDetail {
				m.state = StatePageList
				m.selected = ""
				m.eventsView = ""
			}

			return m, nil
		case "enter":
			if m.state == StatePageList {
				row := m.pagesTable.SelectedRow()
				if len(row) > 0 {
					m.selected = row[0]
					return m, m.fetchEvents(m.selected)
				}
			}

			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.pagesTable.SetWidth(msg.Width)
		m.pagesTable.SetHeight(msg.Height - 6)

		return m, nil

	case TickMsg:
		cmds := []tea.Cmd{m.fetchSnapshot(), tick()}
		if m.state == StateEventDetail && m.selected != "" {
			cmds = append(cmds, m.fetchEvents(m.selected))
		}

		return m, tea.Batch(cmds...)

	case SnapshotMsg:
		m.err = nil
		m.pageCount = len(msg.Pages)
		m.pagesTable = UpdatePageRows(m.pagesTable, msg.Pages)

		return m, nil

	case EventsMsg:
		m.err = nil
		m.eventsView = RenderEvents(msg.Key, msg.Events)
		m.state = StateEventDetail

		return m, nil

	case FetchErrorMsg:
		m.err = msg.Err

		return m, nil
	}

	if m.state == StatePageList {
		var cmd tea.Cmd
		m.pagesTable, cmd = m.pagesTable.Update(msg)

		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var s strings.Builder

	switch m.state {
	case StatePageList:
		s.WriteString(TitleStyle.Render(fmt.Sprintf("Tradery - Page Inspector (%d pages)", m.pageCount)))
		s.WriteString("\n\n")

		if m.err != nil {
			s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			s.WriteString("\n\n")
		}

		s.WriteString(m.pagesTable.View())
		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("Enter: events | q: quit"))

	case StateEventDetail:
		if m.err != nil {
			s.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			s.WriteString("\n\n")
		}

		s.WriteString(m.eventsView)
		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("Esc: back | q: quit"))
	}

	return s.String()
}
