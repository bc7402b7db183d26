package chat

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"chatwidget/internal/widget"
)

const helpText = `Commands:
  /clear    start over with an empty transcript
  /history  list recent stored sessions
  /help     show this help
  /quit     exit
Keys: Enter sends, Alt+Enter or Ctrl+J adds a line, Ctrl+X stops a pending answer.`

// handleCommand runs a slash command. Unknown commands are reported and not
// sent to the backend.
func (m Model) handleCommand(input string) (Model, tea.Cmd, bool) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/quit", "/exit":
		m.quit()
		return m, tea.Quit, true

	case "/help":
		m.textarea.Reset()
		m.notice = helpText
		m.relayout()
		return m, nil, true

	case "/clear":
		m.textarea.Reset()
		if err := m.widget.Reset(); err != nil {
			if errors.Is(err, widget.ErrBusy) {
				m.notice = "Wait for the pending answer (or press Ctrl+X) before clearing."
			} else {
				m.notice = err.Error()
			}
		} else {
			m.notice = ""
			m.cache.Clear()
		}
		m.relayout()
		return m, nil, true

	case "/history":
		m.textarea.Reset()
		m.notice = m.historySummary()
		m.relayout()
		return m, nil, true
	}

	m.textarea.Reset()
	m.notice = fmt.Sprintf("Unknown command %s. Type /help for the list.", cmd)
	m.relayout()
	return m, nil, true
}

func (m Model) historySummary() string {
	if m.history == nil {
		return "History is disabled. Set history.enabled in the config to keep transcripts."
	}
	sessions, err := m.history.ListSessions(5)
	if err != nil {
		m.log.Error("list sessions: %v", err)
		return "Could not read history: " + err.Error()
	}
	if len(sessions) == 0 {
		return "No stored sessions yet."
	}
	var sb strings.Builder
	sb.WriteString("Recent sessions (chatwidget history show <id>):")
	for _, s := range sessions {
		fmt.Fprintf(&sb, "\n  %s  %s  %d turns", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Turns)
	}
	return sb.String()
}
