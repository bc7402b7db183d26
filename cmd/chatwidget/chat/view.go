package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chatwidget/cmd/chatwidget/ui"
	"chatwidget/internal/config"
	"chatwidget/internal/transcript"
)

func (m Model) renderTranscript() string {
	var sb strings.Builder

	for _, msg := range m.widget.Transcript().Messages() {
		switch msg.Role {
		case transcript.RoleUser:
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(m.wrap(msg.Text)))
			sb.WriteString("\n\n")

		default:
			sb.WriteString(m.styles.BotLabel.Render(m.assistantName) + "\n")
			sb.WriteString(m.renderBotMessage(msg))
			sb.WriteString("\n\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) renderBotMessage(msg transcript.Message) string {
	switch msg.Kind {
	case transcript.KindLoading:
		return m.spinner.View() + " " + m.styles.Loading.Render(msg.Text)
	case transcript.KindError:
		return m.styles.BotText.Render(m.styles.Error.Render(m.wrap(msg.Text)))
	}

	if m.renderMode != config.RenderMarkdown || m.markdown == nil {
		return m.styles.BotText.Render(m.wrap(msg.Text))
	}

	key := ui.ComputeKey(msg.ID, m.markdown.Width(), msg.Text)
	rendered := m.cache.GetOrCompute(key, func() string {
		text := msg.Text
		if msg.Preformatted() {
			text = ui.HardBreaks(text)
		}
		return m.markdown.Render(text)
	})
	return m.styles.BotText.Render(rendered)
}

// wrap soft-wraps plain text to the viewport width, keeping existing line breaks.
func (m Model) wrap(text string) string {
	width := m.viewport.Width - 4
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.styles.Content.Render(m.viewport.View()),
	}
	if m.notice != "" {
		sections = append(sections, m.styles.Notice.Render(m.notice))
	}
	sections = append(sections,
		m.styles.Input.Render(m.textarea.View()),
		m.renderFooter(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render(" chatwidget ")

	var status string
	if m.Waiting() {
		status = lipgloss.JoinHorizontal(lipgloss.Center, m.spinner.View(), " ", m.styles.Badge.Render("Waiting"))
	} else {
		status = m.styles.Success.Render("Ready")
	}

	headerLine := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
	endpoint := m.styles.Muted.Render(" " + m.endpoint)
	return lipgloss.JoinVertical(lipgloss.Left, headerLine, endpoint, m.styles.RenderDivider(m.width))
}

func (m Model) renderFooter() string {
	hotkeys := ""
	if m.Waiting() {
		hotkeys = "Ctrl+X: stop | "
	}
	hotkeys += "Enter: send | Alt+Enter: newline | PgUp/PgDn: scroll | /help | Ctrl+C: quit"
	return m.styles.Footer.Render(fmt.Sprintf("%d messages | %s", m.widget.Transcript().Len(), hotkeys))
}
