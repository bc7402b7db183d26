package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"chatwidget/cmd/chatwidget/ui"
	"chatwidget/internal/config"
	"chatwidget/internal/widget"
)

const (
	headerLines = 3
	footerLines = 2
	inputLines  = 5 // textarea height plus border
)

// Update implements tea.Model. Transcript changes made while handling msg
// are rendered into the viewport before returning.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	if nm, ok := next.(Model); ok && nm.changed.Swap(false) {
		nm.refresh()
		next = nm
	}
	return next, cmd
}

func (m Model) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quit()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Cancel):
			if m.cancel != nil {
				m.log.Info("user cancelled in-flight request")
				m.cancel()
			}
			return m, nil

		case key.Matches(msg, m.keys.Newline):
			m.textarea.InsertString("\n")
			return m, nil

		case key.Matches(msg, m.keys.Send):
			return m.submit()

		case msg.Type == tea.KeyPgUp, msg.Type == tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.finish(msg)
		return m, nil

	case configMsg:
		m.applyConfig(msg.cfg)
		return m, nil

	case spinner.TickMsg:
		if !m.Waiting() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles Enter: slash commands, then the widget's Begin.
func (m Model) submit() (tea.Model, tea.Cmd) {
	input := m.textarea.Value()
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "/") && !strings.Contains(trimmed, "\n") {
		if next, cmd, handled := m.handleCommand(trimmed); handled {
			return next, cmd
		}
	}

	ex, err := m.widget.Begin(input)
	switch {
	case errors.Is(err, widget.ErrEmptyInput):
		return m, nil
	case errors.Is(err, widget.ErrBusy):
		// Input stays editable while waiting; Enter is ignored.
		return m, nil
	case err != nil:
		m.notice = err.Error()
		return m, nil
	}

	m.textarea.Reset()
	m.notice = ""
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.pending = ex
	m.relayout()

	return m, tea.Batch(m.ask(ctx, ex), m.spinner.Tick)
}

// ask returns the command performing the backend call off the update loop.
func (m Model) ask(ctx context.Context, ex *widget.Exchange) tea.Cmd {
	w := m.widget
	return func() tea.Msg {
		answer, err := w.Ask(ctx, ex)
		return answerMsg{ex: ex, answer: answer, err: err}
	}
}

func (m *Model) finish(msg answerMsg) {
	out := m.widget.Finish(msg.ex, msg.answer, msg.err)
	if m.pending == msg.ex {
		if m.cancel != nil {
			m.cancel()
		}
		m.cancel = nil
		m.pending = nil
	}
	if out.Err != nil {
		m.log.Warn("exchange failed: %v", out.Err)
	}
}

func (m *Model) abort() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// quit cancels any pending request and settles its exchange as cancelled,
// since the program exits before the answer message arrives.
func (m *Model) quit() {
	m.abort()
	if m.pending != nil {
		m.widget.Finish(m.pending, "", context.Canceled)
		m.pending = nil
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	contentWidth := width - 4
	if contentWidth < 20 {
		contentWidth = 20
	}
	m.textarea.SetWidth(contentWidth)
	m.viewport.Width = contentWidth

	vpHeight := height - headerLines - footerLines - inputLines
	if m.notice != "" {
		vpHeight -= strings.Count(m.notice, "\n") + 1
	}
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Height = vpHeight

	if m.renderMode == config.RenderMarkdown && m.markdown.Width() != contentWidth-4 {
		m.markdown = ui.NewMarkdownRenderer(m.styles.Theme, contentWidth-4)
	}
	m.ready = true
	m.refresh()
}

func (m *Model) applyConfig(cfg *config.Config) {
	m.widget.SetTexts(widget.TextsFromConfig(cfg.Widget))
	if cfg.Widget.AssistantName != "" {
		m.assistantName = cfg.Widget.AssistantName
	}
	if cfg.Widget.Render != m.renderMode {
		m.renderMode = cfg.Widget.Render
		m.markdown = nil
		if m.renderMode == config.RenderMarkdown {
			m.markdown = ui.NewMarkdownRenderer(m.styles.Theme, m.viewport.Width-4)
		}
		m.cache.Clear()
	}
	m.log.Info("config reloaded")
	m.refresh()
}

// refresh re-renders the transcript into the viewport and sticks to the bottom.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// relayout recomputes sizes after the notice changes.
func (m *Model) relayout() {
	if m.ready {
		m.resize(m.width, m.height)
		return
	}
	m.refresh()
}
