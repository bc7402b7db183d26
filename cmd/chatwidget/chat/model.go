// Package chat provides the interactive terminal chat widget.
package chat

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"chatwidget/cmd/chatwidget/ui"
	"chatwidget/internal/config"
	"chatwidget/internal/logging"
	"chatwidget/internal/store"
	"chatwidget/internal/transcript"
	"chatwidget/internal/widget"
)

// Config wires the model to its collaborators.
type Config struct {
	Widget        *widget.Widget
	AssistantName string
	Render        string // config.RenderMarkdown or config.RenderPlain
	Endpoint      string // shown in the header
	History       *store.HistoryStore
	Styles        *ui.Styles
}

// answerMsg carries the settled backend call for one exchange.
type answerMsg struct {
	ex     *widget.Exchange
	answer string
	err    error
}

// configMsg delivers a reloaded config from the watcher.
type configMsg struct {
	cfg *config.Config
}

// ConfigReloaded wraps a reloaded config for Program.Send.
func ConfigReloaded(cfg *config.Config) tea.Msg {
	return configMsg{cfg: cfg}
}

type keyMap struct {
	Send    key.Binding
	Newline key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Newline: key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"), key.WithHelp("alt+enter", "newline")),
		Cancel:  key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "stop")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("ctrl+c", "quit")),
	}
}

// Model is the Bubble Tea model for the chat widget.
type Model struct {
	widget        *widget.Widget
	history       *store.HistoryStore
	assistantName string
	renderMode    string
	endpoint      string

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	keys     keyMap
	styles   ui.Styles

	markdown *ui.MarkdownRenderer
	cache    *ui.RenderCache

	ctx     context.Context
	cancel  context.CancelFunc // in-flight request
	pending *widget.Exchange
	notice  string

	width  int
	height int
	ready  bool
	log    *logging.Logger

	// changed is set by the transcript subscription and cleared once the
	// viewport has been re-rendered.
	changed *atomic.Bool
}

// New creates the chat model.
func New(cfg Config) Model {
	styles := ui.DefaultStyles()
	if cfg.Styles != nil {
		styles = *cfg.Styles
	}
	name := cfg.AssistantName
	if name == "" {
		name = "Assistant"
	}
	render := cfg.Render
	if render == "" {
		render = config.RenderMarkdown
	}

	ta := textarea.New()
	ta.Placeholder = "Ask a question... (Enter to send, Alt+Enter for a new line)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 8192
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		widget:        cfg.Widget,
		history:       cfg.History,
		assistantName: name,
		renderMode:    render,
		endpoint:      cfg.Endpoint,
		textarea:      ta,
		viewport:      viewport.New(80, 20),
		spinner:       sp,
		keys:          defaultKeyMap(),
		styles:        styles,
		cache:         ui.NewRenderCache(512),
		ctx:           context.Background(),
		log:           logging.Get(logging.CategoryUI),
		changed:       new(atomic.Bool),
	}
	changed := m.changed
	cfg.Widget.Transcript().Subscribe(func(transcript.Message, transcript.Event) {
		changed.Store(true)
	})
	if render == config.RenderMarkdown {
		m.markdown = ui.NewMarkdownRenderer(styles.Theme, 76)
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Waiting reports whether a request is in flight.
func (m Model) Waiting() bool {
	return m.widget.State() == widget.Waiting
}
