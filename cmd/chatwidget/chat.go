package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"chatwidget/cmd/chatwidget/chat"
	"chatwidget/cmd/chatwidget/ui"
	"chatwidget/internal/backend"
	"chatwidget/internal/config"
	"chatwidget/internal/logging"
	"chatwidget/internal/store"
	"chatwidget/internal/transcript"
	"chatwidget/internal/widget"
)

// newClient builds the backend client from the loaded config.
func newClient(c *config.Config) (*backend.Client, error) {
	client, err := backend.New(
		backend.ProfileFromConfig(c.Backend),
		backend.WithTimeout(c.GetBackendTimeout()),
		backend.WithLogger(logging.Get(logging.CategoryBackend)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	return client, nil
}

// newWidget wires a widget to the configured backend.
func newWidget(c *config.Config, opts ...widget.Option) (*widget.Widget, error) {
	client, err := newClient(c)
	if err != nil {
		return nil, err
	}
	opts = append([]widget.Option{widget.WithLogger(logging.Get(logging.CategoryWidget))}, opts...)
	return widget.New(client, widget.TextsFromConfig(c.Widget), opts...), nil
}

// openHistory opens the history store when enabled. It returns nil, nil when
// history is off.
func openHistory(c *config.Config) (*store.HistoryStore, error) {
	if !c.History.Enabled {
		return nil, nil
	}
	hs, err := store.Open(c.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return hs, nil
}

// startSession opens a history session when hs is set and returns the
// audit logger scoped to it.
func startSession(hs *store.HistoryStore, surface string) (string, *logging.AuditLogger, error) {
	if hs == nil {
		audit := logging.Audit()
		audit.SessionStart(surface)
		return "", audit, nil
	}
	id, err := hs.StartSession(surface)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start history session: %w", err)
	}
	audit := logging.AuditWithSession(id)
	audit.SessionStart(surface)
	return id, audit, nil
}

// endSession records the session end with the number of completed turns.
func endSession(audit *logging.AuditLogger, w *widget.Widget) {
	turns := 0
	for _, m := range w.Transcript().Messages() {
		if m.Role == transcript.RoleUser {
			turns++
		}
	}
	audit.SessionEnd(turns)
}

// watchConfig starts a watcher that re-applies flags and hands valid
// reloads to apply. A missing config directory only disables live reload.
func watchConfig(ctx context.Context, apply func(*config.Config)) (*config.Watcher, error) {
	path := resolveConfigPath()
	watcher, err := config.NewWatcher(path,
		func(next *config.Config) {
			reapplyFlags(next)
			logging.Reconfigure(next.Logging)
			logging.Audit().ConfigReload(path, nil)
			apply(next)
		},
		func(err error) {
			logging.Get(logging.CategoryConfig).Warn("config reload rejected: %v", err)
			logging.Audit().ConfigReload(path, err)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher disabled", zap.Error(err))
	}
	return watcher, nil
}

// runInteractiveChat starts the interactive chat interface
func runInteractiveChat(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	hs, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if hs != nil {
		defer hs.Close()
	}
	sessionID, audit, err := startSession(hs, "tui")
	if err != nil {
		return err
	}

	w, err := newWidget(cfg, widget.WithAudit(audit))
	if err != nil {
		return err
	}
	if hs != nil {
		w.OnTurn(hs.Recorder(sessionID))
	}
	defer endSession(audit, w)

	styles := ui.NewStyles(ui.DetectTheme())
	model := chat.New(chat.Config{
		Widget:        w,
		AssistantName: cfg.Widget.AssistantName,
		Render:        cfg.Widget.Render,
		Endpoint:      cfg.Backend.Endpoint,
		History:       hs,
		Styles:        &styles,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watcher, err := watchConfig(watchCtx, func(next *config.Config) {
		p.Send(chat.ConfigReloaded(next))
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	_, err = p.Run()
	if sessionID != "" {
		fmt.Printf("Transcript saved as session %s\n", sessionID)
	}
	return err
}
