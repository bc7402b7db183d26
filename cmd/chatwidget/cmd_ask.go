package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatwidget/internal/transcript"
	"chatwidget/internal/widget"
)

var askCheck bool

// askCmd sends a single question
var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Send one question and print the answer",
	Long: `Sends one question to the configured endpoint and prints the answer.

With no arguments the question is read from stdin, so multi-line input
can be piped in. On failure the same error text the widget shows is
printed and the command exits non-zero.

Examples:
  chatwidget ask "What are your opening hours?"
  echo "line one\nline two" | chatwidget ask
  chatwidget ask --check "ping?"`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askCheck, "check", false, "Check the endpoint is reachable before asking")
}

// errAskFailed marks a failed exchange whose text has already been printed.
var errAskFailed = errors.New("no answer")

func runAsk(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	question, err := readQuestion(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question is empty")
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if askCheck {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("endpoint %s is not reachable: %w", cfg.Backend.Endpoint, err)
		}
		logger.Debug("Endpoint reachable", zap.String("endpoint", cfg.Backend.Endpoint))
	}

	hs, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if hs != nil {
		defer hs.Close()
	}
	sessionID, audit, err := startSession(hs, "ask")
	if err != nil {
		return err
	}

	w := widget.New(client, widget.TextsFromConfig(cfg.Widget), widget.WithAudit(audit))
	if hs != nil {
		w.OnTurn(hs.Recorder(sessionID))
	}
	defer endSession(audit, w)

	logger.Info("Asking", zap.String("endpoint", cfg.Backend.Endpoint), zap.Int("chars", len(question)))
	out, err := w.Submit(ctx, question)
	if err != nil {
		return err
	}

	if out.Failed() {
		logger.Warn("Exchange failed", zap.Error(out.Err), zap.Duration("elapsed", out.Elapsed))
		fmt.Fprintln(cmd.ErrOrStderr(), out.Answer.Text)
		cmd.SilenceErrors = true
		return errAskFailed
	}

	logger.Debug("Answered", zap.Duration("elapsed", out.Elapsed))
	fmt.Fprintln(cmd.OutOrStdout(), formatAnswer(out.Answer))
	return nil
}

// readQuestion joins the arguments, or reads all of r when there are none.
func readQuestion(r io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	var sb strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read question from stdin: %w", err)
	}
	return sb.String(), nil
}

// formatAnswer returns the answer text; multi-line answers print verbatim.
func formatAnswer(m transcript.Message) string {
	return strings.TrimRight(m.Text, "\n")
}
