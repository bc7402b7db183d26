package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatwidget/internal/store"
)

var historyLimit int

// historyCmd manages stored transcripts
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored chat transcripts",
	Long: `Lists, shows, and deletes transcripts recorded while history.enabled
is set. The database path comes from history.database_path.

Subcommands:
  list          - List recent sessions
  show <id>     - Print a session's turns
  delete <id>   - Remove a session`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's turns",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to list")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to list")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

// errNoHistory is returned when the history database has never been created.
var errNoHistory = errors.New("no history database")

// openExistingHistory opens the configured database without creating it.
func openExistingHistory() (*store.HistoryStore, error) {
	path := cfg.History.DatabasePath
	if path == "" {
		return nil, errNoHistory
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s (enable history.enabled to record sessions)", errNoHistory, path)
		}
		return nil, err
	}
	return store.Open(path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	hs, err := openExistingHistory()
	if errors.Is(err, errNoHistory) {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved sessions found.")
		return nil
	}
	if err != nil {
		return err
	}
	defer hs.Close()

	sessions, err := hs.ListSessions(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved sessions found.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTITLE\tTURNS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Title, s.Turns)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	hs, err := openExistingHistory()
	if err != nil {
		return err
	}
	defer hs.Close()

	turns, err := hs.Turns(args[0])
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Session has no turns.")
		return nil
	}

	out := cmd.OutOrStdout()
	for i, t := range turns {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "[%d] %s\n", t.Number, t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "You: %s\n", t.Question)
		label := "Bot"
		if t.Failed {
			label = "Bot (error)"
		}
		fmt.Fprintf(out, "%s: %s\n", label, t.Answer)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	hs, err := openExistingHistory()
	if err != nil {
		return err
	}
	defer hs.Close()

	if err := hs.DeleteSession(args[0]); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
