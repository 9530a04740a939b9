package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhiwen0/zhiwen/internal/app"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List conversation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return fn(ctx, a)
}

func runSessions() error {
	return withApp(func(ctx context.Context, a *app.App) error {
		summaries, err := a.Memory.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if len(summaries) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tMESSAGES\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func runHistory(sessionID string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		msgs, err := a.Memory.GetHistory(ctx, sessionID, 50)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		for _, msg := range msgs {
			fmt.Printf("%s: %s\n\n", msg.Role.Label(), msg.Content)
		}
		return nil
	})
}
