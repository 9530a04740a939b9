package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhiwen0/zhiwen/internal/app"
)

var (
	askSessionID string
	askStream    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question",
	Long: `Ask answers one question and prints the answer with its sources.

Without --session a fresh session is created for the exchange. Pass
--session to continue an earlier conversation, and --stream to print the
answer as it is generated.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session id to continue")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "stream the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
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

	sessionID := askSessionID
	if sessionID == "" {
		sessionID, err = a.Memory.CreateSession(ctx, "", nil)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
	}

	if askStream {
		return streamAnswer(ctx, a, question, sessionID)
	}

	answer, sources, err := a.Engine.Ask(ctx, question, sessionID)
	if err != nil {
		return err
	}

	fmt.Println(answer)
	printSources(sources)
	fmt.Fprintf(os.Stderr, "\nsession: %s\n", sessionID)
	return nil
}

func streamAnswer(ctx context.Context, a *app.App, question, sessionID string) error {
	for fragment, err := range a.Engine.AskStream(ctx, question, sessionID) {
		if err != nil {
			return err
		}
		fmt.Print(fragment)
	}
	fmt.Println()
	fmt.Fprintf(os.Stderr, "\nsession: %s\n", sessionID)
	return nil
}

func printSources(sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, s := range sources {
		fmt.Printf("  %s\n", s)
	}
}
