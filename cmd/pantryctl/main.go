// Package main is the entry point for pantryctl, a household-side client that
// chats with the assistant and edits the pantry through the offline queue.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pantry/internal/logging"
)

const (
	defaultURL       = "http://localhost:8080"
	defaultQueuePath = "pantry-queue.db"
)

type app struct {
	baseURL   string
	token     string
	queuePath string
	verbose   bool

	out io.Writer
	in  io.Reader
	log *zap.Logger
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pantryctl",
		Short:         "Talk to a pantry server from the household side",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			a.in = cmd.InOrStdin()
			if !a.verbose {
				a.log = zap.NewNop()
				return nil
			}
			log, err := logging.New("debug", "console")
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.baseURL, "url", envOr("PANTRY_URL", defaultURL), "server base URL")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("PANTRY_TOKEN"), "access token from /login")
	root.PersistentFlags().StringVar(&a.queuePath, "queue", envOr("PANTRY_QUEUE_PATH", defaultQueuePath), "offline queue database")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newChatCmd(a),
		newItemCmd(a),
		newListCmd(a),
		newQueueCmd(a),
		newSyncCmd(a),
	)
	return root
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pantryctl: %v\n", err)
		os.Exit(1)
	}
}
