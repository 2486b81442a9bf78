package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pantry/internal/offline"
)

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show writes waiting to reach the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			pending, err := s.queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(a.out, "queue is empty")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tENTITY\tAGE\tRETRIES\tLAST ERROR")
			for _, m := range pending {
				age := time.Since(m.CreatedAt).Truncate(time.Second)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", m.ID, m.Kind, m.EntityID, age, m.RetryCount, m.LastError)
			}
			return tw.Flush()
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued writes now, or keep syncing with --watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if watch {
				fmt.Fprintln(a.out, "syncing until interrupted")
				return s.monitor.Run(ctx)
			}
			if !s.monitor.Online() {
				return errors.New("server unreachable, writes stay queued")
			}
			res, err := s.queue.Process(ctx)
			if err != nil && !errors.Is(err, offline.ErrQueueBusy) {
				return err
			}
			fmt.Fprintf(a.out, "sent %d, retrying %d, dropped %d\n", res.Sent, res.Retried, res.Dropped)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "probe the server and sync until interrupted")
	return cmd
}
