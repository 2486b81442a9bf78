package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pantry/internal/inventory"
	"pantry/internal/offline"
)

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Read and change shopping lists",
	}
	cmd.AddCommand(
		newListLsCmd(a),
		newListCreateCmd(a),
		newListAddItemCmd(a),
		newListToggleItemCmd(a),
		newListDeleteItemCmd(a),
	)
	return cmd
}

func newListLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [list-id]",
		Short: "Show lists, or the entries of one list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			mirror := s.queue.Mirror()
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			if len(args) == 0 {
				fmt.Fprintln(tw, "ID\tNAME\tDONE\tSYNC")
				for _, e := range mirror.Lists() {
					done, total := e.Value.Stats()
					fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", e.Value.ID, e.Value.Name, done, total, e.State)
				}
				return tw.Flush()
			}

			fmt.Fprintln(tw, "ID\tNAME\tQTY\tDONE\tSYNC")
			for _, e := range mirror.ListItems(args[0]) {
				if e.Deleted {
					continue
				}
				mark := " "
				if e.Value.Completed {
					mark = "x"
				}
				fmt.Fprintf(tw, "%s\t%s\t%g\t[%s]\t%s\n", e.Value.ID, e.Value.Name, e.Value.Quantity, mark, e.State)
			}
			return tw.Flush()
		},
	}
}

func newListCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a shopping list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewAddList(s.homeID, inventory.ListInput{Name: strings.Join(args, " ")})
			})
		},
	}
}

func newListAddItemCmd(a *app) *cobra.Command {
	var qty float64
	cmd := &cobra.Command{
		Use:   "add <list-id> <name>",
		Short: "Add an entry to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := inventory.ListItemInput{Name: strings.Join(args[1:], " "), Quantity: qty}
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewAddListItem(s.homeID, args[0], in)
			})
		},
	}
	cmd.Flags().Float64VarP(&qty, "quantity", "q", 1, "quantity")
	return cmd
}

func newListToggleItemCmd(a *app) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "check <list-id> <entry-id>",
		Short: "Check off a list entry, or uncheck it with --undo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewToggleListItem(s.homeID, args[0], args[1], !undo)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the entry not done")
	return cmd
}

func newListDeleteItemCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <list-id> <entry-id>",
		Short: "Remove an entry from a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewDeleteListItem(s.homeID, args[0], args[1])
			})
		},
	}
}
