package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pantry/internal/inventory"
	"pantry/internal/offline"
)

func newItemCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Read and change pantry items",
	}
	cmd.AddCommand(newItemLsCmd(a), newItemAddCmd(a), newItemToggleCmd(a), newItemDeleteCmd(a))
	return cmd
}

func newItemLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List items, including writes that have not synced yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tQTY\tSTOCK\tSYNC")
			for _, e := range s.queue.Mirror().Items() {
				if e.Deleted {
					continue
				}
				it := e.Value
				stock := "out"
				if it.InStock {
					stock = "in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Name, quantity(it.Quantity, it.Unit), stock, e.State)
			}
			return tw.Flush()
		},
	}
}

func newItemAddCmd(a *app) *cobra.Command {
	var in inventory.ItemInput
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an item to the pantry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = strings.Join(args, " ")
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewAddItem(s.homeID, in)
			})
		},
	}
	cmd.Flags().Float64VarP(&in.Quantity, "quantity", "q", 1, "quantity")
	cmd.Flags().StringVar(&in.Unit, "unit", "", "unit, e.g. kg")
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	return cmd
}

func newItemToggleCmd(a *app) *cobra.Command {
	var out bool
	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Mark an item in stock, or out of stock with --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewToggleItem(s.homeID, args[0], !out)
			})
		},
	}
	cmd.Flags().BoolVar(&out, "out", false, "mark out of stock")
	return cmd
}

func newItemDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.submit(cmd, func(s *session) offline.Mutation {
				return offline.NewDeleteItem(s.homeID, args[0])
			})
		},
	}
}

// submit opens a session, hands the mutation to the queue and reports
// whether it reached the server or is waiting for connectivity.
func (a *app) submit(cmd *cobra.Command, build func(*session) offline.Mutation) error {
	s, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	m := build(s)
	if err := s.queue.Submit(cmd.Context(), m); err != nil {
		return fmt.Errorf("%s: %w", m.Kind, err)
	}

	pending, err := s.queue.Pending(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.ID == m.ID {
			fmt.Fprintf(a.out, "queued %s %s (%d waiting)\n", m.Kind, m.EntityID, len(pending))
			return nil
		}
	}
	fmt.Fprintf(a.out, "%s %s\n", m.Kind, m.EntityID)
	return nil
}

func quantity(q float64, unit string) string {
	s := fmt.Sprintf("%g", q)
	if unit != "" {
		s += " " + unit
	}
	return s
}
