package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/ledger"
)

func newCostsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Manage per-feature credit prices",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show stored prices and the config fallbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			l, err := ledger.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			stored, err := l.Costs(cmd.Context())
			if err != nil {
				return err
			}
			seen := make(map[string]bool, len(stored))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tCOST\tSOURCE")
			for _, fc := range stored {
				seen[fc.FeatureSlug] = true
				fmt.Fprintf(w, "%s\t%d\ttable\n", fc.FeatureSlug, fc.CreditCost)
			}
			fallbacks := cfg.CostDefaults()
			sort.Slice(fallbacks, func(i, j int) bool { return fallbacks[i].FeatureSlug < fallbacks[j].FeatureSlug })
			for _, fc := range fallbacks {
				if seen[fc.FeatureSlug] {
					continue
				}
				fmt.Fprintf(w, "%s\t%d\tconfig\n", fc.FeatureSlug, fc.CreditCost)
			}
			fmt.Fprintf(w, "*\t%d\tdefault\n", cfg.Costs.Default)
			return w.Flush()
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <feature> <cost>",
		Short: "Store the credit price of a feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid cost %q: %w", args[1], err)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			l, err := ledger.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			if err := l.SetCost(cmd.Context(), args[0], uint(cost)); err != nil {
				return err
			}
			fmt.Printf("%s now costs %d credits.\n", args[0], cost)
			return nil
		},
	}

	cmd.AddCommand(listCmd, setCmd)
	return cmd
}
