package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/models"
)

func newCacheCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics per feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\n\n", stats.TotalEntries, stats.TotalHits)

			features := make([]string, 0, len(stats.ByFeature))
			for f := range stats.ByFeature {
				features = append(features, f)
			}
			sort.Strings(features)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tTTL\tENTRIES\tHITS\tEXPIRED")
			for _, f := range features {
				s := stats.ByFeature[f]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", f, c.TTL(f), s.Count, s.Hits, s.ExpiredCount)
			}
			return w.Flush()
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired entries.\n", n)
			return nil
		},
	}

	var (
		feature string
		key     string
		all     bool
	)
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Delete cache entries by key, by feature, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if feature == "" && key == "" && !all {
				return errors.New("one of --feature, --key or --all is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Invalidate(cmd.Context(), feature, models.Fingerprint(key))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d entries.\n", n)
			return nil
		},
	}
	invalidateCmd.Flags().StringVar(&feature, "feature", "", "delete every entry of this feature")
	invalidateCmd.Flags().StringVar(&key, "key", "", "delete a single entry by fingerprint")
	invalidateCmd.Flags().BoolVar(&all, "all", false, "delete every entry")

	cmd.AddCommand(statsCmd, sweepCmd, invalidateCmd)
	return cmd
}
