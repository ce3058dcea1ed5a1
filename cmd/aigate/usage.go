package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/tracker"
)

func newUsageCmd(load configLoader) *cobra.Command {
	var (
		userID string
		since  time.Duration
		detail bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show billed usage by user, feature and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detail && userID == "" {
				return errors.New("--detail requires --user")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			ctx := cmd.Context()

			// Per-request view
			if detail {
				recs, err := tr.QueryByUser(ctx, userID, time.Now().Add(-since))
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No usage recorded.")
					return nil
				}
				total, err := tr.TotalCreditsByUser(ctx, userID, time.Now().Add(-since))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tFEATURE\tPROVIDER\tMODEL\tCREDITS\tPROMPT")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						r.CreatedAt.Local().Format("2006-01-02T15:04:05"), r.Feature, r.ProviderUsed, r.Model, r.CreditsCharged, r.PromptExcerpt)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Printf("\nTotal credits since %s: %d\n", time.Now().Add(-since).Format(time.RFC3339), total)
				return nil
			}

			summary, err := tr.Summary(ctx, userID)
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tFEATURE\tPROVIDER\tREQUESTS\tCREDITS")
			for _, s := range summary {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.UserID, s.Feature, s.Provider, s.RequestCount, s.TotalCredits)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "filter by user id")
	cmd.Flags().BoolVar(&detail, "detail", false, "list individual requests for --user")
	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "window for --detail")
	return cmd
}
