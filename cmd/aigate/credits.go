package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/ledger"
	"github.com/pario-ai/aigate/pkg/models"
)

func newCreditsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant user credits",
	}

	open := func() (*ledger.SQLiteLedger, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		return ledger.New(cfg.DBPath)
	}

	balanceCmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's credit buckets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			acct, err := l.Account(cmd.Context(), args[0])
			if errors.Is(err, ledger.ErrAccountNotFound) {
				fmt.Printf("No credit account for %s.\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			printAccount(acct)
			return nil
		},
	}

	var (
		bucket      string
		description string
	)
	grantCmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Add credits to one of a user's buckets",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			l, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			acct, err := l.Grant(cmd.Context(), args[0], models.CreditBucket(bucket), amount, description)
			if err != nil {
				return err
			}
			printAccount(acct)
			return nil
		},
	}
	grantCmd.Flags().StringVar(&bucket, "bucket", string(models.BucketPurchased), "bucket to credit: monthly, purchased or bonus")
	grantCmd.Flags().StringVar(&description, "description", "cli grant", "journal description")

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show a user's credit journal, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			txs, err := l.Transactions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				fmt.Println("No transactions.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tAMOUNT\tBALANCE\tFEATURE\tDESCRIPTION")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%+d\t%d\t%s\t%s\n",
					tx.CreatedAt.Local().Format("2006-01-02 15:04:05"), tx.Amount, tx.BalanceAfter, tx.Feature, tx.Description)
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "maximum rows, 0 for all")

	cmd.AddCommand(balanceCmd, grantCmd, historyCmd)
	return cmd
}

func printAccount(acct models.CreditAccount) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", acct.UserID)
	fmt.Fprintf(w, "Monthly:\t%d\n", acct.MonthlyCredits)
	fmt.Fprintf(w, "Bonus:\t%d\n", acct.BonusCredits)
	fmt.Fprintf(w, "Purchased:\t%d\n", acct.PurchasedCredits)
	fmt.Fprintf(w, "Total:\t%d\n", acct.TotalCredits)
	_ = w.Flush()
}
