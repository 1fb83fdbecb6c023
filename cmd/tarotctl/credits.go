package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arcanadesk/tarot/internal/credits"
)

var (
	grantReason string
	grantKey    string
	showLimit   int
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and grant user credits",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Add credits to a user's balance",
	Long: `Add credits to a user's balance. With --key, repeating the command
does not grant twice.

Example:
  tarotctl credits grant 7f3c 10 --reason promo --key promo-7f3c`,
	Args: cobra.ExactArgs(2),
	RunE: runCreditsGrant,
}

var creditsShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's balance and recent transactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsShow,
}

func init() {
	creditsGrantCmd.Flags().StringVar(&grantReason, "reason", "manual", "Reason recorded in the ledger")
	creditsGrantCmd.Flags().StringVar(&grantKey, "key", "", "Idempotency key")
	creditsShowCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of transactions to list")
	creditsCmd.AddCommand(creditsGrantCmd, creditsShowCmd)
	rootCmd.AddCommand(creditsCmd)
}

type balanceView struct {
	UserID       string                `json:"userId" yaml:"userId"`
	Balance      int64                 `json:"balance" yaml:"balance"`
	Transactions []credits.Transaction `json:"transactions,omitempty" yaml:"transactions,omitempty"`
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	var amount int64
	if _, err := fmt.Sscan(args[1], &amount); err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}

	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := credits.NewLedger(db, newLogger(cmd))
	b, err := ledger.Grant(cmd.Context(), args[0], amount, "cli:"+grantReason, grantKey)
	if err != nil {
		return err
	}
	v := balanceView{UserID: args[0], Balance: b}
	return render(cmd.OutOrStdout(), v, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s now has %d credits\n", v.UserID, v.Balance)
		return err
	})
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := credits.NewLedger(db, newLogger(cmd))
	b, err := ledger.Balance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	txs, err := ledger.History(cmd.Context(), args[0], showLimit)
	if err != nil {
		return err
	}
	v := balanceView{UserID: args[0], Balance: b, Transactions: txs}
	return render(cmd.OutOrStdout(), v, func(w io.Writer) error {
		fmt.Fprintf(w, "%s: %d credits\n\n", v.UserID, v.Balance)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tAMOUNT\tBALANCE\tREASON")
		for _, tx := range v.Transactions {
			fmt.Fprintf(tw, "%s\t%+d\t%d\t%s\n", tx.CreatedAt, tx.Amount, tx.BalanceAfter, tx.Reason)
		}
		return tw.Flush()
	})
}
