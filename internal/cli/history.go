package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"megatips/internal/history"
)

func newHistoryCmd(o *options) *cobra.Command {
	var (
		opts  history.Options
		pages int
	)

	cmd := &cobra.Command{
		Use:   "history <recipient>",
		Short: "List recent tips sent to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.relay()
			if err != nil {
				return err
			}

			ctx, cancel := o.context(cmd)
			defer cancel()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BLOCK\tFROM\tAMOUNT\tMEMO\tTX")

			var total int
			for i := 0; pages <= 0 || i < pages; i++ {
				page, err := client.Tips(ctx, args[0], opts)
				if err != nil {
					return err
				}
				for _, tip := range page.Tips {
					fmt.Fprintf(tw, "%d\t%s\t%s ETH\t%s\t%s\n", tip.BlockNumber, tip.From, tip.AmountEth, tip.Memo, tip.TransactionHash)
				}
				total += len(page.Tips)

				if page.NextCursor == "" {
					break
				}
				opts.Cursor = page.NextCursor
				if pages > 0 && i == pages-1 {
					fmt.Fprintf(tw, "\nmore tips available, continue with --cursor %s\n", page.NextCursor)
				}
			}

			if err := tw.Flush(); err != nil {
				return err
			}
			if total == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tips yet.")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Cursor, "cursor", "", "Continue from a cursor returned by a previous call.")
	f.StringVar(&opts.FromBlock, "from-block", "", "Only include tips at or after this block (hex).")
	f.IntVar(&pages, "pages", 1, "Number of pages to fetch; 0 fetches all.")

	return cmd
}

func newReceiptCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <txHash>",
		Short: "Show the receipt of a tip transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.relay()
			if err != nil {
				return err
			}

			ctx, cancel := o.context(cmd)
			defer cancel()

			rec, err := client.TransactionReceipt(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return errors.New("transaction is not confirmed yet")
			}

			status := "success"
			if rec.Status == 0 {
				status = "reverted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transaction %s included in block %d (%s)\n", rec.TransactionHash, rec.BlockNumber, status)
			return nil
		},
	}
}
