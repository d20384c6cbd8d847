package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"megatips/internal/lifecycle"
)

func newSendCmd(o *options) *cobra.Command {
	var (
		req        lifecycle.TipRequest
		poll       time.Duration
		maxPoll    time.Duration
		memoLimit  int
		idempotent bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a tip through the relay and wait for confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.relay()
			if err != nil {
				return err
			}
			client.Idempotent = idempotent

			out := cmd.OutOrStdout()
			ctrl, err := lifecycle.New(lifecycle.Config{
				Sender:          client,
				Receipts:        client,
				MemoLimit:       memoLimit,
				PollInterval:    &poll,
				MaxPollInterval: maxPoll,
				OnChange: func(s lifecycle.Status) {
					fmt.Fprintln(out, s.String())
				},
			})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			ctx, cancel := o.context(cmd)
			defer cancel()

			st, err := ctrl.Submit(ctx, req)
			if err != nil {
				return err
			}
			if st.Kind == lifecycle.StatusPending {
				if st, err = ctrl.Wait(ctx); err != nil {
					return fmt.Errorf("transaction %s still pending: %w", st.TransactionHash, err)
				}
			}
			if st.Kind == lifecycle.StatusError {
				return fmt.Errorf("%s", st.Message)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Recipient, "to", "t", "", "Recipient address.")
	f.StringVarP(&req.AmountEth, "amount", "a", "0.01", "Amount in ETH.")
	f.StringVarP(&req.Memo, "memo", "m", "", "Optional memo.")
	f.IntVar(&memoLimit, "memo-limit", envInt("MEGAETH_RELAY_MEMOLIMIT", lifecycle.DefaultMemoLimit), "Maximum memo length in characters.")
	f.DurationVar(&poll, "poll", lifecycle.DefaultPollInterval, "Delay between receipt checks; 0 polls back to back.")
	f.DurationVar(&maxPoll, "max-poll", 0, "Upper bound for the receipt check backoff.")
	f.BoolVar(&idempotent, "idempotent", true, "Attach an idempotency key to the request.")

	return cmd
}
