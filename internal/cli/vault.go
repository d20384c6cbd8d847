package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"megatips/internal/contracts"
	"megatips/internal/relay"
)

func newWithdrawCmd(o *options) *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw accumulated tips to the signing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			wei, err := contracts.ParseEther(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			if wei.Sign() <= 0 {
				return errors.New("amount must be greater than 0")
			}

			ctx, cancel := o.context(cmd)
			defer cancel()

			v, err := o.openVault(ctx, o)
			if err != nil {
				return err
			}
			if c, ok := v.(interface{ Close() }); ok {
				defer c.Close()
			}

			hash, err := v.Withdraw(ctx, wei)
			if errors.Is(err, contracts.ErrInsufficientBalance) {
				return fmt.Errorf("cannot withdraw %s ETH: %w", amount, err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "withdrew %s ETH in transaction %s\n", amount, hash.Hex())
			return nil
		},
	}

	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount in ETH.")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newBalanceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Print the tip balance held by the vault for an address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr common.Address
			switch {
			case len(args) == 1:
				if !common.IsHexAddress(args[0]) {
					return fmt.Errorf("invalid address %q", args[0])
				}
				addr = common.HexToAddress(args[0])
			case o.key != "":
				pk, err := relay.ParsePrivateKey(o.key)
				if err != nil {
					return err
				}
				addr = crypto.PubkeyToAddress(pk.PublicKey)
			default:
				return errors.New("pass an address or --key")
			}

			ctx, cancel := o.context(cmd)
			defer cancel()

			v, err := o.openVault(ctx, o)
			if err != nil {
				return err
			}
			if c, ok := v.(interface{ Close() }); ok {
				defer c.Close()
			}

			bal, err := v.Balance(ctx, addr)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ETH\n", addr.Hex(), contracts.FormatEther(bal))
			return nil
		},
	}
}
