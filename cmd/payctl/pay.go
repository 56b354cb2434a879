package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
)

var (
	payTo     string
	payAmount string
	payAsset  string
	payMemo   string
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Send a single stablecoin transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(payAmount)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid --amount")
		}

		tc, err := newToolchain()
		if err != nil {
			return err
		}
		defer tc.close()

		intent := domain.PaymentIntent{
			Sender:    tc.keypair.PublicKey().String(),
			Recipient: payTo,
			Amount:    amount,
			Asset:     payAsset,
			Memo:      payMemo,
		}
		fmt.Printf("Sending %s %s to %s\n", intent.Amount, intent.Asset, intent.Recipient)

		record, err := tc.orchestrator().Pay(cmd.Context(), intent)
		if record != nil && record.Signature != "" {
			fmt.Println("Signature:", record.Signature)
		}
		if err != nil {
			if errors.IsIndeterminate(err) {
				fmt.Println("Status: pending (confirmation window expired; re-check with the signature above)")
			}
			return err
		}
		fmt.Println("Status: confirmed")
		return nil
	},
}

func init() {
	payCmd.Flags().StringVar(&payTo, "to", "", "recipient wallet address")
	payCmd.Flags().StringVar(&payAmount, "amount", "", "amount in human units, e.g. 12.50")
	payCmd.Flags().StringVar(&payAsset, "asset", "USDC", "asset symbol")
	payCmd.Flags().StringVar(&payMemo, "memo", "", "optional memo attached to the transfer")
	payCmd.MarkFlagRequired("to")
	payCmd.MarkFlagRequired("amount")
}
