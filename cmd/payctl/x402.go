package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/x402"
)

var x402MaxAmount string

var x402Cmd = &cobra.Command{
	Use:   "x402",
	Short: "Pay for HTTP resources gated behind 402 challenges",
}

var x402GetCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Fetch a paid resource, paying its challenge if confirmed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain()
		if err != nil {
			return err
		}
		defer tc.close()

		opts := []x402.Option{x402.WithRecorder(tc.recorder)}
		if x402MaxAmount != "" {
			max, err := decimal.NewFromString(x402MaxAmount)
			if err != nil {
				return errors.Wrap(err, errors.KindValidation, "invalid --max-amount")
			}
			opts = append(opts, x402.WithMaxAmount(max))
		}
		client := x402.NewClient(tc.builder, tc.gateway, tc.keypair.PublicKey().String(), cfg.Network, logger, opts...)

		requirement, err := client.Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Resource requires %s on %s\n", requirement.DisplayAmount(), requirement.Network)

		result, err := client.Pay(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println("Payment signature:", result.Details.Signature)
		fmt.Println(string(result.Content))
		return nil
	},
}

func init() {
	x402GetCmd.Flags().StringVar(&x402MaxAmount, "max-amount", "", "refuse challenges above this amount, in human units")
	x402Cmd.AddCommand(x402GetCmd)
}
