package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/stablepay/stablepay/internal/batch"
	"github.com/stablepay/stablepay/internal/builder"
	"github.com/stablepay/stablepay/internal/config"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/history"
	"github.com/stablepay/stablepay/internal/ledger"
	"github.com/stablepay/stablepay/internal/signing"
	"github.com/stablepay/stablepay/internal/submitter"
)

var (
	cfgFile   string
	assumeYes bool
	verbose   bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "payctl",
	Short:         "Stablecoin business payments from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip the signing confirmation prompt")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(x402Cmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// toolchain is the wired orchestration stack shared by the payment
// commands.
type toolchain struct {
	builder   *builder.Builder
	keypair   *signing.KeypairGateway
	gateway   signing.Gateway
	submitter *submitter.Submitter
	recorder  history.Recorder
	store     *history.SQLiteStore
}

func (t *toolchain) close() {
	if t.store != nil {
		t.store.Close()
	}
}

func newToolchain() (*toolchain, error) {
	if cfg.KeypairPath == "" {
		return nil, errors.Configuration("no keypair configured; set keypair_path or STABLEPAY_KEYPAIR")
	}
	keypair, err := signing.LoadKeypairGateway(cfg.KeypairPath)
	if err != nil {
		return nil, err
	}

	mint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfiguration, "invalid usdc_mint")
	}

	ledgerClient := ledger.NewSolanaClient(cfg.RPCEndpoint)
	b := builder.New(ledgerClient, builder.Asset{Symbol: "USDC", Mint: mint, Decimals: builder.USDCDecimals})

	store, err := history.OpenSQLite(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}
	var sink *history.RemoteSink
	if cfg.BackendURL != "" {
		sink = history.NewRemoteSink(cfg.BackendURL)
	}

	var gateway signing.Gateway = keypair
	if !assumeYes {
		gateway = &confirmGateway{inner: keypair}
	}

	return &toolchain{
		builder:   b,
		keypair:   keypair,
		gateway:   gateway,
		submitter: submitter.New(ledgerClient, logger),
		recorder:  history.NewSynced(store, sink, logger),
		store:     store,
	}, nil
}

func (t *toolchain) orchestrator() *batch.Orchestrator {
	return batch.New(t.builder, t.gateway, t.submitter, t.recorder, logger)
}

// confirmGateway asks before forwarding to the real signer. Declining
// the prompt is a signing rejection, not an error.
type confirmGateway struct {
	inner signing.Gateway
}

func (g *confirmGateway) Sign(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	prompt := promptui.Prompt{
		Label:     "Sign and submit this transfer",
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if err == promptui.ErrAbort || err == promptui.ErrInterrupt || err == promptui.ErrEOF {
			return nil, errors.UserRejected("signing declined at prompt")
		}
		return nil, errors.Wrap(err, errors.KindInternal, "confirmation prompt failed")
	}
	return g.inner.Sign(ctx, tx)
}
