package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run multi-recipient payment batches",
}

var batchName string

// runFile is the on-disk shape of a batch, e.g. a payroll run. Items
// name either a wallet directly or a stored payee; an explicit amount
// overrides the payee's default.
type runFile struct {
	Name  string `yaml:"name"`
	Items []struct {
		Payee     string `yaml:"payee,omitempty"`
		Recipient string `yaml:"recipient,omitempty"`
		Amount    string `yaml:"amount,omitempty"`
		Memo      string `yaml:"memo,omitempty"`
	} `yaml:"items"`
}

var batchRunCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Execute the batch described by a run file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "reading run file")
		}
		var file runFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return errors.Wrap(err, errors.KindValidation, "parsing run file")
		}

		tc, err := newToolchain()
		if err != nil {
			return err
		}
		defer tc.close()

		intents, err := resolveItems(cmd.Context(), file, tc.keypair.PublicKey().String())
		if err != nil {
			return err
		}

		name := file.Name
		if batchName != "" {
			name = batchName
		}
		run := domain.NewBatchRun(name, intents)
		fmt.Printf("Batch %q (%s): %d items\n", run.Name, run.ID, len(run.Items))
		if err := tc.orchestrator().Run(cmd.Context(), run); err != nil {
			return err
		}

		for i, item := range run.Items {
			line := fmt.Sprintf("  [%d] %s %s -> %s: %s", i, item.Intent.Amount, item.Intent.Asset, item.Intent.Recipient, item.Status)
			if item.Record != nil {
				if item.Record.Signature != "" {
					line += " " + item.Record.Signature
				}
				if item.Record.Error != "" {
					line += " (" + item.Record.Error + ")"
				}
			}
			fmt.Println(line)
		}
		fmt.Println("Batch status:", run.Status)
		if failed := run.FailedItems(); len(failed) > 0 {
			fmt.Println("Failed items:", failed)
		}
		return runOutcomeError(run)
	},
}

// runOutcomeError maps the aggregate to the process exit: anything but
// full completion exits non-zero.
func runOutcomeError(run *domain.BatchRun) error {
	if run.Status == domain.BatchCompleted {
		return nil
	}
	return errors.Newf(errors.KindSubmissionFailed, "batch %q finished %s, failed items %v",
		run.Name, run.Status, run.FailedItems())
}

// resolveItems turns run-file entries into concrete intents. Payee
// references require a configured backend; amounts resolve to the
// explicit override or the payee default, whichever is set.
func resolveItems(ctx context.Context, file runFile, sender string) ([]domain.PaymentIntent, error) {
	var payees map[string]domain.Payee
	intents := make([]domain.PaymentIntent, 0, len(file.Items))
	for i, item := range file.Items {
		recipient := item.Recipient
		amountSrc := item.Amount

		if item.Payee != "" {
			if payees == nil {
				var err error
				if payees, err = fetchPayees(ctx); err != nil {
					return nil, err
				}
			}
			payee, ok := payees[item.Payee]
			if !ok {
				return nil, errors.Newf(errors.KindValidation, "item %d: unknown payee %q", i, item.Payee)
			}
			recipient = payee.Wallet
			if amountSrc == "" {
				amountSrc = payee.DefaultAmount.String()
			}
		}
		if amountSrc == "" {
			return nil, errors.Newf(errors.KindValidation, "item %d: no amount and no payee default", i)
		}
		amount, err := decimal.NewFromString(amountSrc)
		if err != nil {
			return nil, errors.Newf(errors.KindValidation, "item %d: invalid amount %q", i, amountSrc)
		}
		intents = append(intents, domain.PaymentIntent{
			Sender:    sender,
			Recipient: recipient,
			Amount:    amount,
			Asset:     "USDC",
			Memo:      item.Memo,
		})
	}
	return intents, nil
}

func fetchPayees(ctx context.Context) (map[string]domain.Payee, error) {
	if cfg.BackendURL == "" {
		return nil, errors.Configuration("run file references payees but no backend_url is configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BackendURL+"/api/v1/payees", nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "building payee request")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindHistory, "fetching payees")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.KindHistory, "fetching payees: backend returned %d", resp.StatusCode)
	}
	var list []domain.Payee
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.Wrap(err, errors.KindHistory, "decoding payees")
	}
	byName := make(map[string]domain.Payee, len(list))
	for _, p := range list {
		byName[p.Name] = p
	}
	return byName, nil
}

func init() {
	batchRunCmd.Flags().StringVar(&batchName, "name", "", "override the run name from the file")
	batchCmd.AddCommand(batchRunCmd)
}
