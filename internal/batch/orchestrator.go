// Package batch executes named payment runs one item at a time.
package batch

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stablepay/stablepay/internal/builder"
	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/history"
	"github.com/stablepay/stablepay/internal/signing"
	"github.com/stablepay/stablepay/internal/submitter"
)

var batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stablepay_batch_items_total",
	Help: "Batch items by terminal status",
}, []string{"status"})

// Orchestrator sequences build -> sign -> submit across the items of a
// run. Items are processed strictly in order: signing is a single-actor
// bottleneck, so item i+1 does not start until item i is terminal.
type Orchestrator struct {
	builder   *builder.Builder
	gateway   signing.Gateway
	submitter *submitter.Submitter
	recorder  history.Recorder
	logger    *slog.Logger
}

// New wires an Orchestrator. The recorder may be history.Discard when no
// bookkeeping is wanted.
func New(b *builder.Builder, g signing.Gateway, s *submitter.Submitter, r history.Recorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		builder:   b,
		gateway:   g,
		submitter: s,
		recorder:  r,
		logger:    logger.With("component", "batch"),
	}
}

// Run executes a batch. Validation is the only all-or-nothing gate: any
// invalid item rejects the whole run before a single transaction is
// built. From then on there is no atomicity: a failure on item k does
// not roll back or halt; the run proceeds to item k+1 and the aggregate
// reports the failed subset for remediation.
func (o *Orchestrator) Run(ctx context.Context, run *domain.BatchRun) error {
	if err := o.validate(run); err != nil {
		return err
	}

	run.Status = domain.BatchProcessing
	logger := o.logger.With("batch_id", run.ID, "batch_name", run.Name)

	for i := range run.Items {
		if ctx.Err() != nil {
			logger.Warn("run abandoned, remaining items left queued", "next_item", i)
			break
		}

		item := &run.Items[i]
		item.Status = domain.ItemProcessing

		record, _ := o.processItem(ctx, item.Intent, run.ID, logger.With("item", i))
		item.Record = record
		if record.Status == domain.RecordConfirmed {
			item.Status = domain.ItemCompleted
		} else {
			item.Status = domain.ItemFailed
		}
		batchItemsTotal.WithLabelValues(string(item.Status)).Inc()

		// Bookkeeping is best effort; a payment that settled on-ledger
		// stays settled even when its audit copy does not.
		if err := o.recorder.AppendRecord(ctx, record); err != nil {
			logger.Error("recording item failed", "item", i, "error", err)
		}
	}

	run.Status = run.DeriveStatus()
	if err := o.recorder.AppendBatch(ctx, run); err != nil {
		logger.Error("recording batch failed", "error", err)
	}
	logger.Info("run finished", "status", run.Status, "failed_items", run.FailedItems())
	return nil
}

// Pay executes a single intent as a one-item unnamed run and returns its
// record. The error, when non-nil, is the typed failure from the step
// that stopped the payment, so callers can branch on its kind.
func (o *Orchestrator) Pay(ctx context.Context, intent domain.PaymentIntent) (*domain.TransactionRecord, error) {
	run := domain.NewBatchRun("", []domain.PaymentIntent{intent})
	run.ID = "" // direct payments carry no batch tag
	if err := o.validate(run); err != nil {
		return nil, err
	}
	record, err := o.processItem(ctx, intent, "", o.logger)
	if appendErr := o.recorder.AppendRecord(ctx, record); appendErr != nil {
		o.logger.Error("recording payment failed", "error", appendErr)
	}
	return record, err
}

// validate fails closed before any transaction is built.
func (o *Orchestrator) validate(run *domain.BatchRun) error {
	if len(run.Items) == 0 {
		return errors.Validation("run has no items")
	}
	for i, item := range run.Items {
		if item.Intent.Recipient == "" {
			return errors.Newf(errors.KindValidation, "item %d: missing recipient", i)
		}
		asset, err := o.builder.ResolveAsset(item.Intent.Asset)
		if err != nil {
			return errors.Wrap(err, errors.KindValidation, "item validation failed").WithContext("item", i)
		}
		if _, err := builder.AmountToBaseUnits(item.Intent.Amount, asset.Decimals); err != nil {
			return errors.Wrap(err, errors.KindValidation, "item validation failed").WithContext("item", i)
		}
	}
	return nil
}

// processItem drives one intent to a terminal record. Build, sign and
// submit are strictly sequential; at most one transaction is in flight
// for the item at any time. The returned error is nil only when the
// record is confirmed, and otherwise carries the typed failure of the
// step that stopped the item.
func (o *Orchestrator) processItem(ctx context.Context, intent domain.PaymentIntent, batchID string, logger *slog.Logger) (*domain.TransactionRecord, error) {
	record := domain.NewTransactionRecord(intent, batchID)

	built, err := o.builder.Build(ctx, intent)
	if err != nil {
		logger.Error("build failed", "error", err)
		record.Status = domain.RecordFailed
		record.Error = err.Error()
		return record, err
	}

	signed, err := o.gateway.Sign(ctx, built.Tx)
	if err != nil {
		if errors.IsUserRejected(err) {
			logger.Info("signing declined")
			record.Status = domain.RecordRejected
		} else {
			logger.Error("signing failed", "error", err)
			record.Status = domain.RecordFailed
		}
		record.Error = err.Error()
		return record, err
	}

	// A signature that resolves after the caller abandoned the attempt
	// is settled but discarded: logged, never submitted.
	if ctx.Err() != nil {
		logger.Warn("signed transaction discarded for abandoned attempt")
		record.Status = domain.RecordRejected
		record.Error = "attempt abandoned before submission"
		return record, errors.Wrap(ctx.Err(), errors.KindUserRejected, "attempt abandoned before submission")
	}

	receipt, err := o.submitter.Submit(ctx, signed, built.Checkpoint)
	switch receipt.Outcome {
	case submitter.OutcomeConfirmed:
		record.Status = domain.RecordConfirmed
		record.Signature = receipt.Signature.String()
		return record, nil
	case submitter.OutcomeTimedOut:
		// Indeterminate, not lost: keep the signature for re-query.
		record.Status = domain.RecordPending
		record.Signature = receipt.Signature.String()
		record.Error = err.Error()
		return record, err
	default:
		record.Status = domain.RecordFailed
		record.Error = err.Error()
		return record, err
	}
}
