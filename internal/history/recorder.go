// Package history keeps the durable, append-only log of completed
// transfers and batch runs.
package history

import (
	"context"
	"log/slog"

	"github.com/stablepay/stablepay/internal/domain"
)

// Recorder is the bookkeeping contract consumed by the orchestration
// core. Writes are appends or single-record status updates keyed by id,
// never structural rewrites.
type Recorder interface {
	AppendRecord(ctx context.Context, record *domain.TransactionRecord) error
	UpdateRecordStatus(ctx context.Context, id string, status domain.RecordStatus, signature string) error
	AppendBatch(ctx context.Context, run *domain.BatchRun) error
	ListRecords(ctx context.Context) ([]domain.TransactionRecord, error)
	ListBatches(ctx context.Context) ([]domain.BatchRun, error)
}

// Discard is a Recorder that keeps nothing.
type Discard struct{}

func (Discard) AppendRecord(context.Context, *domain.TransactionRecord) error { return nil }
func (Discard) UpdateRecordStatus(context.Context, string, domain.RecordStatus, string) error {
	return nil
}
func (Discard) AppendBatch(context.Context, *domain.BatchRun) error { return nil }
func (Discard) ListRecords(context.Context) ([]domain.TransactionRecord, error) {
	return nil, nil
}
func (Discard) ListBatches(context.Context) ([]domain.BatchRun, error) { return nil, nil }

// SyncedRecorder writes to a local store and mirrors appends to a remote
// sink on a best-effort basis. A payment that succeeded on-ledger is
// reported as success even if its backend audit copy failed to sync.
type SyncedRecorder struct {
	store  Recorder
	sink   *RemoteSink
	logger *slog.Logger
}

// NewSynced composes a local store with an optional remote sink.
func NewSynced(store Recorder, sink *RemoteSink, logger *slog.Logger) *SyncedRecorder {
	return &SyncedRecorder{store: store, sink: sink, logger: logger.With("component", "history")}
}

func (r *SyncedRecorder) AppendRecord(ctx context.Context, record *domain.TransactionRecord) error {
	if err := r.store.AppendRecord(ctx, record); err != nil {
		return err
	}
	if r.sink != nil {
		if err := r.sink.PushRecord(ctx, record); err != nil {
			r.logger.Warn("remote record sync failed", "record_id", record.ID, "error", err)
		}
	}
	return nil
}

func (r *SyncedRecorder) UpdateRecordStatus(ctx context.Context, id string, status domain.RecordStatus, signature string) error {
	return r.store.UpdateRecordStatus(ctx, id, status, signature)
}

func (r *SyncedRecorder) AppendBatch(ctx context.Context, run *domain.BatchRun) error {
	if err := r.store.AppendBatch(ctx, run); err != nil {
		return err
	}
	if r.sink != nil {
		if err := r.sink.PushBatch(ctx, run); err != nil {
			r.logger.Warn("remote batch sync failed", "batch_id", run.ID, "error", err)
		}
	}
	return nil
}

func (r *SyncedRecorder) ListRecords(ctx context.Context) ([]domain.TransactionRecord, error) {
	return r.store.ListRecords(ctx)
}

func (r *SyncedRecorder) ListBatches(ctx context.Context) ([]domain.BatchRun, error) {
	return r.store.ListBatches(ctx)
}
