package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stablepay/stablepay/internal/domain"
)

var (
	// ErrSettleInProgress reports a concurrent settlement of the same proof.
	ErrSettleInProgress = stderrors.New("settlement in progress")
	// ErrPayeeNotFound reports an unknown payee.
	ErrPayeeNotFound = stderrors.New("payee not found")
)

// SettledPayment is one settled x402 proof, keyed by its transaction
// signature.
type SettledPayment struct {
	Signature       string    `json:"signature"`
	Payer           string    `json:"payer"`
	AmountBaseUnits uint64    `json:"amount_base_units"`
	Mint            string    `json:"mint"`
	Resource        string    `json:"resource"`
	SettledAt       time.Time `json:"settled_at"`
}

// Store is the server's postgres persistence: settled proofs, synced
// client records, and the payee registry.
type Store struct {
	db *pgxpool.Pool
}

// NewStore connects and pings the database.
func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// LookupSettlement returns a completed settlement for the signature, if
// one exists. A pending reservation reports ErrSettleInProgress.
func (s *Store) LookupSettlement(ctx context.Context, signature string) (*SettledPayment, error) {
	var p SettledPayment
	var status string
	err := s.db.QueryRow(ctx,
		"SELECT signature, payer, amount_base_units, mint, resource, status, settled_at FROM settlements WHERE signature = $1",
		signature,
	).Scan(&p.Signature, &p.Payer, &p.AmountBaseUnits, &p.Mint, &p.Resource, &status, &p.SettledAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("settlement lookup failed: %w", err)
	}
	if status != "completed" {
		return nil, ErrSettleInProgress
	}
	return &p, nil
}

// ReserveSettlement marks a proof as in flight. A duplicate key means
// another request holds the reservation.
func (s *Store) ReserveSettlement(ctx context.Context, signature, resource string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO settlements (signature, resource, status) VALUES ($1, $2, 'in_progress')",
		signature, resource)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSettleInProgress
		}
		return fmt.Errorf("settlement reservation failed: %w", err)
	}
	return nil
}

// CompleteSettlement finalizes a reservation. Completed settlements are
// cached so a replayed proof answers without a second ledger submission.
func (s *Store) CompleteSettlement(ctx context.Context, p *SettledPayment) error {
	_, err := s.db.Exec(ctx,
		"UPDATE settlements SET payer = $1, amount_base_units = $2, mint = $3, status = 'completed', settled_at = $4 WHERE signature = $5",
		p.Payer, p.AmountBaseUnits, p.Mint, p.SettledAt, p.Signature)
	if err != nil {
		return fmt.Errorf("settlement completion failed: %w", err)
	}
	return nil
}

// ReleaseSettlement clears a reservation after a failed settlement so a
// legitimate retry can proceed. Failures are never cached.
func (s *Store) ReleaseSettlement(ctx context.Context, signature string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM settlements WHERE signature = $1 AND status = 'in_progress'", signature)
	if err != nil {
		return fmt.Errorf("settlement release failed: %w", err)
	}
	return nil
}

// UpsertRecord stores a client's synced transaction record. Sync is
// idempotent on the record id.
func (s *Store) UpsertRecord(ctx context.Context, r *domain.TransactionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO records (id, batch_id, sender, recipient, amount, asset, memo, signature, status, error, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET signature = EXCLUDED.signature, status = EXCLUDED.status, error = EXCLUDED.error`,
		r.ID, r.BatchID, r.Intent.Sender, r.Intent.Recipient, r.Intent.Amount.String(),
		r.Intent.Asset, r.Intent.Memo, r.Signature, string(r.Status), r.Error, r.Timestamp)
	if err != nil {
		return fmt.Errorf("record upsert failed: %w", err)
	}
	return nil
}

// UpsertBatch stores a client's synced batch run header.
func (s *Store) UpsertBatch(ctx context.Context, run *domain.BatchRun) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO batches (id, name, status, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		run.ID, run.Name, string(run.Status), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("batch upsert failed: %w", err)
	}
	return nil
}

// ListRecords returns synced records, newest first.
func (s *Store) ListRecords(ctx context.Context) ([]domain.TransactionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, batch_id, sender, recipient, amount, asset, memo, signature, status, error, recorded_at
		 FROM records ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("record query failed: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var r domain.TransactionRecord
		var amount, status string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Intent.Sender, &r.Intent.Recipient,
			&amount, &r.Intent.Asset, &r.Intent.Memo, &r.Signature, &status, &r.Error, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("record scan failed: %w", err)
		}
		r.Intent.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("record amount decode failed: %w", err)
		}
		r.Status = domain.RecordStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListBatches returns synced batch run headers, newest first. Items are
// not stored server-side; the per-item records live in the records
// table keyed by batch_id.
func (s *Store) ListBatches(ctx context.Context) ([]domain.BatchRun, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, name, status, created_at FROM batches ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("batch query failed: %w", err)
	}
	defer rows.Close()

	var runs []domain.BatchRun
	for rows.Next() {
		var run domain.BatchRun
		var status string
		if err := rows.Scan(&run.ID, &run.Name, &status, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("batch scan failed: %w", err)
		}
		run.Status = domain.BatchStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListPayees returns the payee registry.
func (s *Store) ListPayees(ctx context.Context) ([]domain.Payee, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, name, wallet, default_amount, created_at FROM payees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("payee query failed: %w", err)
	}
	defer rows.Close()

	var payees []domain.Payee
	for rows.Next() {
		var p domain.Payee
		var amount string
		if err := rows.Scan(&p.ID, &p.Name, &p.Wallet, &amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("payee scan failed: %w", err)
		}
		p.DefaultAmount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("payee amount decode failed: %w", err)
		}
		payees = append(payees, p)
	}
	return payees, rows.Err()
}

// CreatePayee registers a payee and returns its id.
func (s *Store) CreatePayee(ctx context.Context, name, wallet string, defaultAmount decimal.Decimal) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		"INSERT INTO payees (name, wallet, default_amount) VALUES ($1, $2, $3) RETURNING id",
		name, wallet, defaultAmount.String()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payee insert failed: %w", err)
	}
	return id, nil
}
