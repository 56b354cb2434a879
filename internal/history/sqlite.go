package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	amount     TEXT NOT NULL,
	asset      TEXT NOT NULL,
	memo       TEXT NOT NULL DEFAULT '',
	signature  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch_id);
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	items      TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteStore is the durable local half of the history log.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the local history database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindHistory, "opening history database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.KindHistory, "initializing history schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendRecord(ctx context.Context, record *domain.TransactionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, batch_id, sender, recipient, amount, asset, memo, signature, status, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.BatchID,
		record.Intent.Sender, record.Intent.Recipient, record.Intent.Amount.String(),
		record.Intent.Asset, record.Intent.Memo,
		record.Signature, string(record.Status), record.Error,
		record.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "appending record")
	}
	return nil
}

func (s *SQLiteStore) UpdateRecordStatus(ctx context.Context, id string, status domain.RecordStatus, signature string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE records SET status = ?, signature = ? WHERE id = ?",
		string(status), signature, id)
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "updating record status")
	}
	return nil
}

func (s *SQLiteStore) AppendBatch(ctx context.Context, run *domain.BatchRun) error {
	items, err := json.Marshal(run.Items)
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "encoding batch items")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO batches (id, name, status, items, created_at) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Name, string(run.Status), string(items), run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "appending batch")
	}
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]domain.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, sender, recipient, amount, asset, memo, signature, status, error, timestamp
		 FROM records ORDER BY timestamp DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindHistory, "listing records")
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var r domain.TransactionRecord
		var amount, status, ts string
		if err := rows.Scan(&r.ID, &r.BatchID,
			&r.Intent.Sender, &r.Intent.Recipient, &amount, &r.Intent.Asset, &r.Intent.Memo,
			&r.Signature, &status, &r.Error, &ts); err != nil {
			return nil, errors.Wrap(err, errors.KindHistory, "scanning record")
		}
		if r.Intent.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrap(err, errors.KindHistory, "decoding record amount")
		}
		r.Status = domain.RecordStatus(status)
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) ListBatches(ctx context.Context) ([]domain.BatchRun, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, status, items, created_at FROM batches ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindHistory, "listing batches")
	}
	defer rows.Close()

	var runs []domain.BatchRun
	for rows.Next() {
		var run domain.BatchRun
		var status, items, createdAt string
		if err := rows.Scan(&run.ID, &run.Name, &status, &items, &createdAt); err != nil {
			return nil, errors.Wrap(err, errors.KindHistory, "scanning batch")
		}
		if err := json.Unmarshal([]byte(items), &run.Items); err != nil {
			return nil, errors.Wrap(err, errors.KindHistory, "decoding batch items")
		}
		run.Status = domain.BatchStatus(status)
		run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
