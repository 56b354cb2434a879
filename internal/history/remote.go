package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
)

// RemoteSink mirrors history appends to the backend's record-sync API.
type RemoteSink struct {
	baseURL string
	client  *http.Client
}

// NewRemoteSink points a sink at a backend base URL.
func NewRemoteSink(baseURL string) *RemoteSink {
	return &RemoteSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// PushRecord mirrors one record to the backend.
func (s *RemoteSink) PushRecord(ctx context.Context, record *domain.TransactionRecord) error {
	return s.post(ctx, "/api/v1/records", record)
}

// PushBatch mirrors one batch run to the backend.
func (s *RemoteSink) PushBatch(ctx context.Context, run *domain.BatchRun) error {
	return s.post(ctx, "/api/v1/batches", run)
}

func (s *RemoteSink) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "encoding sync payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "building sync request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindHistory, "posting to backend")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return errors.New(errors.KindHistory, fmt.Sprintf("backend sync returned %d", resp.StatusCode))
	}
	return nil
}
