package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/stablepay/stablepay/internal/builder"
	"github.com/stablepay/stablepay/internal/domain"
	"github.com/stablepay/stablepay/internal/errors"
	"github.com/stablepay/stablepay/internal/x402"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablepay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stablepay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
	}, []string{"method", "endpoint"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablepay_settlements_total",
		Help: "x402 proof settlements by result",
	}, []string{"result"})
)

// ChallengeConfig is what the server demands for access to a resource.
type ChallengeConfig struct {
	PriceUSDC      decimal.Decimal
	Mint           string
	PayToWallet    string
	Network        string
	TimeoutSeconds int
}

// proofSettler settles X-Payment proof headers.
type proofSettler interface {
	Settle(ctx context.Context, proofHeader, resource string) (*x402.PaymentDetails, error)
}

// Handler serves the gated resource, the record-sync API, and the payee
// registry.
type Handler struct {
	store     *Store
	settler   proofSettler
	challenge ChallengeConfig
	logger    *slog.Logger
}

// NewHandler wires a Handler.
func NewHandler(store *Store, settler proofSettler, challenge ChallengeConfig, logger *slog.Logger) *Handler {
	return &Handler{store: store, settler: settler, challenge: challenge, logger: logger.With("component", "api")}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetResourceHandler implements the gated endpoint. Without an X-Payment
// header it answers 402 with the payment requirements; with one it
// settles the proof and releases the content.
func (h *Handler) GetResourceHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/resource/{id}"))
	defer timer.ObserveDuration()

	id := mux.Vars(r)["id"]
	resource := r.URL.Path

	proof := r.Header.Get(x402.PaymentHeader)
	if proof == "" {
		httpRequestsTotal.WithLabelValues("GET", "/resource/{id}", "402").Inc()
		respondWithJSON(w, http.StatusPaymentRequired, h.buildChallenge(r, resource))
		return
	}

	details, err := h.settler.Settle(r.Context(), proof, resource)
	if err != nil {
		settlementsTotal.WithLabelValues("rejected").Inc()
		h.logger.Warn("proof rejected", "resource", resource, "error", err)
		status := http.StatusPaymentRequired
		switch {
		case stderrors.Is(err, ErrSettleInProgress):
			// A replay racing the first settlement is a conflict, not a
			// payment failure; the first attempt may still succeed.
			status = http.StatusConflict
		case errors.KindOf(err) == errors.KindInternal:
			status = http.StatusInternalServerError
		}
		httpRequestsTotal.WithLabelValues("GET", "/resource/{id}", strconv.Itoa(status)).Inc()
		respondWithError(w, status, err.Error())
		return
	}

	settlementsTotal.WithLabelValues("settled").Inc()
	httpRequestsTotal.WithLabelValues("GET", "/resource/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]any{
		"id":             id,
		"content":        fmt.Sprintf("premium content for %s", id),
		"paymentDetails": details,
	})
}

func (h *Handler) buildChallenge(r *http.Request, resource string) x402.Challenge {
	price := h.challenge.PriceUSDC
	// Callers may ask for a specific amount within the challenge shape.
	if raw := r.URL.Query().Get("amount"); raw != "" {
		if requested, err := decimal.NewFromString(raw); err == nil && requested.IsPositive() {
			price = requested
		}
	}
	baseUnits, err := builder.AmountToBaseUnits(price, builder.USDCDecimals)
	if err != nil {
		baseUnits = 0
	}
	return x402.Challenge{
		X402Version: x402.Version,
		Accepts: []x402.Requirement{{
			Scheme:            x402.SchemeExact,
			Network:           h.challenge.Network,
			MaxAmountRequired: strconv.FormatUint(baseUnits, 10),
			Resource:          resource,
			Description:       r.URL.Query().Get("description"),
			MimeType:          "application/json",
			PayTo:             h.challenge.PayToWallet,
			MaxTimeoutSeconds: h.challenge.TimeoutSeconds,
			Asset:             h.challenge.Mint,
			Extra: x402.Extra{
				Mint:            h.challenge.Mint,
				RecipientWallet: h.challenge.PayToWallet,
				AmountUSDC:      price,
			},
		}},
	}
}

// SyncRecordHandler accepts a client's audit copy of one transfer.
func (h *Handler) SyncRecordHandler(w http.ResponseWriter, r *http.Request) {
	var record domain.TransactionRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/records", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if record.ID == "" {
		httpRequestsTotal.WithLabelValues("POST", "/records", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Record id required")
		return
	}
	if err := h.store.UpsertRecord(r.Context(), &record); err != nil {
		h.logger.Error("record sync failed", "record_id", record.ID, "error", err)
		httpRequestsTotal.WithLabelValues("POST", "/records", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/records", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": record.ID})
}

// ListRecordsHandler returns synced records, newest first.
func (h *Handler) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecords(r.Context())
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/records", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/records", "200").Inc()
	respondWithJSON(w, http.StatusOK, records)
}

// SyncBatchHandler accepts a client's audit copy of one batch run.
func (h *Handler) SyncBatchHandler(w http.ResponseWriter, r *http.Request) {
	var run domain.BatchRun
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/batches", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if run.ID == "" {
		httpRequestsTotal.WithLabelValues("POST", "/batches", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Batch id required")
		return
	}
	if err := h.store.UpsertBatch(r.Context(), &run); err != nil {
		h.logger.Error("batch sync failed", "batch_id", run.ID, "error", err)
		httpRequestsTotal.WithLabelValues("POST", "/batches", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/batches", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]string{"id": run.ID})
}

// ListBatchesHandler returns synced batch runs, newest first.
func (h *Handler) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListBatches(r.Context())
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/batches", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/batches", "200").Inc()
	respondWithJSON(w, http.StatusOK, runs)
}

// ListPayeesHandler returns the payee registry.
func (h *Handler) ListPayeesHandler(w http.ResponseWriter, r *http.Request) {
	payees, err := h.store.ListPayees(r.Context())
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/payees", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/payees", "200").Inc()
	respondWithJSON(w, http.StatusOK, payees)
}

// CreatePayeeHandler registers a payee.
func (h *Handler) CreatePayeeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		Wallet        string `json:"wallet"`
		DefaultAmount string `json:"default_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/payees", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Name == "" || req.Wallet == "" {
		httpRequestsTotal.WithLabelValues("POST", "/payees", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, "Name and wallet required")
		return
	}
	amount := decimal.Zero
	if req.DefaultAmount != "" {
		var err error
		amount, err = decimal.NewFromString(req.DefaultAmount)
		if err != nil || amount.IsNegative() {
			httpRequestsTotal.WithLabelValues("POST", "/payees", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "Invalid default amount")
			return
		}
	}
	id, err := h.store.CreatePayee(r.Context(), req.Name, req.Wallet, amount)
	if err != nil {
		h.logger.Error("payee insert failed", "error", err)
		httpRequestsTotal.WithLabelValues("POST", "/payees", "500").Inc()
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/payees", "201").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/payees/%d", id))
	respondWithJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
