package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/stablepay/stablepay/internal/config"
	"github.com/stablepay/stablepay/internal/ledger"
	"github.com/stablepay/stablepay/internal/server"
	"github.com/stablepay/stablepay/internal/submitter"
)

func main() {
	cfg, err := config.LoadServer(os.Getenv("STABLEPAY_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	price, err := decimal.NewFromString(cfg.Server.PriceUSDC)
	if err != nil || !price.IsPositive() {
		log.Fatalf("invalid SERVER_PRICE_USDC %q", cfg.Server.PriceUSDC)
	}

	store, err := server.NewStore(cfg.Server.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer store.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Initialize Layers
	ledgerClient := ledger.NewSolanaClient(cfg.RPCEndpoint)
	sub := submitter.New(ledgerClient, logger)
	settler := server.NewSettler(store, ledgerClient, sub, cfg.Network, logger)
	handler := server.NewHandler(store, settler, server.ChallengeConfig{
		PriceUSDC:      price,
		Mint:           cfg.USDCMint,
		PayToWallet:    cfg.Server.PayTo,
		Network:        cfg.Network,
		TimeoutSeconds: cfg.Server.TimeoutSeconds,
	}, logger)

	r := newRouter(handler)

	log.Printf("Server starting on :%s", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, r); err != nil {
		log.Fatal(err)
	}
}

func newRouter(handler *server.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/resource/{id}", handler.GetResourceHandler).Methods("GET")
	apiV1.HandleFunc("/records", handler.SyncRecordHandler).Methods("POST")
	apiV1.HandleFunc("/records", handler.ListRecordsHandler).Methods("GET")
	apiV1.HandleFunc("/batches", handler.SyncBatchHandler).Methods("POST")
	apiV1.HandleFunc("/batches", handler.ListBatchesHandler).Methods("GET")
	apiV1.HandleFunc("/payees", handler.ListPayeesHandler).Methods("GET")
	apiV1.HandleFunc("/payees", handler.CreatePayeeHandler).Methods("POST")
	return r
}
