package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ibimina/saccoledger/internal/api"
	"github.com/ibimina/saccoledger/internal/auth"
	"github.com/ibimina/saccoledger/internal/config"
	"github.com/ibimina/saccoledger/internal/idempotency"
	"github.com/ibimina/saccoledger/internal/ledger"
	"github.com/ibimina/saccoledger/internal/metrics"
	"github.com/ibimina/saccoledger/internal/middleware"
	"github.com/ibimina/saccoledger/internal/payments"
	"github.com/ibimina/saccoledger/internal/ratelimit"
	"github.com/ibimina/saccoledger/internal/recon"
	"github.com/ibimina/saccoledger/internal/resolver"
	"github.com/ibimina/saccoledger/internal/service"
	"github.com/ibimina/saccoledger/internal/storage/sqlite"
	"github.com/ibimina/saccoledger/internal/vault"
)

// app holds the collaborators built once at startup.
type app struct {
	store    *sqlite.SQLiteStore
	registry *prometheus.Registry
	router   chi.Router
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	v, err := vault.NewFromBase64(cfg.Security.PIIKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	engine := ledger.NewEngine(store, ledger.WithMetrics(m))
	orchestrator := payments.NewOrchestrator(payments.Deps{
		Store:           store,
		Resolver:        resolver.New(store),
		Vault:           v,
		Ledger:          engine,
		Idempotency:     idempotency.New(store, cfg.Idempotency.TTL),
		Limiter:         ratelimit.New(cfg.RateLimit.MaxHits, cfg.RateLimit.Window, m),
		Metrics:         m,
		DefaultCurrency: cfg.Ledger.DefaultCurrency,
	})

	var suggestions *recon.SuggestionCache
	if cfg.Suggest.URL != "" {
		suggestions = recon.NewSuggestionCache(recon.NewHTTPSuggester(cfg.Suggest.URL, cfg.Suggest.Timeout), cfg.Suggest.CacheTTL)
		slog.Info("Suggestion service configured", "url", cfg.Suggest.URL)
	}
	workbench := recon.NewWorkbench(recon.Deps{
		Store:       store,
		Ledger:      engine,
		Suggestions: suggestions,
		Metrics:     m,
		Probe:       store.Ping,
	})

	jwtManager := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	// Auth runs first so RPC logs carry the caller.
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager),
		middleware.LoggingInterceptor(),
	)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := store.Ping(req.Context()); err != nil {
			slog.Warn("Health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	mount := func(path string, h http.Handler) {
		r.Handle(path+"*", h)
	}
	mount(api.NewPaymentServiceHandler(service.NewPaymentService(store, orchestrator, engine, cfg.Ledger.DefaultCurrency), interceptors))
	mount(api.NewReconciliationServiceHandler(service.NewReconciliationService(store, workbench), interceptors))
	mount(api.NewDirectoryServiceHandler(service.NewDirectoryService(store, v), interceptors))

	return &app{store: store, registry: registry, router: r}, nil
}

// Handler serves HTTP/1.1 and cleartext HTTP/2.
func (a *app) Handler() http.Handler {
	return h2c.NewHandler(a.router, &http2.Server{})
}

func (a *app) Close() error {
	return a.store.Close()
}
