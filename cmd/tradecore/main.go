// Command tradecore runs the trade-document audit service: the hash-chained
// action ledger, document integrity verification, lifecycle validation, risk
// scoring, and compliance alerting behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/veritrade-labs/tradecore/pkg/alerts"
	"github.com/veritrade-labs/tradecore/pkg/api"
	"github.com/veritrade-labs/tradecore/pkg/config"
	"github.com/veritrade-labs/tradecore/pkg/directory"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/integrity"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
	"github.com/veritrade-labs/tradecore/pkg/lifecycle"
	"github.com/veritrade-labs/tradecore/pkg/observability"
	"github.com/veritrade-labs/tradecore/pkg/risk"
	"github.com/veritrade-labs/tradecore/pkg/trade"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shctx)
	}()

	// lib/pq registers as "postgres"; modernc registers as "sqlite".
	driver := cfg.DatabaseDriver
	if driver != "postgres" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// System actors plus any operators provisioned out of band. The backing
	// user store lives outside this service.
	dir := directory.NewMemoryDirectory(
		directory.Principal{ID: "sys-verifier", Name: "Integrity Verifier", Roles: []string{"system"}},
		directory.Principal{ID: cfg.DetectorActor, Name: "Compliance Detector", Roles: []string{"system"}},
	)

	store, err := ledger.NewSQLStore(ctx, db, dir)
	if err != nil {
		return err
	}
	// Every durable append feeds the domain counters; verification outcomes
	// are themselves ledger facts, so both counters hang off the same hook.
	store.AddHandler(func(e *ledger.Entry) {
		obs.RecordAppend(ctx, string(e.Action))
		switch e.Action {
		case ledger.ActionVerified:
			obs.RecordVerification(ctx, true)
		case ledger.ActionVerificationFailed:
			obs.RecordVerification(ctx, false)
		}
	})

	blobs, err := document.NewFileStore(cfg.BlobDir)
	if err != nil {
		return err
	}
	docs := document.NewMemoryRepository()

	trades, err := trade.NewSQLRepository(ctx, db)
	if err != nil {
		return err
	}

	policy := risk.DefaultPolicy()
	if cfg.RiskPolicyPath != "" {
		policy, err = risk.LoadPolicy(cfg.RiskPolicyPath)
		if err != nil {
			return err
		}
		logger.Info("risk policy loaded", "path", cfg.RiskPolicyPath, "version", policy.Version)
	}

	var scores risk.ScoreStore = risk.NewMemoryScoreStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		scores = risk.NewRedisScoreCache(scores, client, time.Hour)
		logger.Info("risk score cache enabled", "addr", cfg.RedisAddr)
	}

	engine, err := risk.NewEngine(policy, store, docs, trades, dir, scores)
	if err != nil {
		return err
	}

	alertStore := alerts.NewMemoryAlertStore()
	detector := alerts.NewDetector(store, scores, alertStore, cfg.DetectorActor)

	verifier := integrity.NewVerifier(blobs, store, "sys-verifier").
		WithFlagger(alertFlagger{store: alertStore, obs: obs})

	validator := lifecycle.NewValidator(store, docs, nil)

	srv := api.NewServer(store, docs, verifier, validator, engine, scores, detector).
		WithObservability(obs)

	limiter := api.NewGlobalRateLimiter(50, 100)
	idem, err := api.NewSQLIdempotencyStore(ctx, db, 24*time.Hour)
	if err != nil {
		return err
	}
	handler := api.TelemetryMiddleware(obs)(
		limiter.Middleware(api.IdempotencyMiddleware(idem)(srv.Routes())))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("audit service listening", "port", cfg.Port, "driver", driver)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shctx)
}

// alertFlagger raises a compliance alert directly when the verifier finds
// tampered bytes, without waiting for the next detector scan.
type alertFlagger struct {
	store alerts.AlertStore
	obs   *observability.Provider
}

func (f alertFlagger) Flag(ctx context.Context, doc *document.Document, result integrity.Result) {
	a := &alerts.Alert{
		Type:       alerts.TypeFailedLedgerEvent,
		Severity:   alerts.SeverityHigh,
		DocumentID: doc.ID,
		Detail:     "document bytes no longer match stored hash " + result.StoredHash,
	}
	if _, err := f.store.ActiveByKey(ctx, a.DedupKey()); err == nil {
		return
	}
	a.ID = uuid.New().String()
	a.Status = alerts.StatusOpen
	a.DetectedAt = time.Now().UTC()
	if err := f.store.Create(ctx, a); err != nil {
		slog.Warn("integrity alert not recorded", "document_id", doc.ID, "error", err)
		return
	}
	f.obs.RecordAlert(ctx, string(a.Type))
}
