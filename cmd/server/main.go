package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	assetHandler "custody/internal/asset/handler"
	assetService "custody/internal/asset/service"
	assetStore "custody/internal/asset/store"
	custodyHandler "custody/internal/custody/handler"
	custodyMetrics "custody/internal/custody/metrics"
	"custody/internal/custody/notify"
	"custody/internal/custody/receipt"
	custodyService "custody/internal/custody/service"
	custodyStore "custody/internal/custody/store"
	"custody/internal/custody/sweep"
	kitStore "custody/internal/kit/store"
	manifestStore "custody/internal/manifest/store"
	packingHandler "custody/internal/packing/handler"
	"custody/internal/packing/lock"
	packingMetrics "custody/internal/packing/metrics"
	packingService "custody/internal/packing/service"
	"custody/internal/platform/config"
	"custody/internal/platform/httpserver"
	"custody/internal/platform/kafka"
	"custody/internal/platform/logger"
	"custody/internal/platform/postgres"
	"custody/internal/platform/ratelimit"
	"custody/internal/platform/redis"
	"custody/pkg/platform/audit"
	auditmemory "custody/pkg/platform/audit/store/memory"
	auditpostgres "custody/pkg/platform/audit/store/postgres"
	"custody/pkg/platform/circuit"
	"custody/pkg/platform/middleware/metadata"
	"custody/pkg/platform/middleware/requesttime"
	"custody/pkg/platform/tx"
)

const shutdownTimeout = 10 * time.Second

// formStore serves both the custody service and the sweep.
type formStore interface {
	custodyService.Store
	sweep.Store
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	assets    assetService.Store
	kits      packingService.KitStore
	manifests packingService.ManifestStore
	forms     formStore
	audit     audit.Store
	runner    tx.Runner
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("custody server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	warnDevDefaults(cfg, log)
	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	rb, err := newRedisBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rb.close()
	notifier, closeNotifier, err := newNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	a, err := newApp(cfg, st, rb, notifier, log)
	if err != nil {
		return err
	}
	srv := httpserver.New(cfg.Addr, otelhttp.NewHandler(a.router, "custody"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting custody server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweep.NewWorker(a.sweeper, cfg.Custody.SweepInterval).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// app is the assembled service graph behind the HTTP server.
type app struct {
	router  http.Handler
	sweeper *sweep.Sweeper
}

// warnDevDefaults flags settings that are only safe for local runs.
func warnDevDefaults(cfg config.Server, log *slog.Logger) {
	if cfg.Custody.DevReceiptKey {
		log.Warn("RECEIPT_SIGNING_KEY not set, signing receipts with the development key")
	}
}

func newApp(cfg config.Server, st *stores, rb *redisBackends, notifier sweep.Notifier, log *slog.Logger) (*app, error) {
	proxies, err := metadata.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cMetrics := custodyMetrics.New(reg)
	publisher := audit.NewPublisher(st.audit, audit.WithLogger(log))

	assets := assetService.New(st.assets, st.runner,
		assetService.WithLogger(log),
		assetService.WithAuditPublisher(publisher),
	)
	packing := packingService.New(st.assets, st.kits, st.manifests, st.runner,
		packingService.WithLogger(log),
		packingService.WithAuditPublisher(publisher),
		packingService.WithMetrics(packingMetrics.New(reg)),
		packingService.WithLocker(rb.locker, 0),
	)
	custody := custodyService.New(st.forms, st.manifests, st.runner,
		custodyService.WithLogger(log),
		custodyService.WithAuditPublisher(publisher),
		custodyService.WithMetrics(cMetrics),
		custodyService.WithReceiptIssuer(receipt.NewIssuer(cfg.Custody.ReceiptSigningKey, "custody")),
		custodyService.WithDefaults(custodyService.Defaults{
			BaseURL:            cfg.Custody.FormBaseURL,
			RequiredSignatures: cfg.Custody.DefaultRequiredSignatures,
			ExpirationDays:     cfg.Custody.DefaultExpirationDays,
		}),
	)
	sweeper := sweep.New(st.forms, notifier, sweep.WithLogger(log), sweep.WithMetrics(cMetrics))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(metadata.WithTrustedProxies(proxies))
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := rb.health(req.Context()); err != nil {
			log.WarnContext(req.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	assetHandler.New(assets, log).Register(r)
	packingHandler.New(packing, log).Register(r)
	publicLimit := ratelimit.New(rb.limits, cfg.RateLimit.PublicLimit, cfg.RateLimit.PublicWindow, log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
	)
	custodyHandler.New(custody, sweeper, log,
		custodyHandler.WithPublicMiddleware(publicLimit.Handler),
	).Register(r)

	return &app{router: r, sweeper: sweeper}, nil
}

func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, using in-memory stores")
		return &stores{
			assets:    assetStore.NewInMemory(),
			kits:      kitStore.NewInMemory(),
			manifests: manifestStore.NewInMemory(),
			forms:     custodyStore.NewInMemory(),
			audit:     auditmemory.NewInMemoryStore(),
			runner:    tx.NewShardedMemory(),
		}, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return postgresStores(db), func() { _ = db.Close() }, nil
}

func postgresStores(db *sql.DB) *stores {
	return &stores{
		assets:    assetStore.NewPostgres(db),
		kits:      kitStore.NewPostgres(db),
		manifests: manifestStore.NewPostgres(db),
		forms:     custodyStore.NewPostgres(db),
		audit:     auditpostgres.New(db),
		runner:    tx.NewPostgres(db),
	}
}

// redisBackends holds the manifest locker and the rate limit store. Both
// fall back to in-process implementations without REDIS_URL.
type redisBackends struct {
	locker lock.Locker
	limits ratelimit.Store
	health func(context.Context) error
	close  func()
}

func newRedisBackends(ctx context.Context, cfg config.Server, log *slog.Logger) (*redisBackends, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("REDIS_URL not set, using in-process manifest locks and rate limits")
		return &redisBackends{
			locker: lock.NewMemory(),
			limits: ratelimit.NewMemory(),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}
	return &redisBackends{
		locker: lock.NewRedis(client.Client, cfg.Packing.LockTTL),
		limits: ratelimit.NewRedis(client.Client),
		health: client.Health,
		close:  func() { _ = client.Close() },
	}, nil
}

func newNotifier(ctx context.Context, cfg config.Server, log *slog.Logger) (sweep.Notifier, func(), error) {
	client, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Info("KAFKA_BROKERS not set, coc alerts go to the log")
		return notify.NewLog(log), func() {}, nil
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.AlertTopic); err != nil {
		client.Close()
		return nil, nil, err
	}
	notifier := notify.NewFallback(
		notify.NewKafka(client, cfg.Kafka.AlertTopic),
		notify.NewLog(log),
		circuit.New("coc-alerts"),
		notify.WithLogger(log),
	)
	return notifier, client.Close, nil
}
