package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	annehttp "github.com/spediresicuro/anne/internal/adapter/http"
	"github.com/spediresicuro/anne/internal/adapter/memory"
	annenats "github.com/spediresicuro/anne/internal/adapter/nats"
	"github.com/spediresicuro/anne/internal/adapter/natskv"
	anneotel "github.com/spediresicuro/anne/internal/adapter/otel"
	"github.com/spediresicuro/anne/internal/adapter/postgres"
	anneredis "github.com/spediresicuro/anne/internal/adapter/redis"
	"github.com/spediresicuro/anne/internal/adapter/ristretto"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/middleware"
	"github.com/spediresicuro/anne/internal/port/auditstore"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
	"github.com/spediresicuro/anne/internal/port/portfolio"
	"github.com/spediresicuro/anne/internal/port/worker"
	"github.com/spediresicuro/anne/internal/resilience"
	"github.com/spediresicuro/anne/internal/secrets"
	"github.com/spediresicuro/anne/internal/service"
)

const version = "0.1.0"

func main() {
	var err error
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = run()
	case "migrate":
		err = runMigrate(args)
	case "resolve":
		err = runResolve(args)
	case "help", "--help", "-h":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: anne <command> [options]

Commands:
  serve                         Start the decision API (default)
  migrate [up|down|version]     Manage the PostgreSQL schema
  resolve --role R [--domain D] Show which provider and model serve a role
  help                          Show this help message
`)
}

// infra holds the connections opened for the configured backends. Every
// field may be nil.
type infra struct {
	pool  *pgxpool.Pool
	queue *annenats.Queue
	redis *goredis.Client
}

func (i *infra) close() {
	if i.queue != nil {
		if err := i.queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.pool != nil {
		i.pool.Close()
	}
}

func (i *infra) checks() map[string]annehttp.HealthCheck {
	checks := make(map[string]annehttp.HealthCheck)
	if i.pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return i.pool.Ping(ctx) }
	}
	if i.queue != nil {
		checks["nats"] = func(context.Context) error {
			if !i.queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	if i.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return i.redis.Ping(ctx).Err() }
	}
	return checks
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	if cfg.Audit.Backend == "postgres" || cfg.Portfolio.Backend == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		in.pool = pool
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			in.close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("postgres connected, migrations applied")
	}

	if cfg.Audit.Backend == "natskv" || cfg.Workers.Transport == "nats" {
		queue, err := annenats.Connect(ctx, cfg.NATS, log)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		in.queue = queue
	}

	if cfg.Audit.Backend == "redis" {
		in.redis = anneredis.NewClient(cfg.Redis)
		if err := in.redis.Ping(ctx).Err(); err != nil {
			in.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	return in, nil
}

func auditStore(ctx context.Context, cfg *config.Config, in *infra) (auditstore.Store, error) {
	switch cfg.Audit.Backend {
	case "postgres":
		return postgres.NewAuditStore(in.pool), nil
	case "natskv":
		return natskv.Open(ctx, in.queue.JetStream(), cfg.Audit.KVBucket, cfg.Audit.DedupTTL)
	case "redis":
		return anneredis.NewAuditStore(in.redis, cfg.Audit.DedupTTL), nil
	default:
		return memory.NewAuditStore(), nil
	}
}

func portfolioLookup(cfg *config.Config, in *infra) portfolio.Lookup {
	if cfg.Portfolio.Backend == "postgres" {
		return postgres.NewPortfolioStore(in.pool)
	}
	return memory.NewPortfolio(cfg.Portfolio.Static)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"audit_backend", cfg.Audit.Backend,
		"portfolio_backend", cfg.Portfolio.Backend,
		"workers_transport", cfg.Workers.Transport,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOtel, err := anneotel.Setup(ctx, cfg.Otel, cfg.Logging.Service, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := anneotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Credentials ---
	vault, err := secrets.NewVault(secrets.EnvLoader(provider.CredentialKeys()...))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	go reloadOnHangup(ctx, vault, log)

	// --- Infrastructure ---
	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	var pub messagequeue.Publisher
	if in.queue != nil {
		pub = in.queue
	}

	store, err := auditStore(ctx, cfg, in)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	emitter := service.NewAuditEmitter(store, pub, cfg.Audit, log, metrics)
	defer emitter.Close()

	accounts, err := ristretto.NewPortfolioCache(portfolioLookup(cfg, in), cfg.Delegation.CacheMaxCost, cfg.Delegation.CacheTTL)
	if err != nil {
		return fmt.Errorf("portfolio cache: %w", err)
	}
	defer accounts.Close()

	// --- Services ---
	lookup := provider.Layered(provider.EnvLookup(), provider.MapLookup(cfg.Provider.Overrides))
	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, service.IgnoreForBreaker)
	providers := service.NewProviderRouter(cfg.Provider, lookup, vault, providerClients(cfg.Provider, vault), breakers, log, metrics)

	workers := worker.NewRegistry()
	if in.queue != nil {
		for _, k := range cfg.Workers.Enabled {
			kind := intent.WorkerKind(k)
			rw := annenats.NewRemoteWorker(in.queue, cfg.Workers.SubjectPrefix, kind, cfg.Workers.Timeout)
			if err := workers.Register(kind, rw); err != nil {
				return fmt.Errorf("workers: %w", err)
			}
		}
		log.Info("remote workers registered", "kinds", workers.Kinds())
	}

	resolver := service.NewDelegationResolver(accounts, emitter, cfg.Delegation, log, metrics)
	cascade := intent.DefaultCascade(service.NewModelPricingClassifier(providers))
	policy := guardrail.Policy{
		AutoProceedThreshold:    cfg.Guardrail.AutoProceedThreshold,
		SuggestProceedThreshold: cfg.Guardrail.SuggestProceedThreshold,
	}
	supervisor := service.NewSupervisor(resolver, cascade, workers, policy, emitter, pub, log, metrics)

	// --- HTTP ---
	handlers := &annehttp.Handlers{
		Supervisor: supervisor,
		Providers:  providers,
		Checks:     in.checks(),
		Version:    version,
	}
	if l, ok := store.(auditstore.Lister); ok {
		handlers.Audit = l
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(annehttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(annehttp.SecurityHeaders)
	r.Use(anneotel.HTTPMiddleware(cfg.Logging.Service))
	annehttp.MountRoutes(r, handlers, limiter.Handler)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The slowest route waits on the local provider.
		WriteTimeout: cfg.Provider.LocalTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadOnHangup reloads provider credentials on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				log.Error("secret reload failed", "error", err)
				continue
			}
			log.Info("secrets reloaded", "keys", vault.Keys())
		}
	}
}
