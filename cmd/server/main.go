package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/config"
	"github.com/dmitrymomot/creditkit/pkg/dedupe"
	"github.com/dmitrymomot/creditkit/pkg/httpserver"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/logger"
	"github.com/dmitrymomot/creditkit/pkg/pg"
	"github.com/dmitrymomot/creditkit/pkg/provider"
	redisconn "github.com/dmitrymomot/creditkit/pkg/redis"
	"github.com/dmitrymomot/creditkit/pkg/requestid"
	"github.com/dmitrymomot/creditkit/pkg/signature"
	"github.com/dmitrymomot/creditkit/svc/billing"
)

type appConfig struct {
	ServiceName   string `env:"SERVICE_NAME" envDefault:"creditkit"`
	Environment   string `env:"APP_ENV" envDefault:"development"`
	WebhookSecret string `env:"BILLING_WEBHOOK_SECRET,required"`
	Provider      string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	PlansFile     string `env:"BILLING_PLANS_FILE"`
	EventDedupe   bool   `env:"BILLING_EVENT_DEDUPE" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Environment, appCfg.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	client, err := newProviderClient(appCfg.Provider)
	if err != nil {
		return err
	}

	accounts := ledger.NewPostgresStore(pool)
	credits := ledger.NewService(accounts)
	plans := catalog.NewResolver(catalog.NewPostgresStore(pool), client)
	customers := billing.NewPostgresCustomerStore(pool)
	subs := billing.NewPostgresSubscriptionStore(pool)

	if appCfg.PlansFile != "" {
		seed, err := catalog.LoadFile(appCfg.PlansFile)
		if err != nil {
			return fmt.Errorf("load plan file: %w", err)
		}
		if err := catalog.Seed(ctx, catalog.NewPostgresStore(pool), seed); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
		log.InfoContext(ctx, "seeded plan catalog",
			slog.String("file", appCfg.PlansFile),
			slog.Int("plans", len(seed)))
	}

	healthchecks := []func(context.Context) error{pg.Healthcheck(pool)}

	engineOpts := []billing.EngineOption{
		billing.WithLogger(log),
		billing.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return pg.RunInTx(ctx, pool, fn)
		}),
		billing.WithAfterCommit(func(ctx context.Context, change billing.Change) {
			log.InfoContext(ctx, "billing state changed",
				slog.String("event_type", change.EventType),
				slog.String("subscription_id", change.SubscriptionID),
				slog.String("status", string(change.Status)))
		}),
	}

	if appCfg.EventDedupe {
		var redisCfg redisconn.Config
		config.MustLoad(&redisCfg)

		redisClient, err := redisconn.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()

		engineOpts = append(engineOpts, billing.WithEventFilter(dedupe.New(redisClient)))
		healthchecks = append(healthchecks, redisconn.Healthcheck(redisClient))
	}

	engine := billing.NewEngine(customers, subs, plans, credits, accounts, client, engineOpts...)

	verifier := signature.NewVerifier(appCfg.WebhookSecret)
	handler := billing.NewHandler(verifier, engine, credits, plans, client, customers, subs,
		billing.WithHandlerLogger(log))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(ctx, log, healthchecks...))
	handler.Register(r)

	var srvCfg httpserver.Config
	config.MustLoad(&srvCfg)

	srv := httpserver.NewFromConfig(srvCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("server listening", slog.String("addr", srvCfg.Addr))
		}),
	)
	return srv.Run(ctx, r)
}

func newProviderClient(name string) (provider.Client, error) {
	switch name {
	case "stripe":
		var cfg provider.StripeConfig
		config.MustLoad(&cfg)
		return provider.NewStripeClient(cfg)
	case "paddle":
		var cfg provider.PaddleConfig
		config.MustLoad(&cfg)
		return provider.NewPaddleClient(cfg)
	}
	return nil, errors.New("unknown billing provider: " + name)
}
