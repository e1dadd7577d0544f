package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"storefront/internal/catalog"
	"storefront/internal/checkout"
	checkoutmetrics "storefront/internal/checkout/metrics"
	"storefront/internal/feed"
	"storefront/internal/identity"
	"storefront/internal/identity/klarna"
	identitymetrics "storefront/internal/identity/metrics"
	"storefront/internal/identity/mock"
	"storefront/internal/order"
	"storefront/internal/platform/config"
	"storefront/internal/platform/httpserver"
	"storefront/internal/platform/kafka"
	"storefront/internal/platform/logger"
	"storefront/internal/platform/metrics"
	"storefront/internal/platform/postgres"
	"storefront/internal/platform/redis"
	"storefront/internal/session/store"
	"storefront/internal/storefront/handler"
	httptransport "storefront/internal/transport/http"
	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/outbox"
	"storefront/pkg/platform/audit/publisher"
	auditmemory "storefront/pkg/platform/audit/store/memory"
	auditpg "storefront/pkg/platform/audit/store/postgres"
	"storefront/pkg/platform/circuit"
	"storefront/pkg/platform/middleware/ratelimit"
	"storefront/pkg/platform/middleware/session"
	txcontext "storefront/pkg/platform/tx"
)

// auditStore is what both the order service and the outbox relay need.
type auditStore interface {
	audit.Store
	audit.Outbox
}

type infra struct {
	redis    *redis.Client
	db       *postgres.DB
	producer *kgo.Client
}

func (i *infra) close() {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	conns, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conns.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var sessionStore store.Store = store.NewInMemoryStore()
	if conns.redis != nil {
		sessionStore = store.NewRedisStore(conns.redis.Client, cfg.Redis.KeyTTL)
	}

	var (
		orderStore order.Store      = order.NewInMemoryStore()
		events     auditStore       = auditmemory.NewInMemoryStore()
		txRunner   txcontext.Runner = txcontext.NopRunner{}
	)
	if conns.db != nil {
		orderStore = order.NewPostgresStore(conns.db.DB)
		events = auditpg.New(conns.db.DB)
		txRunner = txcontext.SQLRunner{DB: conns.db.DB}
	}

	pub := publisher.NewPublisher(events, publisher.WithAsyncBuffer(256), publisher.WithLogger(log))
	defer pub.Close()

	orders, err := order.NewService(orderStore, events, order.WithTxRunner(txRunner), order.WithLogger(log))
	if err != nil {
		return fmt.Errorf("order service: %w", err)
	}

	gateway, err := newGateway(cfg, reg, log)
	if err != nil {
		return err
	}

	activity := feed.New()
	registry, err := checkout.NewRegistry(checkout.RegistryConfig{
		Store:   sessionStore,
		Gateway: gateway,
		Orders:  orders,
		Metrics: checkoutmetrics.New(reg),
		Logger:  log,
		OnEvict: activity.Forget,
		Options: []checkout.Option{
			checkout.WithReturnURL(cfg.Klarna.ReturnURL),
			checkout.WithPollInterval(cfg.Verification.PollInterval),
			checkout.WithMaxPolls(cfg.Verification.MaxPolls),
			checkout.WithSubmitTimeout(cfg.Verification.SubmitTimeout),
			checkout.WithObservers(activity, checkout.NewAuditObserver(pub, log)),
			checkout.WithBaseContext(ctx),
		},
	})
	if err != nil {
		return fmt.Errorf("checkout registry: %w", err)
	}
	defer registry.Close()

	signingKey := cfg.Session.SigningKey
	if signingKey == "" {
		signingKey, err = randomKey()
		if err != nil {
			return err
		}
		log.Warn("SESSION_SIGNING_KEY not set; sessions will not survive a restart")
	}
	sessions, err := session.New(signingKey,
		session.WithTTL(cfg.Session.TTL),
		session.WithSecureCookie(cfg.Session.SecureCookie),
		session.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithLogger(log),
	)

	opts := []handler.Option{
		handler.WithLogger(log),
		handler.WithReturnURL(cfg.Klarna.ReturnURL),
		handler.WithProviderLimiter(limiter.Limit),
		handler.WithProviderConfig(handler.ProviderConfig{
			ClientID:    cfg.Klarna.ClientID,
			Environment: cfg.Klarna.Environment,
			GatewayMode: cfg.GatewayMode,
		}),
	}
	if conns.redis != nil {
		opts = append(opts, handler.WithHealthCheck("redis", conns.redis.Health))
	}
	if conns.db != nil {
		opts = append(opts, handler.WithHealthCheck("postgres", conns.db.Health))
	}
	api, err := handler.New(handler.Deps{
		Sessions: registry,
		Events:   activity,
		Products: catalog.Default(),
		Gateway:  gateway,
	}, opts...)
	if err != nil {
		return fmt.Errorf("storefront handler: %w", err)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         log,
		Session:        sessions.Middleware,
		Metrics:        metrics.New(reg),
		AllowedOrigins: cfg.CORS.Origins(),
		RequestTimeout: cfg.Verification.SubmitTimeout + 5*time.Second,
	}, api)
	srv := httpserver.New(cfg.Server.ListenAddr(), router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting storefront", "addr", srv.Addr, "gateway_mode", cfg.GatewayMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return registry.Run(gctx, cfg.Session.SweepInterval, cfg.Session.IdleTimeout)
	})
	g.Go(func() error {
		return limiter.Run(gctx, cfg.Session.SweepInterval)
	})
	if conns.producer != nil {
		relay, err := outbox.New(events, conns.producer, cfg.Kafka.Topic,
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("outbox relay: %w", err)
		}
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	return g.Wait()
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	i := &infra{}
	var err error
	if i.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if i.db, err = postgres.New(ctx, cfg.Database); err != nil {
		i.close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if i.db != nil {
		if err := i.db.Migrate(ctx, order.Schema, auditpg.Schema); err != nil {
			i.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	if i.producer, err = kafka.NewProducer(ctx, cfg.Kafka); err != nil {
		i.close()
		return nil, fmt.Errorf("kafka: %w", err)
	}
	log.Info("infrastructure ready",
		"redis", i.redis != nil,
		"postgres", i.db != nil,
		"kafka", i.producer != nil,
	)
	return i, nil
}

func newGateway(cfg config.Config, reg prometheus.Registerer, log *slog.Logger) (identity.Gateway, error) {
	if cfg.GatewayMode == config.GatewayMock {
		log.Warn("using mock identity gateway; shoppers are verified without Klarna")
		return mock.New(), nil
	}
	auth, err := klarna.NewAuth(cfg.Klarna.AuthScheme, cfg.Klarna.ClientID, cfg.Klarna.ClientSecret)
	if err != nil {
		return nil, err
	}
	client, err := klarna.New(cfg.Klarna.ResolvedBaseURL(), auth,
		klarna.WithAccountID(cfg.Klarna.AccountID),
		klarna.WithRateLimit(cfg.Klarna.RequestsPerSecond, 1),
		klarna.WithMetrics(identitymetrics.New(reg)),
		klarna.WithBreaker(circuit.New("klarna",
			circuit.WithFailureThreshold(5),
			circuit.WithCooldown(30*time.Second),
		)),
		klarna.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("klarna client: %w", err)
	}
	return client, nil
}

func randomKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
