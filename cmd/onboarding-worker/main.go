package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fxsml/privatesocial/config"
	"github.com/fxsml/privatesocial/contracts"
	"github.com/fxsml/privatesocial/dedup"
	"github.com/fxsml/privatesocial/internal/worker"
	"github.com/fxsml/privatesocial/message"
	"github.com/fxsml/privatesocial/message/amqp"
	"github.com/fxsml/privatesocial/message/broker"
	"github.com/fxsml/privatesocial/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("ONBOARDING_CONFIG_PATH"), "path to the YAML config file")
	demo := flag.Bool("demo", false, "publish a sample registration and post after start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, "onboarding")

	transport, healthy, err := newTransport(cfg, m, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("kind", cfg.Transport.Kind).Msg("Transport setup failed")
	}
	defer transport.Close()

	store, rdb, err := newDedupStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Dedup.Backend).Msg("Dedup store setup failed")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	w, err := worker.New(cfg, worker.Deps{
		Transport: transport,
		Dedup:     store,
		Metrics:   m,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Worker setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, readiness(w, healthy, rdb), &logger)
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, reg, &logger)
	}
	if *demo {
		go publishDemo(ctx, w, &logger)
	}

	if err := w.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker failed")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Format == config.FormatJSON {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(cfg.LogLevel()).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()
}

// newTransport returns the configured transport and its health check.
func newTransport(cfg *config.Config, m *metrics.Metrics, logger *zerolog.Logger) (message.Transport, func() bool, error) {
	switch cfg.Transport.Kind {
	case config.TransportAMQP:
		t, err := amqp.Dial(amqp.Config{
			URL:           cfg.Transport.URL,
			Transient:     cfg.Transport.Transient,
			PrefetchCount: cfg.Transport.Prefetch,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, t.Healthy, nil
	default:
		b := broker.NewChannelBroker(broker.ChannelBrokerConfig{
			BufferSize:      cfg.Transport.BufferSize,
			SendTimeout:     cfg.Transport.SendTimeout,
			MaxDeliveries:   cfg.Transport.MaxDeliveries,
			RedeliveryDelay: cfg.Transport.RedeliveryDelay,
			Observer:        m,
			Logger:          logger,
			DeadLetterHandler: func(dl broker.DeadLetter) {
				typ, _ := dl.Message.Attributes.Type()
				id, _ := dl.Message.Attributes.ID()
				logger.Error().Err(dl.Err).
					Str("queue", dl.Queue).
					Str("type", typ).
					Str("id", id).
					Msg("Message dead-lettered")
			},
		})
		return b, func() bool { return true }, nil
	}
}

func newDedupStore(cfg *config.Config) (dedup.Store, *redis.Client, error) {
	switch cfg.Dedup.Backend {
	case config.DedupNone:
		return nil, nil, nil
	case config.DedupRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Dedup.Redis.Address,
			Password: cfg.Dedup.Redis.Password,
			DB:       cfg.Dedup.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return dedup.NewRedisStore(rdb, cfg.Dedup.KeyPrefix), rdb, nil
	default:
		return dedup.NewMemoryStore(), nil, nil
	}
}

func readiness(w *worker.Worker, transportHealthy func() bool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-w.Ready():
		default:
			return errors.New("endpoints not started")
		}
		if !transportHealthy() {
			return errors.New("transport not connected")
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis not ready: %w", err)
			}
		}
		return nil
	}
}

func startHealthServer(ctx context.Context, port int, ready func(context.Context) error, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := ready(ctxPing); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	serve(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, reg *prometheus.Registry, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	serve(ctx, port, mux, "metrics", logger)
}

func serve(ctx context.Context, port int, h http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("HTTP server error")
	}
}

// publishDemo emits what the API layer emits for a new user and a first post.
func publishDemo(ctx context.Context, w *worker.Worker, logger *zerolog.Logger) {
	select {
	case <-w.Ready():
	case <-ctx.Done():
		return
	}

	now := time.Now().UTC()
	events := []any{
		contracts.UserRegistered{
			CorrelationID: uuid.New(),
			UserID:        1,
			Username:      "demo",
			Email:         "demo@example.com",
			RegisteredAt:  now,
		},
		contracts.PostCreated{
			CorrelationID: uuid.New(),
			PostID:        10,
			UserID:        1,
			Content:       "Hello world!",
			CreatedAt:     now,
		},
	}
	for _, ev := range events {
		if err := w.Bus().Publish(ctx, ev); err != nil {
			logger.Error().Err(err).Msg("Demo publish failed")
			return
		}
	}
	logger.Info().Int("events", len(events)).Msg("Demo events published")
}
