package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/logging"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/notify"
	"staybook/internal/repository"
	"staybook/internal/service"
	"staybook/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger,
		database.WithBusyTimeout(time.Duration(cfg.Database.BusyTimeoutMS)*time.Millisecond),
		database.WithMaxOpenConns(cfg.Database.MaxOpenConns),
	)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	dlq := initDeadLetters(redisClient, cfg, &logger)

	dispatcher, err := initDispatcher(cfg, &logger)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	subscribeEvents(bus, &logger)
	publishers := []domain.Publisher{events.BusPublisher{Bus: bus}}
	if redisClient != nil {
		publishers = append(publishers, repository.NewRedisPublisher(redisClient, cfg.Outbox.PubSubPrefix))
	}

	bookings := service.NewBookingService(db, service.NewScheduler(cfg.Scheduler), &logger)
	scheduleWorker := worker.NewScheduleWorker(db, bookings, dlq, cfg.Scheduler, &logger)
	relay := worker.NewNotificationRelay(db, dispatcher, dlq, cfg.Relay, &logger)
	outboxRelay := worker.NewOutboxRelay(db, publishers, dlq, cfg.Outbox, &logger)

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		// the api binary owns PrometheusPort
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort+1, &logger)
	}

	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	start(scheduleWorker.Start)
	start(relay.Start)
	start(outboxRelay.Start)
	if cfg.Backup.Enabled {
		start(database.NewBackupService(db, cfg.Backup, &logger).Start)
	}

	logger.Info().Strs("channels", dispatcher.Names()).Int("publishers", len(publishers)).Msg("workers started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	wg.Wait()
	logger.Info().Msg("workers stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, dead letters fall back to memory")
	}
	return client
}

func initDeadLetters(client *redis.Client, cfg *config.Config, logger *zerolog.Logger) domain.DeadLetterQueue {
	fallback := repository.NewMemoryDeadLetterQueue(1000)
	if client == nil {
		return fallback
	}
	primary := repository.NewRedisDeadLetterQueue(client, cfg.Outbox.DeadLetterKey, 1000)
	return repository.NewFailoverDeadLetterQueue(primary, fallback, logger)
}

func initDispatcher(cfg *config.Config, logger *zerolog.Logger) (*notify.Dispatcher, error) {
	var sender notify.TelegramSender
	for _, name := range cfg.Relay.Channels {
		if name != notify.ChannelTelegram {
			continue
		}
		bot, err := notify.NewTelegramBot(cfg.Notifications.Telegram)
		if err != nil {
			logger.Error().Err(err).Msg("init telegram bot")
			return nil, err
		}
		sender = bot
		break
	}

	channels, err := notify.BuildChannels(cfg.Relay.Channels, sender, logger)
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(channels...), nil
}

// subscribeEvents wires in-process reactions to relayed outbox events.
func subscribeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	l := logger.With().Str("component", "events").Logger()

	bus.Subscribe(events.Wildcard, func(_ context.Context, ev *events.Event) error {
		l.Debug().Int64("outbox_id", ev.ID).Str("type", ev.Type).Int64("entity_id", ev.EntityID).
			Str("correlation_id", ev.CorrelationID).Msg("event relayed")
		return nil
	})

	alert := func(_ context.Context, ev *events.Event) error {
		var payload map[string]any
		if err := ev.Decode(&payload); err != nil {
			l.Error().Err(err).Str("type", ev.Type).Msg("decode payment event")
			return nil
		}
		l.Warn().Str("type", ev.Type).Interface("payload", payload).Msg("payment needs operator attention")
		return nil
	}
	bus.Subscribe(models.EventPaymentConflict, alert)
	bus.Subscribe(models.EventPaymentOrphaned, alert)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
