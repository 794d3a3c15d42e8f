package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/HasanRzayev/OdiNow/internal/allocator"
	"github.com/HasanRzayev/OdiNow/internal/config"
	httphandler "github.com/HasanRzayev/OdiNow/internal/delivery/http"
	"github.com/HasanRzayev/OdiNow/internal/delivery/kafka"
	"github.com/HasanRzayev/OdiNow/internal/repository"
	"github.com/HasanRzayev/OdiNow/internal/usecase"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "odinow").Logger()

	pool, err := initDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(pool, "db/migrations", log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	store := repository.New(pool)
	clock := allocator.SystemClock()

	tickets := usecase.NewTicketService(store, cfg.TicketInterval(), cfg.TicketMax(), clock, log)
	rights := usecase.NewRightsService(store, cfg.RightsInterval(), cfg.RightsMax(), clock, log)
	drops := usecase.NewDropService(store, usecase.DropConfig{
		Interval:       cfg.DropInterval(),
		Duration:       cfg.DropDuration(),
		TicketsPerDrop: cfg.DropTickets(),
		MaxActive:      cfg.DropMaxActive(),
	}, clock, log)

	var gateway usecase.AllocationGateway
	var kafkaClient *kgo.Client
	var replyClient *kgo.Client
	var retryClient *kgo.Client

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EventDrivenEnabled == "true" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		kafkaClient, err = newConsumerClient(
			brokers,
			cfg.KafkaClientID,
			cfg.KafkaGroupID,
			kafka.TopicTicketSummaryRequest,
			kafka.TopicTicketConsumeRequest,
			kafka.TopicRightsGetRequest,
			kafka.TopicRightsUseRequest,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka client")
		}

		if err := kafka.EnsureTopics(ctx, kafkaClient, cfg, log); err != nil {
			log.Warn().Err(err).Msg("failed to ensure topics")
		}

		kgateway := kafka.NewGateway(cfg, kafkaClient, log)
		gateway = kgateway

		consumer := kafka.NewConsumer(kafkaClient, tickets, rights, log)
		go consumer.Start(ctx)

		retryClient, err = newConsumerClient(
			brokers,
			cfg.KafkaClientID+"-retry",
			cfg.KafkaRetryGroupID,
			kafka.TopicTicketSummaryRetry,
			kafka.TopicTicketConsumeRetry,
			kafka.TopicRightsGetRetry,
			kafka.TopicRightsUseRetry,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create retry kafka client")
		}
		retryConsumer := kafka.NewConsumer(retryClient, tickets, rights, log)
		go retryConsumer.StartRetry(ctx)

		replyTopic := fmt.Sprintf("%s%s", kafka.TopicReplyPrefix, cfg.KafkaInstanceID)
		replyClient, err = newReplyClient(brokers, cfg.KafkaClientID+"-reply", replyTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create reply kafka client")
		}

		startReplyPoller(ctx, replyClient, kgateway)
	} else {
		gateway = kafka.NewDirectGateway(tickets, rights)
	}

	handler := httphandler.NewHandler(gateway, drops)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler.Routes(r)

	var sweeper *cron.Cron
	if cfg.DropSweepEnabled == "true" {
		sweeper = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		schedule := fmt.Sprintf("@every %s", cfg.DropInterval())
		if _, err := sweeper.AddFunc(schedule, func() {
			if err := drops.RunSweep(context.Background()); err != nil {
				log.Error().Err(err).Msg("drop sweep failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule drop sweep")
		}
		sweeper.Start()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("port", cfg.AppPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	if kafkaClient != nil {
		kafkaClient.Close()
	}
	if replyClient != nil {
		replyClient.Close()
	}
	if retryClient != nil {
		retryClient.Close()
	}

	wg.Wait()
	log.Info().Msg("shutdown complete")
}

func initDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
	)
}

func startReplyPoller(ctx context.Context, client *kgo.Client, gateway *kafka.Gateway) {
	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return
			}
			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()
				gateway.HandleResponse(record.Value)
			}
		}
	}()
}
