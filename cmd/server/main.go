package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/mailflare/mailflare-backend/internal/config"
	"github.com/mailflare/mailflare-backend/internal/db"
	"github.com/mailflare/mailflare-backend/internal/dispatch"
	"github.com/mailflare/mailflare-backend/internal/handler"
	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/queue"
	"github.com/mailflare/mailflare-backend/internal/repository"
	"github.com/mailflare/mailflare-backend/internal/scheduler"
	"github.com/mailflare/mailflare-backend/internal/service"
	"github.com/mailflare/mailflare-backend/internal/token"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "server").Logger()

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on OS environment")
	}

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	conn, err := db.Open(cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	engagementRepo := &repository.EngagementRepository{DB: conn}

	var cancels dispatch.CancelStore = dispatch.NewMemoryCancels()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cancels = dispatch.NewRedisCancels(client)
		log.Info().Str("addr", cfg.Redis.Address).Msg("using redis cancel store")
	}

	broker, err := amqp.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}
	defer broker.Close()

	publisher, err := queue.NewAMQPPublisher(broker, cfg.Queue.QueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("publisher setup failed")
	}
	defer publisher.Close()

	codec := token.NewCodec(cfg.Site.SecretKey, token.DefaultTTL)
	builder := mail.NewBuilder(cfg.SMTP.From, cfg.Site.BaseURL, codec)
	transports := &mail.SMTPFactory{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  cfg.SMTP.Timeout,
	}

	campaignService := &service.CampaignService{
		Campaigns:   campaignRepo,
		Subscribers: subscriberRepo,
		Publisher:   publisher,
		Transports:  transports,
		Builder:     builder,
		Cancels:     cancels,
		BatchSize:   cfg.Dispatch.BatchSize,
		Pacing:      cfg.Dispatch.Pacing,
		Log:         log,
	}
	engagementService := &service.EngagementService{
		Campaigns:   campaignRepo,
		Subscribers: subscriberRepo,
		Events:      engagementRepo,
		Log:         log,
	}

	sched := scheduler.New(campaignRepo, campaignService, log.With().Str("component", "scheduler").Logger())
	go func() {
		if err := sched.Run(context.Background()); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	router := handler.NewRouter(
		&handler.CampaignHandler{Service: campaignService, Log: log},
		&handler.TrackingHandler{Engagement: engagementService, Tokens: codec, Log: log},
	)

	log.Info().Str("addr", cfg.Server.Address).Msg("server listening")
	if err := http.ListenAndServe(cfg.Server.Address, router); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
