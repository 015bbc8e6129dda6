package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/mailflare/mailflare-backend/internal/config"
	"github.com/mailflare/mailflare-backend/internal/db"
	"github.com/mailflare/mailflare-backend/internal/dispatch"
	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/queue"
	"github.com/mailflare/mailflare-backend/internal/repository"
	"github.com/mailflare/mailflare-backend/internal/service"
	"github.com/mailflare/mailflare-backend/internal/token"
)

// maxRetries bounds how often a failed dispatch job is re-queued before
// the campaign stays failed terminally.
const maxRetries = 1

// retryDelay spaces the single retry out so transient broker or SMTP
// hiccups have time to clear.
const retryDelay = 60 * time.Second

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "worker").Logger()

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

	var cancels dispatch.CancelStore = dispatch.NewMemoryCancels()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cancels = dispatch.NewRedisCancels(client)
	}

	codec := token.NewCodec(cfg.Site.SecretKey, token.DefaultTTL)
	svc := &service.CampaignService{
		Campaigns:   campaignRepo,
		Subscribers: subscriberRepo,
		Transports: &mail.SMTPFactory{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.SMTP.Timeout,
		},
		Builder:   mail.NewBuilder(cfg.SMTP.From, cfg.Site.BaseURL, codec),
		Cancels:   cancels,
		BatchSize: cfg.Dispatch.BatchSize,
		Log:       log,
	}

	broker, err := amqp.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}
	defer broker.Close()

	ch, err := broker.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("channel open failed")
	}
	defer ch.Close()

	q, err := queue.DeclareQueue(ch, cfg.Queue.QueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("queue declare failed")
	}

	// One dispatch at a time per worker; batches inside a dispatch are
	// already strictly sequential.
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos failed")
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume failed")
	}

	log.Info().Str("queue", q.Name).Msg("worker waiting for dispatch jobs")

	ctx := context.Background()
	for d := range deliveries {
		handleDelivery(ctx, svc, ch, q.Name, d, log)
	}
}

func handleDelivery(ctx context.Context, svc *service.CampaignService, ch *amqp.Channel, queueName string, d amqp.Delivery, log zerolog.Logger) {
	var job queue.DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Error().Err(err).Msg("undecodable job, dropping")
		_ = d.Ack(false)
		return
	}

	log.Info().
		Str("campaign_id", job.CampaignID.String()).
		Str("task_ref", job.TaskRef).
		Int("recipients", len(job.SubscriberIDs)).
		Msg("dispatch job received")

	err := svc.RunDispatch(ctx, job.CampaignID, job.SubscriberIDs, job.TaskRef, service.ModeQueued)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d)
	if retries >= maxRetries {
		log.Error().Err(err).
			Str("campaign_id", job.CampaignID.String()).
			Int("retries", retries).
			Msg("dispatch failed terminally")
		_ = d.Ack(false)
		return
	}

	log.Warn().Err(err).
		Str("campaign_id", job.CampaignID.String()).
		Dur("delay", retryDelay).
		Msg("dispatch failed, scheduling retry")

	time.Sleep(retryDelay)
	if perr := republish(ch, queueName, d, retries+1); perr != nil {
		log.Error().Err(perr).Str("campaign_id", job.CampaignID.String()).Msg("retry publish failed")
	}
	_ = d.Ack(false)
}

func retryCount(d amqp.Delivery) int {
	v, ok := d.Headers["x-retry-count"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func republish(ch *amqp.Channel, queueName string, d amqp.Delivery, retries int) error {
	return ch.Publish("", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      amqp.Table{"x-retry-count": int32(retries)},
		Body:         d.Body,
	})
}
