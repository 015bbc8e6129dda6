package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/config"
	"github.com/mailflare/mailflare-backend/internal/db"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "seeder").Logger()

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

	files := []string{
		"migrations/schema.sql",
		"seed/subscribers.sql",
		"seed/campaigns.sql",
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("read failed")
		}
		if _, err := conn.Exec(string(content)); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("execute failed")
		}
		log.Info().Str("file", file).Msg("applied")
	}

	log.Info().Msg("database seeding completed")
}
