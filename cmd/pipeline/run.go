package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/romariotrain/lecture-pipeline/internal/acquire/images"
	"github.com/romariotrain/lecture-pipeline/internal/acquire/video"
	"github.com/romariotrain/lecture-pipeline/internal/anonymizer"
	"github.com/romariotrain/lecture-pipeline/internal/app"
	"github.com/romariotrain/lecture-pipeline/internal/config"
	pipelinekafka "github.com/romariotrain/lecture-pipeline/internal/pipeline/kafka"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/service"
	"github.com/romariotrain/lecture-pipeline/internal/pipeline/sweep"
	"github.com/romariotrain/lecture-pipeline/internal/platform/oauth"
	"github.com/romariotrain/lecture-pipeline/internal/platform/youtube"
	"github.com/romariotrain/lecture-pipeline/internal/secrets"
	pg "github.com/romariotrain/lecture-pipeline/internal/storage/postgres"
)

func runner(logger zerolog.Logger) app.Runner {
	return func(ctx context.Context) error {
		return run(ctx, logger)
	}
}

func run(ctx context.Context, logger zerolog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cipher, err := secrets.NewCipher(cfg.TokenKey)
	if err != nil {
		return fmt.Errorf("token cipher: %w", err)
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	// Dependencies
	jobs := pg.NewJobRepo(db, cfg.JobLease)
	courses := pg.NewCourseRepo(db)
	credentials := pg.NewCredentialRepo(db)
	settings := pg.NewSettingRepo(db)
	published := pg.NewPublishedVideoRepo(db)

	var notifier service.CourseNotifier
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := pipelinekafka.NewProducer(pipelinekafka.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()
		notifier = producer
	}

	orch, err := service.New(service.Deps{
		Jobs:        jobs,
		Courses:     courses,
		Credentials: credentials,
		Settings:    settings,
		Published:   published,
		OAuth:       oauth.NewClient(cfg.YoutubeClientID, cfg.YoutubeClientSecret),
		Images:      images.NewClient(cfg.ScraperURL, logger),
		Video:       video.NewAcquirer(cfg.ScraperURL, cfg.StreamingHosts, logger),
		Engine:      anonymizer.NewClient(cfg.AnonymizerURL, logger),
		Publisher:   youtube.NewClient(logger),
		Notifier:    notifier,
		Cipher:      cipher,
		Config: service.Config{
			BatchSize:         cfg.BatchSize,
			WorkRoot:          cfg.WorkRoot,
			AnonymizerMaxWait: cfg.AnonymizerMaxWait,
			UploadAttempts:    cfg.UploadAttempts,
			UploadRetryBase:   cfg.UploadRetryBase,
			SuspendFor:        cfg.SuspendFor,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	sweeper := sweep.New(credentials, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- orch.Start(ctx, cfg.PollInterval) }()
	go func() { errCh <- sweeper.Start(ctx, cfg.SweepInterval) }()

	err = <-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
