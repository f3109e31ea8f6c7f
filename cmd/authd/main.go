package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/goliatone/go-tenant-auth/activitymap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := auth.LoadConfig(ctx)
	if err != nil {
		return err
	}

	logger := auth.NewLogger(auth.LoggerOptions{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Name:   "authd",
	})

	db, err := auth.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := auth.Migrate(ctx, db, logger); err != nil {
		return err
	}

	sink, closeSink, err := activitySink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	access, refresh := cfg.SignerConfigs()
	tokens, err := auth.NewTokenService(access, refresh, auth.WithTokenLogger(logger))
	if err != nil {
		return err
	}

	guard := auth.NewFailureGuard(cfg.GuardConfig(), auth.WithGuardLogger(logger))
	guard.Start(ctx)
	defer guard.Stop()

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	onboarding := auth.NewOnboarding(repo, hasher,
		auth.WithOnboardingLogger(logger),
		auth.WithOnboardingActivitySink(sink),
	)
	authorizer := auth.NewAuthorizer(repo,
		auth.WithAuthorizerLogger(logger),
		auth.WithAuthorizerActivitySink(sink),
	)
	sessions := auth.NewSessions(repo, tokens, guard, onboarding, hasher,
		auth.WithSessionsLogger(logger),
		auth.WithSessionsActivitySink(sink),
	)

	controller := auth.NewAuthController(sessions, onboarding, authorizer, tokens,
		auth.WithControllerLogger(logger),
	)
	app := auth.NewApp(controller, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth service starting", "addr", cfg.HTTPAddr, "access_ttl", tokens.AccessTTL().String())
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down auth service")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	return nil
}

func activitySink(cfg *auth.Config, logger auth.Logger) (auth.ActivitySink, func(), error) {
	logSink := auth.LoggingActivitySink{Logger: logger}
	if len(cfg.Kafka.Brokers) == 0 {
		return logSink, func() {}, nil
	}

	producer, err := auth.NewKafkaProducer(cfg.Kafka.Brokers)
	if err != nil {
		return nil, nil, err
	}

	var opts []auth.KafkaSinkOption
	if cfg.Kafka.Format == "normalized" {
		opts = append(opts, auth.WithKafkaEncoder(activitymap.Encode))
	}

	kafkaSink := auth.NewKafkaActivitySink(producer, cfg.Kafka.Topic, opts...)
	closeFn := func() {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("failed to close kafka producer", "error", err)
		}
	}
	return auth.MultiActivitySink{logSink, kafkaSink}, closeFn, nil
}
