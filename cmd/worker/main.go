package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"thema-ads-orchestrator/internal/ads"
	"thema-ads-orchestrator/internal/config"
	"thema-ads-orchestrator/internal/content"
	"thema-ads-orchestrator/internal/dispatch"
	"thema-ads-orchestrator/internal/orchestrator"
	"thema-ads-orchestrator/internal/queue"
	"thema-ads-orchestrator/internal/ratelimit"
	"thema-ads-orchestrator/internal/report"
	"thema-ads-orchestrator/internal/retry"
	"thema-ads-orchestrator/internal/store"
	"thema-ads-orchestrator/internal/telemetry"
	"thema-ads-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	runQueue := queue.NewRunQueue(redisClient, cfg.RunLeaseTimeout)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.MutateQuotaCapacity, cfg.MutateQuotaRefill, time.Hour)

	adsClient := ads.NewRESTClient(ads.RESTConfig{
		Endpoint:       cfg.AdsEndpoint,
		DeveloperToken: cfg.AdsDeveloperToken,
		Timeout:        cfg.AdsTimeout,
	})

	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Retryable:   ads.IsTransient,
	}
	dispatcher := dispatch.New(adsClient, content.Themed{}, dispatch.Options{
		Theme:   cfg.Theme,
		DryRun:  cfg.DryRun,
		Limiter: limiter,
		Retry:   retryCfg,
	}, log)

	jobs := orchestrator.New(st, dispatcher, cfg.MaxConcurrentAccounts, log)

	var s3Client *s3.Client
	if cfg.ReportS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ReportS3Region))
		if err != nil {
			log.Fatal().Err(err).Msg("load aws config")
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}
	exporter := report.NewExporter(cfg.ReportDir, s3Client, cfg.ReportS3Bucket)
	processor := worker.NewReportingProcessor(jobs, jobs, exporter, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	runner := worker.NewRunner(runQueue, processor, cfg.PollInterval, cfg.RunLeaseTimeout, log)
	log.Info().
		Str("theme", cfg.Theme).
		Bool("dry_run", cfg.DryRun).
		Int("max_concurrent_accounts", cfg.MaxConcurrentAccounts).
		Msg("worker started")
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("worker stopped")
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
