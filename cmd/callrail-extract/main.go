package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/datalift/callrail-extract/pkg/logging"
	"github.com/datalift/callrail-extract/pkg/orchestrator"
	"github.com/datalift/callrail-extract/pkg/ratelimit"
	"github.com/datalift/callrail-extract/pkg/sink"
	"github.com/datalift/callrail-extract/pkg/transport"
)

func main() {
	endpointsFlag := flag.String("endpoints", "", "comma-separated endpoint names (empty = all)")
	limitFlag := flag.Int("limit", getEnvInt("CALLRAIL_MAX_RECORDS", 100), "max records per endpoint")
	batchFlag := flag.Int("batch", getEnvInt("CALLRAIL_BATCH_SIZE", 100), "records per page request")
	workersFlag := flag.Int("workers", getEnvInt("CALLRAIL_WORKERS", 1), "concurrent endpoint workers (1 = sequential)")
	flag.Parse()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	apiKey := os.Getenv("CALLRAIL_API_KEY")
	if apiKey == "" {
		logger.Fatal().Msg("CALLRAIL_API_KEY is required")
	}

	// Shared request budget; a Redis-backed cooldown store lets parallel
	// extractor processes honor one Retry-After window.
	limiterCfg := ratelimit.Config{
		RequestsPerMinute: float64(getEnvInt("CALLRAIL_RATE_LIMIT", 120)),
		Logger:            logging.NewLogger("ratelimit"),
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		limiterCfg.Store = ratelimit.NewRedisStore(redisClient)
		logger.Info().Str("redis", redisURL).Msg("Using shared cooldown state")
	}
	limiter := ratelimit.New(limiterCfg)

	transportCfg := transport.DefaultConfig(apiKey)
	transportCfg.Limiter = limiter
	if baseURL := os.Getenv("CALLRAIL_BASE_URL"); baseURL != "" {
		transportCfg.BaseURL = baseURL
	}
	transportCfg.Timeout = time.Duration(getEnvInt("CALLRAIL_TIMEOUT", 30)) * time.Second
	transportCfg.MaxRetries = getEnvInt("CALLRAIL_MAX_RETRIES", 3)

	client, err := transport.New(transportCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transport")
	}

	runLabel := time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
	var mirror *sink.Mirror
	if os.Getenv("MINIO_ENDPOINT") != "" {
		mirror, err = sink.NewMirror(context.Background(), sink.MirrorConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    getEnv("MINIO_USE_SSL", "") == "true",
			Bucket:    getEnv("MINIO_BUCKET", "callrail-exports"),
			Prefix:    runLabel,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure artifact mirror")
		}
	}

	csvSink, err := sink.NewCSVSink(getEnv("CALLRAIL_DATA_DIR", "data"), mirror)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create output sink")
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Transport: client,
		Sink:      csvSink,
		Reporter:  orchestrator.NewLogReporter(),
		Workers:   *workersFlag,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	var endpoints []string
	if *endpointsFlag != "" {
		for _, name := range strings.Split(*endpointsFlag, ",") {
			endpoints = append(endpoints, strings.TrimSpace(name))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := orch.Run(ctx, endpoints, *limitFlag, *batchFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("Run aborted")
	}

	for _, result := range summary.Results {
		logger.Info().
			Str("endpoint", result.Endpoint).
			Str("status", string(result.Status)).
			Int("records", result.Records).
			Str("output", result.Output).
			Str("cause", result.Cause).
			Msg("Endpoint result")
	}

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
