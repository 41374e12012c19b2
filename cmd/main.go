package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-speech-intelligence-service/internal/app"
	"ai-speech-intelligence-service/internal/config"
	"ai-speech-intelligence-service/internal/events"
	httpapi "ai-speech-intelligence-service/internal/http"
	"ai-speech-intelligence-service/internal/llm"
	"ai-speech-intelligence-service/internal/observability"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/schema"
	"ai-speech-intelligence-service/internal/service/batch"
	"ai-speech-intelligence-service/internal/service/cleaner"
	"ai-speech-intelligence-service/internal/service/dispatch"
	"ai-speech-intelligence-service/internal/service/intelligence"
	"ai-speech-intelligence-service/internal/service/session"
	"ai-speech-intelligence-service/internal/service/stitch"
	"ai-speech-intelligence-service/internal/service/stt"
	"ai-speech-intelligence-service/internal/service/stt/google"
	"ai-speech-intelligence-service/internal/service/stt/mock"
	"ai-speech-intelligence-service/internal/store/postgres"
	"ai-speech-intelligence-service/internal/store/redislog"
	"ai-speech-intelligence-service/internal/store/sqlitelog"
)

const grpcServiceName = "ai.speech.intelligence.v1.SpeechIntelligence"

// sessionLog is an ordered log that can report its health.
type sessionLog interface {
	stitch.OrderedLog
	Ping(ctx context.Context) error
}

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	m := metrics.DefaultMetrics

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	checks := map[string]observability.ReadinessCheck{}

	// Durable ordered log
	orderedLog, redisLog, err := openOrderedLog(startCtx, application, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Stitch.Backend).Msg("Failed to open session log")
	}
	checks["session_log"] = orderedLog.Ping

	// Event bus
	bus, err := openBus(cfg, m)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.EventBus.Backend).Msg("Failed to open event bus")
	}
	application.AddCloser("event bus", bus.Close)

	// Live broadcast
	var broadcaster stitch.Broadcaster = bus
	if cfg.Stitch.Broadcast == "redis" {
		if redisLog == nil {
			if redisLog, err = redislog.Connect(startCtx, cfg.Redis.URL); err != nil {
				log.Fatal().Err(err).Msg("Failed to connect broadcast stream")
			}
			application.AddCloser("redis broadcast", redisLog.Close)
		}
		broadcaster = redislog.NewStreamBroadcaster(redisLog.Client(), cfg.Redis.StreamName, cfg.Redis.StreamMaxLength)
	}

	// STT
	adapters, transcriber, err := openSTT(startCtx, application, cfg, m)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.STT.Provider).Msg("Failed to initialize STT provider")
	}

	// Downstream
	var completer llm.Completer
	if client, err := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
		Retries: 2,
	}); err != nil {
		log.Warn().Err(err).Msg("LLM disabled, transcripts are dispatched uncleaned")
	} else {
		completer = client
	}

	var repo intelligence.Repository
	if cfg.Database.URL != "" {
		store, err := postgres.New(startCtx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		application.AddCloser("postgres", func() error { store.Close(); return nil })
		checks["postgres"] = store.Ping
		repo = store
	}

	var cl dispatch.Cleaner
	var analyzer dispatch.Analyzer
	if completer != nil {
		cl = cleaner.New(completer)
		analyzer = intelligence.New(completer, repo)
	}

	pipeline := dispatch.NewPipeline(cl, bus, analyzer, schema.New(), dispatch.Config{
		LaneTimeout:  cfg.Dispatch.LaneTimeout,
		CleanTimeout: cfg.Dispatch.CleanTimeout,
	}, m)

	// Uploaded recordings
	jobs, err := openJobStore(startCtx, application, cfg, redisLog)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Batch.JobStore).Msg("Failed to open batch job store")
	}
	batchService := batch.New(transcriber, batch.NewChunkCleaner(completer, cfg.Batch.ChunkWords), pipeline, jobs, batch.Config{
		MaxUploadBytes:    cfg.Batch.MaxUploadBytes,
		TranscribeTimeout: cfg.Batch.TranscribeTimeout,
		Workers:           cfg.Batch.Workers,
		StuckAfter:        cfg.Batch.StuckAfter,
	}, m)
	application.AddCloser("batch jobs", batchService.Close)
	go batchService.RunReaper(application.SessionContext(), cfg.Batch.ReapInterval)

	stitchOpts := stitch.Options{
		KeyPrefix:    cfg.Stitch.KeyPrefix,
		TTL:          cfg.Stitch.TTL,
		StoreTimeout: cfg.Stitch.StoreTimeout,
		Metrics:      m,
	}
	coordinator := session.NewCoordinator(session.Deps{
		Adapters:   adapters,
		Publisher:  stitch.NewPublisher(orderedLog, broadcaster, stitchOpts),
		Stitcher:   stitch.NewStitcher(orderedLog, stitchOpts),
		Dispatcher: pipeline,
		IDs:        session.NewGenerator(),
		Metrics:    m,
	}, session.Options{
		Limits: session.Limits{
			MaxAudioBytes: cfg.SessionLimits.MaxAudioBytes,
			MaxDuration:   cfg.SessionLimits.MaxDuration,
		},
		LiveView: true,
	})

	// Observability server
	obsServer := observability.NewServer(":"+cfg.Service.MetricsPort, checks)
	obsServer.Start()

	// gRPC health server
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	// HTTP API
	handlers := httpapi.NewHandlers(application, coordinator, pipeline, batchService, httpapi.Options{
		DefaultTenant: cfg.Service.DefaultTenant,
		DefaultUser:   cfg.Service.DefaultUser,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(grpcServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	// Open sessions are finalized and dispatched before resources close.
	application.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown")
	}
}

// openOrderedLog opens the configured session log. The Redis log is also
// returned so the stream broadcaster can share its client.
func openOrderedLog(ctx context.Context, application *app.Application, cfg *config.Configuration) (sessionLog, *redislog.Log, error) {
	switch cfg.Stitch.Backend {
	case "sqlite":
		store, err := sqlitelog.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		go store.RunJanitor(application.SessionContext(), time.Minute)
		application.AddCloser("sqlite log", store.Close)
		return store, nil, nil
	case "redis", "":
		rl, err := redislog.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		application.AddCloser("redis log", rl.Close)
		return rl, rl, nil
	default:
		return nil, nil, errors.New("unknown session log backend " + cfg.Stitch.Backend)
	}
}

func openBus(cfg *config.Configuration, m *metrics.Metrics) (events.Bus, error) {
	switch cfg.EventBus.Backend {
	case "nats":
		nb, err := events.NewNATS(events.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Principal:     cfg.Service.Principal,
		}, m)
		if err != nil {
			return nil, err
		}
		return nb, nil
	case "log":
		return events.NewKafka(nil, m), nil
	case "kafka", "":
		return events.NewKafka(&events.KafkaConfig{
			Enabled:          cfg.Kafka.Enabled,
			Brokers:          cfg.Kafka.Brokers,
			TopicFragment:    cfg.Kafka.TopicFragment,
			TopicInteraction: cfg.Kafka.TopicInteraction,
			Principal:        cfg.Kafka.Principal,
		}, m), nil
	default:
		return nil, errors.New("unknown event bus backend " + cfg.EventBus.Backend)
	}
}

func openSTT(ctx context.Context, application *app.Application, cfg *config.Configuration, m *metrics.Metrics) (stt.Factory, stt.Transcriber, error) {
	switch cfg.STT.Provider {
	case "google":
		provider, err := google.NewProvider(ctx, google.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  cfg.STT.AudioEncoding,
		}, m)
		if err != nil {
			return nil, nil, err
		}
		application.AddCloser("google stt", provider.Close)
		return provider.NewAdapter, provider, nil
	case "mock", "":
		log.Info().Msg("Using mock STT provider")
		opts := mock.Options{Latency: 50 * time.Millisecond}
		return mock.NewFactory(opts), mock.NewTranscriber(opts), nil
	default:
		return nil, nil, errors.New("unknown STT provider " + cfg.STT.Provider)
	}
}

// openJobStore opens the batch job store, sharing the session log's Redis
// client when there is one. Without a setting, jobs live in Redis when the
// session log does and in memory otherwise.
func openJobStore(ctx context.Context, application *app.Application, cfg *config.Configuration, rl *redislog.Log) (batch.JobStore, error) {
	store := cfg.Batch.JobStore
	if store == "" {
		store = "memory"
		if rl != nil {
			store = "redis"
		}
	}
	switch store {
	case "memory":
		return batch.NewMemoryJobs(), nil
	case "redis":
		if rl == nil {
			var err error
			if rl, err = redislog.Connect(ctx, cfg.Redis.URL); err != nil {
				return nil, err
			}
			application.AddCloser("redis jobs", rl.Close)
		}
		return redislog.NewJobStore(rl.Client(), cfg.Batch.JobKeyPrefix, cfg.Batch.JobTTL), nil
	default:
		return nil, errors.New("unknown batch job store " + cfg.Batch.JobStore)
	}
}
