package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/lib/pq"
	"google.golang.org/grpc"

	"github.com/ILLUVRSE/leo-handover/handover/internal/archive"
	"github.com/ILLUVRSE/leo-handover/handover/internal/auth"
	"github.com/ILLUVRSE/leo-handover/handover/internal/config"
	"github.com/ILLUVRSE/leo-handover/handover/internal/events"
	"github.com/ILLUVRSE/leo-handover/handover/internal/executor"
	"github.com/ILLUVRSE/leo-handover/handover/internal/grpchealth"
	"github.com/ILLUVRSE/leo-handover/handover/internal/httpserver"
	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/orchestrator"
	"github.com/ILLUVRSE/leo-handover/handover/internal/pipeline"
	"github.com/ILLUVRSE/leo-handover/handover/internal/provider"
	"github.com/ILLUVRSE/leo-handover/handover/internal/scoring"
	"github.com/ILLUVRSE/leo-handover/handover/internal/selector"
	"github.com/ILLUVRSE/leo-handover/handover/internal/session"
	"github.com/ILLUVRSE/leo-handover/handover/internal/state"
	"github.com/ILLUVRSE/leo-handover/handover/internal/store"
	"github.com/ILLUVRSE/leo-handover/handover/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("[startup] logger init: %v", err)
	}
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("[startup] repository: %v", err)
	}
	defer closeRepo()

	st := state.NewManager(logger)
	if cfg.SatelliteFile != "" {
		n, err := st.LoadSatelliteFile(cfg.SatelliteFile)
		if err != nil {
			log.Fatalf("[startup] satellite file: %v", err)
		}
		log.Printf("[startup] loaded %d satellites from %s", n, cfg.SatelliteFile)
	}

	sel, err := selector.New(selectorConfig(cfg.Selector), scoringConfig(cfg.Scoring), logger)
	if err != nil {
		log.Fatalf("[startup] selector init: %v", err)
	}
	ex := executor.New(executorConfig(cfg.Executor), nil, logger)
	ex.OnRollback(func(plan models.RollbackPlan) { st.RecordRollback(plan) })

	decider, err := decisionProvider(cfg, logger)
	if err != nil {
		log.Fatalf("[startup] decision provider: %v", err)
	}
	sink, closeSink, err := visualizationSink(cfg, logger)
	if err != nil {
		log.Fatalf("[startup] visualization sink: %v", err)
	}
	defer closeSink()

	deps := orchestrator.Deps{
		Events:   events.NewProcessor(events.DefaultThresholds(), logger),
		Selector: sel,
		Provider: decider,
		Executor: ex,
		State:    st,
		Sink:     sink,
	}
	if repo != nil {
		deps.Repository = repo
	}
	if cfg.S3Bucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("[startup] s3 archiver: %v", err)
		}
		deps.Archiver = archiver
		log.Printf("[startup] archiving executions to s3://%s/%s", cfg.S3Bucket, cfg.S3Prefix)
	}

	orch, err := orchestrator.New(orchestratorConfig(cfg.Pipeline), deps, logger)
	if err != nil {
		log.Fatalf("[startup] orchestrator init: %v", err)
	}
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("[startup] orchestrator start: %v", err)
	}

	var sessionRepo store.Repository
	if repo != nil {
		sessionRepo = repo
	}
	guard := session.NewGuard(sessionRepo, logger)

	verifier := auth.NewVerifier(cfg)
	if !verifier.Enabled() {
		log.Printf("[startup] HANDOVER_JWT_SECRET not set; mutating routes are unauthenticated")
	}
	server := httpserver.New(cfg, httpserver.Deps{
		Orchestrator: orch,
		Executor:     ex,
		Selector:     sel,
		State:        st,
		Sessions:     guard,
		Repository:   sessionRepo,
		Auth:         verifier,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpchealth.NewServer(orch, logger).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("[startup] grpc listen %s: %v", cfg.GRPCAddr, err)
	}

	go func() {
		log.Printf("[startup] gRPC health listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()
	go func() {
		log.Printf("[startup] handover service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer, grpcServer, orch, guard)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server, grpcServer *grpc.Server, orch *orchestrator.Orchestrator, guard *session.Guard) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("[shutdown] signal received")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[shutdown] http: %v", err)
	}
	guard.StopAll(ctx)
	if err := orch.Stop(ctx); err != nil {
		log.Printf("[shutdown] orchestrator: %v", err)
	}
	grpcServer.GracefulStop()
	cancel()
}

// openRepository prefers Postgres, then an SQLite file. With neither
// configured sessions are kept in memory only.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, err
		}
		pg := store.NewPGStore(db)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Printf("[startup] using postgres repository")
		return pg, func() { db.Close() }, nil
	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[startup] using sqlite repository at %s", cfg.SQLitePath)
		return lite, func() { lite.Close() }, nil
	}
	log.Printf("[startup] no database configured; using in-memory repository")
	return store.NewMemoryStore(), func() {}, nil
}

func decisionProvider(cfg config.Config, logger logr.Logger) (orchestrator.DecisionProvider, error) {
	heuristic := provider.NewHeuristic(logger)
	if cfg.ProviderURL == "" {
		return heuristic, nil
	}
	remote, err := provider.NewHTTP(provider.HTTPConfig{
		BaseURL: cfg.ProviderURL,
		Timeout: cfg.ProviderTimeout,
		Retries: cfg.ProviderRetries,
	}, logger)
	if err != nil {
		return nil, err
	}
	log.Printf("[startup] remote decision provider at %s with heuristic fallback", cfg.ProviderURL)
	return provider.NewFallback(logger, remote, heuristic), nil
}

func visualizationSink(cfg config.Config, logger logr.Logger) (orchestrator.VisualizationSink, func(), error) {
	var next telemetry.Sink = telemetry.NewLogSink(logger)
	var closers []io.Closer
	if len(cfg.KafkaBrokers) > 0 {
		k, err := telemetry.NewKafkaSink(telemetry.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, k)
		next = telemetry.MultiSink{next, k}
		log.Printf("[startup] publishing visualization events to kafka topic %s", cfg.KafkaTopic)
	}
	async := telemetry.NewAsyncSink(next, 0, logger)
	closeAll := func() {
		_ = async.Close()
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Printf("[shutdown] sink close: %v", err)
			}
		}
	}
	return async, closeAll, nil
}

func selectorConfig(c config.SelectorConfig) selector.Config {
	return selector.Config{
		MaxCandidates:   c.MaxCandidates,
		MinElevation:    c.MinElevation,
		MinSignal:       c.MinSignal,
		MaxLoad:         c.MaxLoad,
		MinVisibility:   c.MinVisibility,
		Parallel:        c.Parallel,
		StrategyTimeout: c.StrategyTimeout,
		MaxPoolSize:     c.MaxPoolSize,
		Weights:         c.Weights,
	}
}

func scoringConfig(c config.ScoringConfig) scoring.Config {
	return scoring.Config{
		Method:                scoring.Method(c.Method),
		Normalization:         c.Normalization,
		ConfidenceWeighting:   c.ConfidenceWeighting,
		OutlierHandling:       c.OutlierHandling,
		MinStrategiesRequired: c.MinStrategiesRequired,
		ScoreThreshold:        c.ScoreThreshold,
		RankingMethod:         scoring.Ranking(c.RankingMethod),
		CustomWeights:         c.CustomWeights,
		BoostFactors:          c.BoostFactors,
	}
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	ec := executor.DefaultConfig()
	ec.DefaultTimeout = c.DefaultTimeout
	ec.MaxConcurrent = c.MaxConcurrent
	ec.RollbackEnabled = c.RollbackEnabled
	ec.MinConfidence = c.MinConfidence
	ec.MinSignalQuality = c.MinSignalQuality
	ec.PhaseTimeScale = c.PhaseTimeScale
	return ec
}

func orchestratorConfig(c config.PipelineConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	backoff := pipeline.BackoffFixed
	if c.Exponential {
		backoff = pipeline.BackoffExponential
	}
	oc.Retry = pipeline.RetryPolicy{
		MaxRetries: c.MaxRetries,
		Backoff:    backoff,
		BaseDelay:  c.BaseDelay,
		MaxDelay:   c.MaxDelay,
	}
	return oc
}
