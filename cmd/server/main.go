// Command server runs the presence verification engine: HTTP surface,
// PostgreSQL persistence with embedded migrations, the Redis presence index,
// and the Kafka audit pipeline. Every external dependency is optional in
// development; missing ones degrade to in-memory adapters.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vicinity/internal/audit"
	"vicinity/internal/notify"
	"vicinity/internal/platform/config"
	"vicinity/internal/platform/httpserver"
	"vicinity/internal/platform/logger"
	"vicinity/internal/platform/postgres"
	platformredis "vicinity/internal/platform/redis"
	"vicinity/internal/transport/http"
	"vicinity/internal/verification/geocell"
	"vicinity/internal/verification/gesture"
	"vicinity/internal/verification/handler"
	"vicinity/internal/verification/metrics"
	"vicinity/internal/verification/ports"
	"vicinity/internal/verification/schedule"
	"vicinity/internal/verification/scoring"
	"vicinity/internal/verification/service"
	challengestore "vicinity/internal/verification/store/challenge"
	ledgerstore "vicinity/internal/verification/store/ledger"
	observationstore "vicinity/internal/verification/store/observation"
	presencestore "vicinity/internal/verification/store/presence"
	scorestore "vicinity/internal/verification/store/score"
	subjectstore "vicinity/internal/verification/store/subject"
	"vicinity/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	checks := map[string]httptransport.HealthCheck{}

	// Persistence. Without a DSN everything runs in memory, which is the
	// local development mode.
	stores := service.Stores{
		Subjects:     subjectstore.NewInMemory(),
		Observations: observationstore.NewInMemory(),
		Scores:       scorestore.NewInMemory(),
		Challenges:   challengestore.NewInMemory(),
		Days:         ledgerstore.NewInMemory(),
		Presence:     presencestore.NewInMemory(),
	}

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		stores.Subjects = subjectstore.NewPostgres(db)
		stores.Observations = observationstore.NewPostgres(db)
		stores.Scores = scorestore.NewPostgres(db)
		stores.Challenges = challengestore.NewPostgres(db)
		stores.Days = ledgerstore.NewPostgres(db)
		checks["postgres"] = db.PingContext
		log.Info("postgres connected")
	}

	scoringCfg := scoring.DefaultConfig()
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		stores.Presence = presencestore.NewRedis(redisClient.Client, scoringCfg.TrajectoryLookback)
		checks["redis"] = redisClient.Health
		log.Info("redis connected")
	}

	// Audit pipeline. The Kafka sink is the production path, guarded by a
	// circuit breaker so a broker outage sheds audit writes instead of
	// stalling requests. Without brokers events stay in memory and are
	// visible only to this process.
	var sink audit.Sink = audit.NewInMemorySink()
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		sink = audit.NewGuarded(kafkaSink, circuit.New("audit-kafka"), log)
		log.Info("kafka audit sink connected", "topic", cfg.Kafka.AuditTopic)
	}
	publisher := audit.NewPublisher(sink, audit.WithLogger(log))

	m := metrics.New()

	var notifier ports.Notifier = notify.NewAudited(notify.NewLog(log), publisher)

	scorer := scoring.New(stores.Observations, stores.Presence,
		geocell.NewPrefixResolver(geocell.DefaultRegionLength),
		scoring.WithLogger(log),
		scoring.WithConfig(scoringCfg),
	)
	classifier := gesture.New(gesture.DefaultConfig())
	scheduler, err := schedule.New(stores.Challenges, notifier, schedule.WithLogger(log))
	if err != nil {
		return err
	}

	svc, err := service.New(stores, scorer, classifier, scheduler, notifier,
		service.WithLogger(log),
		service.WithAudit(publisher),
		service.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(handler.New(svc, log), checks)
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting vicinity", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
