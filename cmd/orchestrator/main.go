// cmd/orchestrator/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reminder-orchestrator/internal/analytics"
	"reminder-orchestrator/internal/channels"
	"reminder-orchestrator/internal/common/clock"
	"reminder-orchestrator/internal/common/config"
	"reminder-orchestrator/internal/common/database"
	"reminder-orchestrator/internal/common/logger"
	"reminder-orchestrator/internal/common/observability"
	"reminder-orchestrator/internal/common/storage"
	"reminder-orchestrator/internal/contacts"
	"reminder-orchestrator/internal/cultural"
	"reminder-orchestrator/internal/delivery"
	"reminder-orchestrator/internal/escalation"
	"reminder-orchestrator/internal/family"
	"reminder-orchestrator/internal/models"
	"reminder-orchestrator/internal/orchestrator"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting reminder orchestrator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init AWS clients ---
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Notifications.AWS.Region))
	if err != nil {
		zapLog.Fatal("aws config load failed", zap.Error(err))
	}
	snsClient := sns.NewFromConfig(awsCfg)
	sesClient := ses.NewFromConfig(awsCfg)
	zapLog.Info("AWS clients initialized", zap.String("region", cfg.Notifications.AWS.Region))

	// --- Channel adapters ---
	smsAdapter := channels.NewSMSAdapter(snsClient, cfg.Notifications.AWS.SNS.DefaultSMSSenderID)
	emailAdapter := channels.NewEmailAdapter(sesClient, cfg.Notifications.AWS.SES.FromEmail)

	adapters := []channels.Adapter{
		channels.NewPushAdapter(snsClient),
		smsAdapter,
		emailAdapter,
	}
	if cfg.Notifications.Voice.Enabled {
		adapters = append(adapters, channels.NewVoiceAdapter(
			cfg.Notifications.Voice.GatewayURL,
			cfg.Notifications.Voice.APIKey,
			time.Duration(cfg.Notifications.Voice.Timeout)*time.Millisecond,
		))
	}
	if cfg.Notifications.Visual.Enabled {
		adapters = append(adapters, channels.NewVisualAdapter(redisClient.Client, cfg.Notifications.Visual.ChannelPrefix))
	}
	registry := channels.NewRegistry(adapters...)

	// --- Core services ---
	clk := clock.New()
	repo := storage.NewRedisRepository(redisClient.Client)
	culturalProvider := cultural.NewStaticProvider(cfg.Cultural)
	directory := contacts.NewPostgresDirectory(pg.DB)

	weights := make(map[models.DeliveryMethod]int, len(cfg.Delivery.MethodWeights))
	for method, weight := range cfg.Delivery.MethodWeights {
		weights[models.DeliveryMethod(method)] = weight
	}

	coordinator := delivery.NewCoordinator(
		delivery.Config{
			Mode:                         cfg.Delivery.Mode,
			InterMethodDelay:             cfg.Delivery.InterMethodDelayDuration(),
			TimeoutPeriod:                cfg.Delivery.TimeoutPeriodDuration(),
			AdapterTimeout:               cfg.Delivery.AdapterTimeoutDuration(),
			ConfirmationRequired:         cfg.Delivery.ConfirmationRequired,
			FailoverEnabled:              cfg.Delivery.FailoverEnabled,
			RespectSchedulingConstraints: cfg.Cultural.RespectSchedulingConstraints,
			MethodWeights:                weights,
		},
		registry, culturalProvider, repo, clk, log,
	)

	tiers := escalation.NewTierStore(cfg.Escalation.TiersPath, cfg.Escalation.RulesPath, log)
	if cfg.Escalation.TiersPath != "" || cfg.Escalation.RulesPath != "" {
		if err := tiers.Reload(); err != nil {
			zapLog.Fatal("tier/rule configuration load failed", zap.Error(err))
		}
	}

	engine := escalation.NewEngine(tiers, coordinator, repo, cfg.Escalation.CooldownDuration(), clk, log)
	engine.SetContactSource(directory)
	engine.SetDoctorAlerter(emailAdapter)
	engine.SetDispatcher(escalation.NewLogDispatcher(log))

	broadcaster := family.NewBroadcaster(coordinator, smsAdapter, repo, cfg.Delivery.TimeoutPeriodDuration(), clk, log)
	broadcaster.SetResolver(engine)
	engine.SetBroadcaster(broadcaster)
	coordinator.SetEscalator(engine)

	var esRaw *elasticsearch.Client
	if esClient != nil {
		esRaw = esClient.Client
	}
	tracker := analytics.NewTracker(repo, esRaw, cfg.Database.Elasticsearch.Index, clk, log)
	coordinator.SetPreferenceSource(tracker)

	monitor := escalation.NewMonitor(
		engine, repo,
		cfg.Escalation.MonitorIntervalDuration(),
		cfg.Escalation.CooldownDuration(),
		clk, log,
	)
	monitor.Start(ctx)

	service := orchestrator.NewService(
		engine, coordinator, tracker, repo,
		cfg.Delivery.BatchIntervalDuration(),
		clk, log,
	)
	go service.Run(ctx)

	zapLog.Info("All services wired, orchestrator running")

	// --- Metrics endpoint ---
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	// --- Signal handling: SIGHUP reloads tiers/rules, INT/TERM stop ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			zapLog.Info("SIGHUP received, reloading tier and rule configuration")
			if err := tiers.Reload(); err != nil {
				zapLog.Error("configuration reload failed", zap.Error(err))
			}
			continue
		}
		break
	}

	zapLog.Info("Shutting down...")
	stop()
	time.Sleep(500 * time.Millisecond)
	zapLog.Info("Shutdown complete")
}
