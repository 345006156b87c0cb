package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"email-guard/internal/client"
	"email-guard/internal/config"
	"email-guard/internal/guard"
	redisrepo "email-guard/internal/repository/redis"
	"email-guard/internal/service"
	"email-guard/internal/tls"
	"email-guard/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Caches
	frequencyCache *redisrepo.FrequencyCache
	otpCache       *redisrepo.OTPAttemptCache
	blockCache     *redisrepo.IPBlockCache
	patternCache   *redisrepo.PatternCache
	abuseLogCache  *redisrepo.AbuseLogCache
	counterCache   *redisrepo.CounterCache

	// Protection layer
	limiters     *guard.LimiterSet
	otpGuard     *guard.OTPGuard
	baseChain    *guard.Chain
	sendChain    *guard.Chain
	verifyChain  *guard.Chain
	recorder     *service.Recorder
	abuseService *service.AbuseService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeProtection()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("elasticsearch_enabled", cfg.Elasticsearch.Enabled),
	)

	return factory, nil
}

// initializeClients initializes the external service clients with health
// checks. Redis is the authoritative store and required; the long-term sinks
// are optional and fail soft outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	var initErrors []error

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			if err := f.esClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("sink initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Sink initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeProtection wires the caches, guard stages, and services.
func (f *Factory) initializeProtection() {
	p := f.config.Protection

	f.frequencyCache = redisrepo.NewFrequencyCache(f.redisClient, p.FrequencyEntryTTL)
	f.otpCache = redisrepo.NewOTPAttemptCache(f.redisClient, p.OTPLockoutWindow)
	f.blockCache = redisrepo.NewIPBlockCache(f.redisClient)
	f.patternCache = redisrepo.NewPatternCache(f.redisClient, p.PatternRecordTTL)
	f.abuseLogCache = redisrepo.NewAbuseLogCache(f.redisClient, p.AbuseLogRetention)
	f.counterCache = redisrepo.NewCounterCache(f.redisClient)

	f.limiters = guard.NewLimiterSet(f.counterCache)
	f.otpGuard = guard.NewOTPGuard(f.otpCache, p.OTPAttemptThreshold, p.OTPLockoutWindow)

	f.recorder = service.NewRecorder(
		f.abuseLogCache,
		f.kafkaProducer,
		f.clickhouseClient,
		f.esClient,
		f.config.Elasticsearch.Index,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.recorder.EnsureSchema(ctx); err != nil {
		util.Warn("Failed to ensure ClickHouse schema", util.ErrorField(err))
	}

	ipBlock := guard.NewIPBlockStage(f.blockCache)
	honeypot := guard.NewHoneypotStage()
	emailCheck := guard.NewEmailValidationStage()
	frequency := guard.NewFrequencyStage(f.frequencyCache, p.FrequencyMinInterval)
	pattern := guard.NewPatternStage(f.patternCache, f.blockCache, guard.PatternConfig{
		Window:      p.PatternWindow,
		MaxRequests: p.PatternMaxRequests,
		MaxEmails:   p.PatternMaxEmails,
		MaxAgents:   p.PatternMaxAgents,
		HistorySize: p.PatternHistorySize,
		VolumeBlock: p.VolumeBlockDuration,
		EnumBlock:   p.EnumBlockDuration,
		AgentBlock:  p.AgentBlockDuration,
	})

	f.baseChain = guard.NewChain(f.recorder, ipBlock, honeypot, pattern)
	f.sendChain = guard.NewChain(f.recorder, ipBlock, honeypot, emailCheck, frequency, pattern)
	f.verifyChain = guard.NewChain(f.recorder, ipBlock, f.otpGuard)

	f.abuseService = service.NewAbuseService(
		f.abuseLogCache,
		f.blockCache,
		f.otpCache,
		f.frequencyCache,
		f.esClient,
		f.config.Elasticsearch.Index,
		p.DefaultBlockDuration,
	)

	util.Info("Protection layer initialized",
		util.Int("otp_attempt_threshold", p.OTPAttemptThreshold),
		util.Int("pattern_max_requests", p.PatternMaxRequests),
		util.Int("pattern_max_emails", p.PatternMaxEmails),
		util.Int("pattern_max_agents", p.PatternMaxAgents),
	)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Sinks are best effort; only the authoritative store gates health.
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) Limiters() *guard.LimiterSet {
	return f.limiters
}

func (f *Factory) OTPGuard() *guard.OTPGuard {
	return f.otpGuard
}

func (f *Factory) BaseChain() *guard.Chain {
	return f.baseChain
}

func (f *Factory) SendChain() *guard.Chain {
	return f.sendChain
}

func (f *Factory) VerifyChain() *guard.Chain {
	return f.verifyChain
}

func (f *Factory) Recorder() *service.Recorder {
	return f.recorder
}

func (f *Factory) AbuseService() *service.AbuseService {
	return f.abuseService
}
