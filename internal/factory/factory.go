package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postal-service/internal/audit"
	"postal-service/internal/biometric"
	"postal-service/internal/bucketing"
	"postal-service/internal/bus"
	"postal-service/internal/client"
	"postal-service/internal/config"
	"postal-service/internal/encryption"
	"postal-service/internal/hashing"
	"postal-service/internal/model"
	"postal-service/internal/notify"
	"postal-service/internal/otp"
	"postal-service/internal/repository/memory"
	redisrepo "postal-service/internal/repository/redis"
	"postal-service/internal/repository/scylla"
	"postal-service/internal/search"
	"postal-service/internal/service"
	"postal-service/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies. Every
// external system has an in-process fallback, so development and tests run
// with no infrastructure at all; production refuses to start degraded.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	biometricGate     *biometric.Gate

	// Wired components
	subjects  model.SubjectLedger
	parcels   model.ParcelLedger
	txStore   model.TransactionStore
	eventBus  bus.Bus
	index     search.ParcelIndex
	auditor   audit.Recorder
	transport notify.DeliveryTransport
	issuer    *otp.Issuer

	serviceFactory *service.ServiceFactory

	busCancel context.CancelFunc
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

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeComponents()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health
// checks. In development a missing backend is a warning; in production any
// failure aborts startup.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if f.config.Redis.URL != "" {
		if redisClient, err := client.NewRedisClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			}
		}
	}

	// ScyllaDB
	if len(f.config.Scylla.Nodes) > 0 {
		if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = scyllaClient
			if err := f.scyllaClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			}
		}
	}

	// Kafka
	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			if consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.GroupID); err != nil {
				initErrors = append(initErrors, fmt.Errorf("kafka consumer: %w", err))
			} else {
				f.kafkaConsumer = consumer
			}
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.URL != "" {
		if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = esClient
		}
	}

	// ClickHouse
	if f.config.Clickhouse.URL != "" {
		if clickhouseClient, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = clickhouseClient
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing, and the
// biometric gate
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config, falling back to local encryption keys",
				util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)
	f.biometricGate = biometric.NewGate(f.config.Verification.BiometricThreshold)
}

// initializeComponents picks the real or in-process implementation for each
// wired component based on which clients came up.
func (f *Factory) initializeComponents() {
	if f.scyllaClient != nil {
		f.subjects = scylla.NewSubjectRepository(f.scyllaClient, f.bucketingManager)
		f.parcels = scylla.NewParcelRepository(f.scyllaClient, f.bucketingManager)
	} else {
		util.Warn("Scylla unavailable, using in-memory ledgers")
		f.subjects = memory.NewSubjectStore()
		f.parcels = memory.NewParcelStore()
	}

	if f.redisClient != nil {
		f.txStore = redisrepo.NewTransactionStore(f.redisClient)
	} else {
		util.Warn("Redis unavailable, using in-memory transaction store")
		f.txStore = memory.NewTransactionStore()
	}

	if f.kafkaProducer != nil && f.kafkaConsumer != nil {
		kafkaBus := bus.NewKafkaBus(f.kafkaProducer, f.kafkaConsumer)
		busCtx, cancel := context.WithCancel(context.Background())
		f.busCancel = cancel
		go kafkaBus.Run(busCtx)
		f.eventBus = kafkaBus
	} else {
		util.Warn("Kafka unavailable, using in-memory event bus")
		f.eventBus = bus.NewMemoryBus()
	}

	if f.esClient != nil {
		f.index = search.NewESParcelIndex(f.esClient, f.config.Elasticsearch.Index)
	} else {
		f.index = search.NewLedgerScanIndex(f.parcels)
	}

	if f.clickhouseClient != nil {
		f.auditor = audit.NewClickHouseRecorder(f.clickhouseClient)
	} else {
		f.auditor = audit.NewNoopRecorder()
	}

	transports := make([]notify.DeliveryTransport, 0, 2)
	if f.config.Delivery.SMTPHost != "" {
		transports = append(transports, notify.NewEmailTransport(f.config))
	}
	if f.config.Delivery.SMSGatewayURL != "" {
		transports = append(transports, notify.NewSMSTransport(f.config))
	}
	if len(transports) > 0 {
		f.transport = notify.NewMultiTransport(transports...)
	} else {
		f.transport = notify.NewLogTransport()
	}

	f.issuer = otp.NewIssuer(f.txStore, f.hasher,
		f.config.Verification.OTPLength, f.config.Verification.OTPTTL)
}

// ServiceFactory returns the wired service layer.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.subjects, f.parcels, f.biometricGate, f.hasher,
			f.encryptionManager, f.issuer, f.transport, f.eventBus,
			f.index, f.auditor,
			f.config.Verification.ReceiveRequiresOTP,
			f.config.Verification.SessionTimeout,
		)
	}
	return f.serviceFactory
}

// HealthCheck reports the health of every initialized client.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.busCancel != nil {
			f.busCancel()
		}
		if closer, ok := f.eventBus.(interface{ Close() }); ok && closer != nil {
			closer.Close()
		}
		if f.auditor != nil {
			f.auditor.Close()
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) EventBus() bus.Bus {
	return f.eventBus
}

func (f *Factory) SubjectLedger() model.SubjectLedger {
	return f.subjects
}

func (f *Factory) ParcelLedger() model.ParcelLedger {
	return f.parcels
}
