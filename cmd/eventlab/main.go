package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	catalogApp "github.com/davicafu/eventlab/internal/catalog/application"
	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	catalogEvents "github.com/davicafu/eventlab/internal/catalog/infra/inbound/events"
	catalogReadMongo "github.com/davicafu/eventlab/internal/catalog/infra/outbound/db/mongodb"
	catalogReadPg "github.com/davicafu/eventlab/internal/catalog/infra/outbound/db/postgre"
	catalogReadSqlite "github.com/davicafu/eventlab/internal/catalog/infra/outbound/db/sqlite"
	config "github.com/davicafu/eventlab/internal/config"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/analytics/clickhouse"
	storePg "github.com/davicafu/eventlab/internal/shared/infra/db/postgres"
	storeSqlite "github.com/davicafu/eventlab/internal/shared/infra/db/sqlite"
	infraEvents "github.com/davicafu/eventlab/internal/shared/infra/events"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/eventlab/internal/shared/infra/platform/cache"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cqrs"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/dispatch"
	infraRelayer "github.com/davicafu/eventlab/internal/shared/infra/relayer"
	"github.com/davicafu/eventlab/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()          // inicializa zap
	log := logger.Logger() // obtiene logger estructurado
	defer log.Sync()       // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	// ---------------- Event Store ----------------
	var db *sql.DB
	var err error
	var eventStore sharedDomain.EventStore
	var outboxRepo sharedDomain.OutboxRepository

	switch cfg.EventStoreDriver {
	case "postgres":
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open PostgreSQL", zap.Error(err))
		}
		if err := storePg.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize PostgreSQL schema", zap.Error(err))
		}
		eventStore = storePg.NewEventStorePostgres(db)
		outboxRepo = storePg.NewOutboxRepoPostgres(db)
	default:
		db, err = sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		if err := storeSqlite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite schema", zap.Error(err))
		}
		eventStore = storeSqlite.NewEventStoreSQLite(db)
		outboxRepo = storeSqlite.NewOutboxRepoSQLite(db)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping event store database", zap.Error(err))
	}

	// ---------------- Read Model ----------------
	var readRepo catalogDomain.ProductReadRepository

	storeDriver := "sqlite"
	if cfg.EventStoreDriver == "postgres" {
		storeDriver = "postgres"
	}

	switch cfg.ReadModelDriver {
	case "mongodb":
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer mongoClient.Disconnect(ctx)

		readRepo, err = catalogReadMongo.NewProductReadRepoMongoDB(ctx, mongoClient, cfg.MongoDatabase)
		if err != nil {
			log.Fatal("failed to initialize MongoDB read model", zap.Error(err))
		}
	case "postgres", "sqlite":
		// El read model SQL comparte el handle del event store: su dialecto
		// tiene que coincidir con el driver abierto arriba.
		if cfg.ReadModelDriver != storeDriver {
			log.Fatal("read model driver incompatible con el event store",
				zap.String("read_model", cfg.ReadModelDriver),
				zap.String("event_store", storeDriver))
		}
		if storeDriver == "postgres" {
			if err := catalogReadPg.InitPostgresProductViewSchema(db); err != nil {
				log.Fatal("failed to initialize read model schema", zap.Error(err))
			}
			readRepo = catalogReadPg.NewProductReadRepoPostgres(db)
		} else {
			if err := catalogReadSqlite.InitSQLiteProductViewSchema(db); err != nil {
				log.Fatal("failed to initialize read model schema", zap.Error(err))
			}
			readRepo = catalogReadSqlite.NewProductReadRepoSQLite(db)
		}
	default:
		log.Fatal("unknown read model driver", zap.String("read_model", cfg.ReadModelDriver))
	}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
		cacheInstance = sharedCache.NewInMemoryCache(ttl, 3*ttl)
	} else {
		cacheInstance = sharedCache.NewRedisCache(rdb, time.Duration(cfg.CacheTTLSecs)*time.Second)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// ---------------- Events ----------------
	var publisher sharedBus.EventPublisher
	var dispatcher *dispatch.Dispatcher

	useKafka := len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != ""
	if useKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		// Sin topic fijo: cada mensaje lleva el suyo en la routing key.
		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.KafkaBrokers,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
		})
		defer writer.Close()

		publisher = infraEvents.NewKafkaPublisher(writer, cfg.KafkaBrokers, log)

		// El notificador en tiempo real comparte broker pero escribe en el
		// topic de actualizaciones.
		dispatcher = dispatch.NewDispatcher(log,
			catalogEvents.NewProductProjector(readRepo, eventStore, cacheInstance, publisher, log),
		)

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    catalogDomain.ProductTopic,
			GroupID:  "eventlab-catalog-projector",
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		defer reader.Close()

		consumer := catalogEvents.NewConsumerAdapter(reader, dispatcher, log)
		consumer.Start(ctx)
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		inMemoryBus := infraEvents.NewInMemoryEventBus()
		publisher = inMemoryBus

		dispatcher = dispatch.NewDispatcher(log,
			catalogEvents.NewProductProjector(readRepo, eventStore, cacheInstance, publisher, log),
		)

		log.Info("🎧 Iniciando listener en memoria para eventos de producto")
		catalogEvents.BackgroundConsumerChan(ctx, inMemoryBus.Subscribe(64), dispatcher, log)
	}

	// ------------ Outbox Processor ------------
	processor := infraRelayer.NewProcessor(
		outboxRepo, publisher, cfg.RetryPolicy,
		cfg.OutboxInterval, cfg.OutboxBatchSize, cfg.OutboxRetention, log,
	)
	processor.Start(ctx)
	defer processor.Stop()

	// ------------ Buses CQRS ------------
	productRepo := catalogApp.NewProductRepository(eventStore, sharedDomain.SnapshotPolicy{Every: cfg.SnapshotEvery}, log)

	commandBus := cqrs.NewCommandBus(cfg.ConcurrencyRetries, log)
	if err := catalogApp.RegisterProductHandlers(commandBus, catalogApp.NewProductCommandHandlers(productRepo)); err != nil {
		log.Fatal("failed to register command handlers", zap.Error(err))
	}

	queryBus := cqrs.NewQueryBus(log)
	if err := catalogApp.RegisterProductQueryHandlers(queryBus, catalogApp.NewProductQueryHandlers(readRepo, cacheInstance, cfg.CacheTTLSecs, log)); err != nil {
		log.Fatal("failed to register query handlers", zap.Error(err))
	}

	// ------------ Archivado analítico ------------
	if cfg.ClickHouseAddr != "" {
		archive, err := clickhouse.NewEventArchive(cfg.ClickHouseAddr, "eventlab")
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, archivado deshabilitado", zap.Error(err))
		} else {
			archiver := clickhouse.NewArchiver(eventStore, archive, 500)
			go func() {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := archiver.Run(ctx); err != nil {
							log.Warn("⚠️ Fallo archivando eventos", zap.Error(err))
						}
					}
				}
			}()
		}
	}

	// ---------------- HTTP ----------------
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		health := processor.HealthStatus(c.Request.Context())
		status := 200
		if !health.Running || !health.BrokerHealthy {
			status = 503
		}
		c.JSON(status, health)
	})

	router.GET("/stats", func(c *gin.Context) {
		stats, err := processor.Statistics(c.Request.Context())
		if err != nil {
			c.JSON(500, gin.H{"error": "failed to read outbox statistics"})
			return
		}
		c.JSON(200, stats)
	})

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}
