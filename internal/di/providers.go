package di

import (
	"context"
	"fmt"
	"time"

	"VegeCast/internal/domain/repository"
	"VegeCast/internal/handler/api"
	internalrepo "VegeCast/internal/repository"
	"VegeCast/internal/service/cache"
	"VegeCast/internal/usecase"
	pkgch "VegeCast/pkg/clickhouse"
	"VegeCast/pkg/config"
	xhttp "VegeCast/pkg/http"
	pkgkafka "VegeCast/pkg/kafka"
	applogger "VegeCast/pkg/logger"
	"VegeCast/pkg/metrics"
	pkgpg "VegeCast/pkg/postgres"
	"VegeCast/pkg/server"
)

// ProvideLogger creates the application logger from the environment.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	level := "info"
	if cfg.Environment == "development" {
		format = "console"
		level = "debug"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideClickHouseClient creates the read-side ClickHouse client. The
// aggregate tables belong to the ingestion pipeline; no schema work here.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvidePostgresClient creates the model registry client and applies
// its schema.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.PostgresDSN()),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ModelSchemaStatements()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, nil
}

// ProvideAggregateReader creates the ClickHouse-backed aggregate reader.
func ProvideAggregateReader(chClient *pkgch.Client, l *applogger.Logger) repository.AggregateReader {
	store := internalrepo.NewCHAggregateStore(chClient)
	store.SetLogger(l)
	return store
}

// ProvideModelStore creates the Postgres model registry.
func ProvideModelStore(pgClient *pkgpg.Client, l *applogger.Logger) repository.ModelStore {
	store := internalrepo.NewPGModelStore(pgClient)
	store.SetLogger(l)
	return store
}

// ProvideReportStore creates the Postgres report store.
func ProvideReportStore(pgClient *pkgpg.Client, l *applogger.Logger) repository.ReportStore {
	store := internalrepo.NewPGReportStore(pgClient)
	store.SetLogger(l)
	return store
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideMatrixBuilder creates the feature resolver and dataset builder.
func ProvideMatrixBuilder(cfg *config.Config, reader repository.AggregateReader, l *applogger.Logger) *usecase.MatrixBuilder {
	rc := usecase.DefaultResolverConfig(cfg.Forecast.Region)
	rc.EpochYear = cfg.Forecast.EpochYear
	rc.HistoricalYears = cfg.Forecast.HistoricalYears
	rc.MinRequiredYears = cfg.Forecast.MinRequiredYears
	rc.MaxLookbackYears = cfg.Forecast.MaxLookbackYears
	rc.BaseStartYear = cfg.Forecast.BaseStartYear
	rc.MinObsMargin = cfg.Forecast.MinObsMargin
	return usecase.NewMatrixBuilder(reader, rc, l)
}

// ProvideForecaster creates the fit and rollover use case.
func ProvideForecaster(
	store repository.ModelStore,
	reports repository.ReportStore,
	matrix *usecase.MatrixBuilder,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Forecaster {
	return usecase.NewForecaster(store, reports, matrix, m, l)
}

// ProvideBytesCache selects the report cache backend: Redis when
// configured, in-process TTL map otherwise.
func ProvideBytesCache(cfg *config.Config) cache.BytesCache {
	if cfg.Cache.Redis.Enabled {
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return cache.NewTTLCache()
}

// ProvideHTTPHandler creates the forecast API handler.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	forecaster *usecase.Forecaster,
	store repository.ModelStore,
	reports repository.ReportStore,
	bc cache.BytesCache,
) xhttp.Handler {
	return api.NewForecastEchoHandler(l, forecaster, store, reports, bc, cfg.Cache.TTL, cfg.Webhook.Token, cfg.Forecast.LookAheadYears)
}

// ProvideKafkaProducer creates the forecast-updated event producer, nil
// when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the ingest-event consumer, nil when Kafka
// is disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideIngestHandler registers the rollover trigger on the ingest topic.
func ProvideIngestHandler(
	cfg *config.Config,
	forecaster *usecase.Forecaster,
	producer *pkgkafka.Producer,
	l *applogger.Logger,
) *usecase.IngestEventHandler {
	return usecase.NewIngestEventHandler(
		cfg.Kafka.Consumer.Topic,
		cfg.Kafka.Producer.Topic,
		cfg.Forecast.LookAheadYears,
		forecaster,
		producer,
		l,
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	ih *usecase.IngestEventHandler,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	pgClient *pkgpg.Client,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, handler, consumer, ih, producer, chClient, pgClient)
}
