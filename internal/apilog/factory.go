package apilog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"apilogger/config"
	"apilogger/internal/storage"
)

// Result holds the initialized pipeline and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Pipeline Service
	Builder  *Builder
	Storage  storage.Storage
}

// Close releases all resources held by the pipeline.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Pipeline != nil {
		if err := r.Pipeline.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates the log pipeline from configuration.
// Returns a Result containing the pipeline, the record builder, and
// the storage connection for lifecycle management. The caller must
// call Result.Close() during shutdown.
//
// If both the durable sink and live dispatch are disabled, returns a
// NoopService with nil storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	logCfg := cfg.Logging

	if !logCfg.SinkEnabled && !logCfg.DispatchEnabled {
		return &Result{
			Pipeline: &NoopService{},
			Builder:  nil,
			Storage:  nil,
		}, nil
	}

	builder := NewBuilder(buildOptions(logCfg), NewKeySet(logCfg.RedactionKeys...))

	var store storage.Storage
	var sink Sink
	var err error

	if logCfg.SinkEnabled {
		store, err = storage.New(ctx, buildStorageConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}

		sink, err = createSink(store, logCfg)
		if err != nil {
			store.Close()
			return nil, err
		}

		// Surface a missing target at startup instead of on the
		// first flush. With provisioning enabled the sink already
		// created its target, so this only fails on real outages.
		if err := sink.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("sink target check failed: %w", err)
		}
	}

	flushInterval := time.Duration(logCfg.FlushInterval) * time.Second
	if logCfg.FlushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	queueCapacity := logCfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}

	pipeline, err := NewPipeline(PipelineConfig{
		QueueCapacity:   queueCapacity,
		FlushInterval:   flushInterval,
		Sink:            sink,
		SinkEnabled:     logCfg.SinkEnabled,
		DispatchEnabled: logCfg.DispatchEnabled,
	})
	if err != nil {
		if sink != nil {
			sink.Close()
		}
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &Result{
		Pipeline: pipeline,
		Builder:  builder,
		Storage:  store,
	}, nil
}

// buildOptions creates builder Options from the logging config.
func buildOptions(logCfg config.LogConfig) Options {
	opts := Options{
		PathType:            PathType(logCfg.PathType),
		StaticPrefixes:      logCfg.StaticPrefixes,
		SkipRouteNames:      logCfg.SkipRouteNames,
		SkipNamespaces:      logCfg.SkipNamespaces,
		Methods:             logCfg.Methods,
		StatusCodes:         logCfg.StatusCodes,
		ContentTypes:        logCfg.ContentTypes,
		MaxRequestBodySize:  logCfg.MaxRequestBodySize,
		MaxResponseBodySize: logCfg.MaxResponseBodySize,
		TracingEnabled:      logCfg.TracingEnabled,
		TracingHeader:       logCfg.TracingHeader,
	}
	return opts
}

// buildStorageConfig creates a storage.Config from the application config.
func buildStorageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
		Redis: storage.RedisConfig{
			URL: cfg.Storage.Redis.URL,
		},
	}

	if storageCfg.Type == "" {
		storageCfg.Type = storage.TypeSQLite
	}
	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = ".cache/apilogger.db"
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = "apilogger"
	}

	return storageCfg
}

// createSink creates the appropriate Sink for the given storage backend.
func createSink(store storage.Storage, logCfg config.LogConfig) (Sink, error) {
	target := logCfg.SinkTarget
	provision := logCfg.AutoProvision
	retention := logCfg.RetentionDays

	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteSink(store.SQLiteDB(), target, provision, retention)

	case storage.TypePostgreSQL:
		pool, ok := store.PostgreSQLPool().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", store.PostgreSQLPool())
		}
		return NewPostgreSQLSink(pool, target, provision, retention)

	case storage.TypeMongoDB:
		db, ok := store.MongoDatabase().(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", store.MongoDatabase())
		}
		return NewMongoDBSink(db, target, provision, retention)

	case storage.TypeRedis:
		client, ok := store.RedisClient().(*redis.Client)
		if !ok {
			return nil, fmt.Errorf("invalid Redis client type: %T", store.RedisClient())
		}
		return NewRedisSink(client, target)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
