package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"

	contactsync "github.com/goliatone/go-contact-sync"
	"github.com/goliatone/go-contact-sync/adapters/gozap"
	"github.com/goliatone/go-contact-sync/core"
	syncmigrations "github.com/goliatone/go-contact-sync/migrations"
	"github.com/goliatone/go-contact-sync/security"
	redisstore "github.com/goliatone/go-contact-sync/store/redis"
)

type persistenceConfig struct {
	driver string
	dsn    string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "contact-sync" }

// environment owns every process resource opened for one command run.
type environment struct {
	app     appConfig
	logger  *zap.Logger
	client  *persistence.Client
	redis   *redis.Client
	queue   *redisstore.TaskQueue
	runtime *contactsync.Runtime
}

func (e *environment) Close() {
	if e == nil {
		return
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.client != nil {
		_ = e.client.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func newLogger(app appConfig) (*zap.Logger, error) {
	return gozap.NewBase(app.LogLevel, app.LogDevelopment)
}

func openPersistence(app appConfig) (*persistence.Client, string, error) {
	migrationDialect, err := syncmigrations.DialectForDriver(app.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if migrationDialect == syncmigrations.DialectPostgres {
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(app.DatabaseDriver, app.DatabaseDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", app.DatabaseDriver, err)
	}
	if migrationDialect == syncmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{
		driver: app.DatabaseDriver,
		dsn:    app.DatabaseDSN,
		debug:  app.DatabaseDebug,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("persistence client: %w", err)
	}
	return client, migrationDialect, nil
}

// openDatabase is enough for the migrate command, which needs neither the
// vault nor providers.
func openDatabase(ctx context.Context, v *viper.Viper) (*environment, string, error) {
	app, err := loadAppConfig(v)
	if err != nil {
		return nil, "", err
	}
	logger, err := newLogger(app)
	if err != nil {
		return nil, "", err
	}
	env := &environment{app: app, logger: logger}
	client, dialect, err := openPersistence(app)
	if err != nil {
		env.Close()
		return nil, "", err
	}
	env.client = client
	logger.Debug("database opened", zap.String("driver", app.DatabaseDriver), zap.String("dialect", dialect))
	return env, dialect, nil
}

// openEnvironment builds the full runtime: database, vault, optional redis
// queue and locker, golden-record cache and logger.
func openEnvironment(ctx context.Context, v *viper.Viper) (*environment, error) {
	env, _, err := openDatabase(ctx, v)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	if env.app.VaultKey == "" {
		return nil, fmt.Errorf("vault.key is required")
	}
	vault, err := security.NewAppKeyVaultFromHex(env.app.VaultKey)
	if err != nil {
		return nil, err
	}

	cfg, err := core.LoadConfig(ctx, viperLoader{v: v}, core.Config{})
	if err != nil {
		return nil, err
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = cfg.Cache.GoldenRecordsTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, err
	}

	deps := contactsync.RuntimeDependencies{
		Persistence:    env.client,
		Vault:          vault,
		Cache:          cacheService,
		LoggerProvider: gozap.NewProvider(env.logger),
		Locker:         core.NewMemoryConnectionLocker(),
	}
	if env.app.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, redisstore.Options{
			Addr:      env.app.RedisAddr,
			Password:  env.app.RedisPassword,
			DB:        env.app.RedisDB,
			KeyPrefix: env.app.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		env.redis = client
		env.queue = redisstore.NewTaskQueue(client, env.app.RedisPrefix,
			redisstore.WithLeaseTimeout(leaseTimeout(cfg)),
		)
		deps.Enqueuer = env.queue
		deps.Locker = redisstore.NewConnectionLocker(client, env.app.RedisPrefix)
	}

	rt, err := contactsync.NewRuntime(cfg, deps)
	if err != nil {
		return nil, err
	}
	env.runtime = rt
	env.logger.Info("runtime ready",
		zap.String("service", rt.Config.ServiceName),
		zap.Strings("providers", providerIDs(rt.Registry)),
		zap.Bool("redis", env.redis != nil),
	)
	ok = true
	return env, nil
}

func providerIDs(registry core.Registry) []string {
	providers := registry.List()
	ids := make([]string, 0, len(providers))
	for _, provider := range providers {
		ids = append(ids, provider.ID())
	}
	return ids
}

// leaseTimeout outlives the longest task expiry so a slow but live worker
// is never raced by a redelivery.
func leaseTimeout(cfg core.Config) time.Duration {
	longest := time.Duration(0)
	for _, policy := range []core.TaskPolicy{cfg.Jobs.Sync, cfg.Jobs.TokenRefresh, cfg.Jobs.Scheduler} {
		if policy.Expire > longest {
			longest = policy.Expire
		}
	}
	return longest + time.Minute
}
