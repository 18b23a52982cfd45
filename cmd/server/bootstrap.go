package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/storefront/internal/api"
	"github.com/charlesng35/storefront/internal/app"
	"github.com/charlesng35/storefront/internal/app/maintenance"
	"github.com/charlesng35/storefront/internal/cache"
	"github.com/charlesng35/storefront/internal/database"
	"github.com/charlesng35/storefront/internal/identity"
	"github.com/charlesng35/storefront/internal/ingest"
	"github.com/charlesng35/storefront/internal/middleware"
	"github.com/charlesng35/storefront/internal/repository"
	"github.com/charlesng35/storefront/internal/services"
	"github.com/charlesng35/storefront/internal/storage"
	"github.com/charlesng35/storefront/internal/storage/memory"
	"github.com/charlesng35/storefront/internal/storage/s3"
	"github.com/charlesng35/storefront/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      cache.Store
	Objects    storage.Store
	Catalog    *services.CatalogService
	Pipeline   *ingest.Pipeline
	Reconciler *maintenance.Reconciler
	RateStore  middleware.RateStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, caches, object store, catalog
// service, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	itemCache := cache.Store(dbStore)
	if stack.Redis != nil {
		itemCache = stack.Redis
	}

	stack.Objects, err = initialiseObjectStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	items := repository.NewItems(stack.DB, itemCache, cfg.Cache.ItemTTL())
	attachments := repository.NewAttachments(stack.DB)

	stack.Catalog, err = services.NewCatalogService(stack.DB, items, attachments, stack.Objects, services.FinalizePolicy{})
	if err != nil {
		return nil, fmt.Errorf("initialise catalog service: %w", err)
	}

	stack.Pipeline = ingest.NewPipeline(cfg.Uploads.IngestOptions())

	verifier, err := identity.NewVerifier(ctx, cfg.Auth.VerifierConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token verifier: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Reconciler = maintenance.NewReconciler(stack.Catalog, dbStore,
			maintenance.WithFinalizeSchedule(cfg.Maintenance.FinalizeSpec),
			maintenance.WithCachePurgeSchedule(cfg.Maintenance.CachePurgeSpec),
			maintenance.WithFinalizeAge(cfg.Maintenance.FinalizeAge),
		)
		if err := stack.Reconciler.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.RateStore = middleware.NewSharedRateStore(itemCache)

	stack.Router, err = api.NewRouter(stack.Catalog, stack.Pipeline, verifier, cfg, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Reconciler != nil {
		stopCtx := s.Reconciler.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Reconciler.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func initialiseObjectStore(ctx context.Context, cfg *app.Config, log *zap.Logger) (storage.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case "memory":
		log.Warn("using in-memory object store; attachment bytes will not survive a restart")
		return memory.New(), nil
	case "", "s3":
		store, err := s3.New(ctx, cfg.Storage.S3StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise object store: %w", err)
		}
		log.Info("object store connected",
			zap.String("bucket", cfg.Storage.S3.Bucket),
			zap.String("region", cfg.Storage.S3.Region))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
