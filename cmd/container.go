// cmd/container.go
//
// Root composition root. Owns shared infrastructure (DB, Redis, AWS) and
// composes the trust container. This is the only place that knows about
// all modules.
package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/authn/authninfra"
	"github.com/strongroom-io/strongroom/pkg/trust/trustcontainer"
)

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	Trust *trustcontainer.Container
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}
	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

func (c *Container) initInfrastructure() {
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("Failed to connect to Redis: %v (Redis is required)", err)
	}
	logx.Info("  ✅ Redis connected")
}

func (c *Container) initModules() {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logx.Fatalf("Unable to load AWS SDK config: %v", err)
	}

	c.Trust = trustcontainer.New(trustcontainer.Deps{
		Cfg:       c.Config,
		DB:        c.DB,
		Redis:     c.Redis,
		AWS:       awsCfg,
		Connector: authninfra.NewHTTPIdentityConnector(&c.Config.Authn),
	})
	logx.Info("  ✅ Trust module initialized")
}

func (c *Container) StartBackgroundServices(ctx context.Context) {
	c.Trust.StartBackgroundServices(ctx)
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		}
	}

	logx.Info("✅ Cleanup complete")
}
