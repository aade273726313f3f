package main

import (
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Andrey79999/kanban/api"
	"github.com/Andrey79999/kanban/board"
	"github.com/Andrey79999/kanban/objectstore"
	"github.com/Andrey79999/kanban/storage"
	"github.com/Andrey79999/kanban/stream"
)

type config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	// Redis is optional; without it listings always hit the database.
	RedisConnString string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	StreamSendTimeout time.Duration `env:"STREAM_SEND_TIMEOUT" envDefault:"5s"`

	S3Endpoint  string        `env:"S3_ENDPOINT"`
	S3Region    string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string        `env:"S3_BUCKET,required"`
	S3AccessKey string        `env:"S3_ACCESS_KEY"`
	S3SecretKey string        `env:"S3_SECRET_KEY"`
	S3UseSSL    bool          `env:"S3_USE_SSL" envDefault:"false"`
	PresignTTL  time.Duration `env:"PRESIGN_TTL" envDefault:"1h"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	var boardStore board.Store = store
	if cfg.RedisConnString != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisConnString)
		if err != nil {
			logger.Fatalf("redis config: %v", err)
		}
		boardStore = storage.NewCache(store, redis.NewClient(redisOpts), cfg.CacheTTL)
	}

	blobs, err := objectstore.New(objectstore.Config{
		Endpoint:   cfg.S3Endpoint,
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		UseSSL:     cfg.S3UseSSL,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		logger.Fatalf("objectstore: %v", err)
	}

	hub := stream.NewHub(logger, cfg.StreamSendTimeout)

	policy := board.DefaultUploadPolicy()
	if cfg.MaxUploadBytes > 0 {
		policy.MaxSizeBytes = cfg.MaxUploadBytes
	}
	svc := board.NewService(boardStore, hub, blobs, policy, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("16M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-Client-ID"},
	}))

	api.Register(e, svc, hub, logger)

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
