package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "go.pilab.hu/oauth-broker/api/echo"
	"go.pilab.hu/oauth-broker/cache/redis"
	"go.pilab.hu/oauth-broker/config"
	"go.pilab.hu/oauth-broker/internal/crypto"
	"go.pilab.hu/oauth-broker/log"
	"go.pilab.hu/oauth-broker/mongodb"
	"go.pilab.hu/oauth-broker/providerclient"
	"go.pilab.hu/oauth-broker/registry"
	"go.pilab.hu/oauth-broker/secrets"
	"go.pilab.hu/oauth-broker/services"
	"go.pilab.hu/oauth-broker/statetoken"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting oauth-broker server...", map[string]any{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"redis_addr":    cfg.RedisAddr,
		"log_level":     logLevel.String(),
	})

	cipherKey, err := base64.StdEncoding.DecodeString(cfg.TokenCipherKey)
	if err != nil {
		fatal(appLogger, "TOKEN_CIPHER_KEY is not valid base64", err)
	}
	cipher, err := crypto.NewTokenCipher(cipherKey)
	if err != nil {
		fatal(appLogger, "Failed to initialize token cipher", err)
	}
	if cfg.StateSigningKey == "" {
		fatal(appLogger, "STATE_SIGNING_KEY must be set", nil)
	}

	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		fatal(appLogger, "Failed to initialize MongoDB connection", initErr)
	}
	records := mongodb.NewTokenRecordRepository(mongodb.GetDB())
	if err := records.EnsureIndexes(ctx); err != nil {
		fatal(appLogger, "Failed to ensure token record indexes", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fatal(appLogger, "Failed to connect to Redis", err)
	}
	nonces := redis.NewNonceStore(redisClient, "oauth_broker")

	reg, err := registry.New(cfg.Providers)
	if err != nil {
		fatal(appLogger, "Failed to build provider registry", err)
	}

	resolver := secrets.NewResolver(secrets.NewEnvStore(), cfg.SecretCacheTTL(), appLogger)
	defer resolver.Close()

	codec := statetoken.NewCodec([]byte(cfg.StateSigningKey), cfg.StateTTL(), nonces)
	providers := providerclient.NewClient(&http.Client{Timeout: cfg.ProviderTimeout()})

	broker := services.NewBrokerService(
		reg, codec, resolver, providers, records, cipher,
		cfg.CallbackBaseURL, cfg.AllowedReturnPrefixes, appLogger,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())

	api := echoapi.NewBrokerAPI(broker, func(c echo.Context) error {
		return mongodb.Ping(c.Request().Context())
	})
	api.RegisterRoutes(e)

	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			fatal(appLogger, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down...", sig))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := redisClient.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Redis close error", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

func fatal(logger log.Logger, msg string, err error) {
	logger.Error(context.Background(), msg, err)
	os.Exit(1)
}
