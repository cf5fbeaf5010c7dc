package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/qcom/taskmanager/internal/config"
	"github.com/qcom/taskmanager/internal/handlers"
	"github.com/qcom/taskmanager/internal/middleware"
	"github.com/qcom/taskmanager/internal/ratelimit"
	"github.com/qcom/taskmanager/internal/repository"
	"github.com/qcom/taskmanager/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Fatal("Invalid LOG_LEVEL")
	}
	logger.SetLevel(level)

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}
	authService := service.NewAuthService(userRepo, jwtService, logger)

	registry, err := ratelimit.NewRegistry(ratelimit.PoliciesFromConfig(cfg.RateLimit), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize rate limiter")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.RateLimit.IdleTTL > 0 {
		go registry.RunEviction(ctx, evictionInterval(cfg.RateLimit.IdleTTL), cfg.RateLimit.IdleTTL)
	}

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(authService, logger),
		handlers.NewUserHandlers(authService, logger),
		middleware.NewAuthMiddleware(jwtService, authService, logger),
		middleware.NewRateLimitMiddleware(registry, ratelimit.DefaultClassifier(), logger),
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":              cfg.Server.Port,
			"auth_rate_limit":   cfg.RateLimit.Auth.Capacity,
			"api_rate_limit":    cfg.RateLimit.API.Capacity,
			"bucket_idle_ttl_s": cfg.RateLimit.IdleTTL.Seconds(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// evictionInterval sweeps twice per idle TTL, but not more than once a second.
func evictionInterval(idleTTL time.Duration) time.Duration {
	if interval := idleTTL / 2; interval > time.Second {
		return interval
	}
	return time.Second
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}
