package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loanwise/loan-portal/loan-portal-backend/internal/applications"
	"loanwise/loan-portal/loan-portal-backend/internal/auth"
	"loanwise/loan-portal/loan-portal-backend/internal/config"
	"loanwise/loan-portal/loan-portal-backend/internal/notifications"
	"loanwise/loan-portal/loan-portal-backend/internal/validation"
	"loanwise/loan-portal/loan-portal-backend/pkg/storage"
)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	if cfg.Driver == config.StorageDriverMemory {
		baseURL := cfg.S3.PublicBaseURL
		if baseURL == "" {
			baseURL = "memory://documents"
		}
		return storage.NewMemoryStore(baseURL, cfg.S3.Prefix), nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client, cfg.S3), nil
}

// newValidationLogs returns the configured log repository and a function
// releasing whatever connection it holds
func newValidationLogs(ctx context.Context, cfg config.ValidationLogsConfig, db *gorm.DB, logger *zap.Logger) (validation.Repository, func(), error) {
	if cfg.Store != config.LogStoreMongo {
		return validation.NewRepository(db), func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Warn("Failed to disconnect from mongo", zap.Error(err))
		}
	}

	mdb := client.Database(cfg.MongoDatabase)
	if err := validation.EnsureMongoIndexes(ctx, mdb); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to create validation log indexes: %w", err)
	}
	logger.Info("Recording validation logs in mongo", zap.String("database", cfg.MongoDatabase))
	return validation.NewMongoRepository(mdb), closeFn, nil
}

// newNotifier fans status events out to the stream hub and to whichever AWS
// channels are configured
func newNotifier(ctx context.Context, cfg config.NotificationsConfig, hub *notifications.StreamHub, logger *zap.Logger) (*notifications.Service, error) {
	channels := []notifications.Channel{hub}
	if !cfg.Enabled() {
		return notifications.NewService(channels, nil, logger), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	var endpoint *string
	if cfg.Endpoint != "" {
		endpoint = aws.String(cfg.Endpoint)
	}

	if cfg.SNSTopicARN != "" {
		client := sns.NewFromConfig(awsCfg, func(o *sns.Options) { o.BaseEndpoint = endpoint })
		channels = append(channels, notifications.NewSNSChannel(client, cfg.SNSTopicARN))
	}
	if cfg.SESFromAddress != "" {
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) { o.BaseEndpoint = endpoint })
		channels = append(channels, notifications.NewEmailChannel(client, cfg.SESFromAddress))
	}

	var recorder notifications.DeliveryRecorder
	if cfg.DeliveryLogTable != "" {
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) { o.BaseEndpoint = endpoint })
		recorder = notifications.NewDynamoDeliveryLog(client, cfg.DeliveryLogTable, cfg.DeliveryLogTTL)
	}

	logger.Info("Status notifications enabled", zap.Int("channels", len(channels)), zap.Bool("delivery_log", recorder != nil))
	return notifications.NewService(channels, recorder, logger), nil
}

// newReviewers builds the decision authenticator and, when signed tokens are
// enabled, the handler that issues them. Both are nil without a credential.
func newReviewers(cfg config.ReviewConfig, logger *zap.Logger) (auth.Chain, *auth.Handler, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}

	hash := cfg.TokenHash
	if hash == "" {
		var err error
		if hash, err = auth.HashToken(cfg.Token, 0); err != nil {
			return nil, nil, err
		}
	}
	shared, err := auth.NewSharedTokenAuthenticator(hash, "reviewer")
	if err != nil {
		return nil, nil, err
	}
	if cfg.JWT.Secret == "" {
		return auth.Chain{shared}, nil, nil
	}

	tokens, err := auth.NewJWTAuthenticator(cfg.JWT)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Signed reviewer tokens enabled", zap.Duration("ttl", cfg.JWT.TTL))
	return auth.Chain{tokens, shared}, auth.NewHandler(shared, tokens, logger), nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// cors allows browser clients, including the reviewer header
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Origin, Cache-Control, X-Requested-With, "+applications.ReviewerTokenHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
