package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"loanwise/loan-portal/loan-portal-backend/internal/applications"
	"loanwise/loan-portal/loan-portal-backend/internal/auth"
	"loanwise/loan-portal/loan-portal-backend/internal/verifier"
	"loanwise/loan-portal/loan-portal-backend/pkg/storage"
	"loanwise/loan-portal/loan-portal-backend/pkg/workerpool"
)

const (
	StorageDriverS3     = "s3"
	StorageDriverMemory = "memory"

	LogStorePostgres = "postgres"
	LogStoreMongo    = "mongo"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig               `json:"server"`
	Database       DatabaseConfig             `json:"database"`
	Storage        StorageConfig              `json:"storage"`
	Verifier       verifier.Config            `json:"verifier"`
	Pool           workerpool.Config          `json:"pool"`
	Notifications  NotificationsConfig        `json:"notifications"`
	Sweeper        applications.SweeperConfig `json:"sweeper"`
	ValidationLogs ValidationLogsConfig       `json:"validation_logs"`
	Review         ReviewConfig               `json:"review"`
	Logging        LoggingConfig              `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
	RunMigrations  bool          `json:"run_migrations"`
}

// StorageConfig selects and configures the document blob store
type StorageConfig struct {
	Driver       string           `json:"driver"`
	S3           storage.S3Config `json:"s3"`
	MaxFileBytes int64            `json:"max_file_bytes"`
}

// NotificationsConfig configures status-change delivery. Blank targets
// disable the matching AWS channel; the WebSocket stream is always on.
type NotificationsConfig struct {
	Region           string        `json:"region"`
	Endpoint         string        `json:"endpoint"`
	SNSTopicARN      string        `json:"sns_topic_arn"`
	SESFromAddress   string        `json:"ses_from_address"`
	DeliveryLogTable string        `json:"delivery_log_table"`
	DeliveryLogTTL   time.Duration `json:"delivery_log_ttl"`
	StreamOrigins    []string      `json:"stream_origins"`
}

// Enabled reports whether any AWS channel is configured
func (n NotificationsConfig) Enabled() bool {
	return n.SNSTopicARN != "" || n.SESFromAddress != ""
}

// ValidationLogsConfig picks where verification attempts are recorded
type ValidationLogsConfig struct {
	Store         string `json:"store"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
}

// ReviewConfig holds the credentials for manual decisions. TokenHash is a
// bcrypt hash of the shared credential; Token is hashed at startup when no
// hash is configured. Signed reviewer tokens are enabled by JWT.Secret.
type ReviewConfig struct {
	Token     string         `json:"token"`
	TokenHash string         `json:"token_hash"`
	JWT       auth.JWTConfig `json:"jwt"`
}

// Enabled reports whether any reviewer credential is configured
func (r ReviewConfig) Enabled() bool {
	return r.Token != "" || r.TokenHash != ""
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// Development reports whether the development logger should be used
func (l LoggingConfig) Development() bool {
	return strings.EqualFold(l.Level, "debug")
}

// Default returns the configuration used before the file and environment
// are applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			DBName:         "loan_portal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
			RunMigrations:  true,
		},
		Storage: StorageConfig{
			Driver:       StorageDriverS3,
			MaxFileBytes: 10 << 20,
			S3:           storage.S3Config{Prefix: "loan-documents"},
		},
		Verifier: verifier.Config{
			Program:   "python3",
			Args:      []string{"scripts/validate_documents.py"},
			Timeout:   verifier.DefaultTimeout,
			InputMode: verifier.InputModeArgs,
		},
		Pool:    workerpool.DefaultConfig(),
		Sweeper: applications.DefaultSweeperConfig(),
		Notifications: NotificationsConfig{
			DeliveryLogTTL: 30 * 24 * time.Hour,
		},
		ValidationLogs: ValidationLogsConfig{
			Store:         LogStorePostgres,
			MongoDatabase: "loan_portal",
		},
		Review: ReviewConfig{
			JWT: auth.JWTConfig{
				Issuer:   "loan-portal",
				Audience: "loan-decisions",
				TTL:      8 * time.Hour,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from file and environment variables. A .env
// file, when present, is loaded into the environment first and never
// overrides variables that are already set.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	var problems []string

	switch c.Storage.Driver {
	case StorageDriverS3:
		if c.Storage.S3.Bucket == "" {
			problems = append(problems, "storage.s3.bucket is required for the s3 driver")
		}
	case StorageDriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.ValidationLogs.Store {
	case LogStorePostgres:
	case LogStoreMongo:
		if c.ValidationLogs.MongoURI == "" {
			problems = append(problems, "validation_logs.mongo_uri is required for the mongo store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown validation log store %q", c.ValidationLogs.Store))
	}

	if strings.TrimSpace(c.Verifier.Program) == "" {
		problems = append(problems, "verifier.program is required")
	}
	if c.Review.JWT.Secret != "" && !c.Review.Enabled() {
		problems = append(problems, "review.jwt requires review.token or review.token_hash to issue tokens")
	}
	if c.Pool.CoreWorkers <= 0 || c.Pool.MaxWorkers < c.Pool.CoreWorkers {
		problems = append(problems, "pool.max_workers must be at least pool.core_workers, which must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func overrideWithEnv(config *Config) error {
	var errs []error

	setString(&config.Server.Host, "SERVER_HOST")
	errs = append(errs, setInt(&config.Server.Port, "SERVER_PORT"))

	setString(&config.Database.Host, "DATABASE_HOST")
	errs = append(errs, setInt(&config.Database.Port, "DATABASE_PORT"))
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")
	errs = append(errs, setBool(&config.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS"))

	setString(&config.Storage.Driver, "STORAGE_DRIVER")
	setString(&config.Storage.S3.Bucket, "S3_BUCKET")
	setString(&config.Storage.S3.Region, "AWS_REGION")
	setString(&config.Storage.S3.Prefix, "S3_PREFIX")
	setString(&config.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&config.Storage.S3.PublicBaseURL, "S3_PUBLIC_BASE_URL")
	errs = append(errs, setBool(&config.Storage.S3.UsePathStyle, "S3_USE_PATH_STYLE"))

	setString(&config.Verifier.Program, "VERIFIER_PROGRAM")
	if args, ok := os.LookupEnv("VERIFIER_ARGS"); ok {
		config.Verifier.Args = strings.Fields(args)
	}
	errs = append(errs, setDuration(&config.Verifier.Timeout, "VERIFIER_TIMEOUT"))
	if mode := os.Getenv("VERIFIER_INPUT_MODE"); mode != "" {
		config.Verifier.InputMode = verifier.InputMode(mode)
	}

	errs = append(errs,
		setInt(&config.Pool.CoreWorkers, "POOL_CORE_WORKERS"),
		setInt(&config.Pool.MaxWorkers, "POOL_MAX_WORKERS"),
		setInt(&config.Pool.QueueSize, "POOL_QUEUE_SIZE"),
	)

	if config.Notifications.Region == "" {
		config.Notifications.Region = config.Storage.S3.Region
	}
	setString(&config.Notifications.Endpoint, "AWS_ENDPOINT_URL")
	setString(&config.Notifications.SNSTopicARN, "SNS_TOPIC_ARN")
	setString(&config.Notifications.SESFromAddress, "SES_FROM_ADDRESS")
	setString(&config.Notifications.DeliveryLogTable, "DELIVERY_LOG_TABLE")
	if origins := os.Getenv("STREAM_ALLOWED_ORIGINS"); origins != "" {
		config.Notifications.StreamOrigins = strings.Split(origins, ",")
	}

	setString(&config.Sweeper.Schedule, "SWEEPER_SCHEDULE")
	errs = append(errs, setDuration(&config.Sweeper.StaleAfter, "SWEEPER_STALE_AFTER"))

	setString(&config.ValidationLogs.Store, "VALIDATION_LOG_STORE")
	setString(&config.ValidationLogs.MongoURI, "MONGO_URI")
	setString(&config.ValidationLogs.MongoDatabase, "MONGO_DATABASE")

	setString(&config.Review.Token, "REVIEWER_TOKEN")
	setString(&config.Review.TokenHash, "REVIEWER_TOKEN_HASH")
	setString(&config.Review.JWT.Secret, "REVIEWER_JWT_SECRET")
	errs = append(errs, setDuration(&config.Review.JWT.TTL, "REVIEWER_JWT_TTL"))
	setString(&config.Logging.Level, "LOG_LEVEL")

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
