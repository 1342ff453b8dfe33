package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (API rate limiting + create idempotency)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Session verification (tokens issued by the external identity provider)
	JWTSecret string

	// Shared secret for the external scheduler that triggers dispatch runs
	CronSecret string

	// Mail transport
	MailProvider string // "ses", "resend", or "log"
	AWSRegion    string
	SESFromEmail string
	ResendAPIKey string
	ResendFrom   string

	// Expiry policy
	ThresholdDays int

	// Dispatcher
	DailyEmailCap      int
	DispatchChunkSize  int
	DispatchBatchDelay int // seconds between chunks when no continuation queue
	MaxBatchesPerRun   int
	DispatchInterval   int // hours between in-process runs, 0 disables the ticker

	// SQS continuation queue for multi-batch runs
	SQSRegion   string
	SQSQueueURL string

	// API rate limiting
	APIRateLimit  int
	APIRateWindow int // seconds
}

// Load reads configuration from environment variables with sensible defaults.
// A local .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "expiro",
		DBPassword: "",
		DBName:     "expiro",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		MailProvider: "log",
		AWSRegion:    "us-east-1",
		SESFromEmail: "reminders@expiro.local",
		ResendFrom:   "Expiro <reminders@expiro.local>",

		ThresholdDays: 90,

		DailyEmailCap:      95,
		DispatchChunkSize:  30,
		DispatchBatchDelay: 5,
		MaxBatchesPerRun:   10,
		DispatchInterval:   24,

		APIRateLimit:  100,
		APIRateWindow: 60,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.CronSecret = os.Getenv("CRON_SECRET")

	// Mail transport
	if provider := os.Getenv("MAIL_PROVIDER"); provider != "" {
		switch provider {
		case "ses", "resend", "log":
			cfg.MailProvider = provider
		default:
			return nil, fmt.Errorf("invalid MAIL_PROVIDER: %q (want ses, resend, or log)", provider)
		}
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.ResendAPIKey = key
	}

	if from := os.Getenv("RESEND_FROM"); from != "" {
		cfg.ResendFrom = from
	}

	// Expiry policy
	if days := os.Getenv("EXPIRY_THRESHOLD_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid EXPIRY_THRESHOLD_DAYS: %q", days)
		}
		cfg.ThresholdDays = d
	}

	// Dispatcher
	if dailyCap := os.Getenv("DAILY_EMAIL_CAP"); dailyCap != "" {
		c, err := strconv.Atoi(dailyCap)
		if err != nil || c <= 0 {
			return nil, fmt.Errorf("invalid DAILY_EMAIL_CAP: %q (must be positive; disable dispatch via DISPATCH_INTERVAL_HOURS=0 instead)", dailyCap)
		}
		cfg.DailyEmailCap = c
	}

	if size := os.Getenv("DISPATCH_CHUNK_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_CHUNK_SIZE: %q", size)
		}
		cfg.DispatchChunkSize = s
	}

	if delay := os.Getenv("DISPATCH_BATCH_DELAY_SECONDS"); delay != "" {
		d, err := strconv.Atoi(delay)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_DELAY_SECONDS: %q", delay)
		}
		cfg.DispatchBatchDelay = d
	}

	if maxBatches := os.Getenv("DISPATCH_MAX_BATCHES_PER_RUN"); maxBatches != "" {
		m, err := strconv.Atoi(maxBatches)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_MAX_BATCHES_PER_RUN: %q", maxBatches)
		}
		cfg.MaxBatchesPerRun = m
	}

	if interval := os.Getenv("DISPATCH_INTERVAL_HOURS"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL_HOURS: %q", interval)
		}
		cfg.DispatchInterval = i
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// API rate limiting
	if limit := os.Getenv("API_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return nil, fmt.Errorf("invalid API_RATE_LIMIT: %q", limit)
		}
		cfg.APIRateLimit = l
	}

	if window := os.Getenv("API_RATE_WINDOW_SECONDS"); window != "" {
		w, err := strconv.Atoi(window)
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("invalid API_RATE_WINDOW_SECONDS: %q", window)
		}
		cfg.APIRateWindow = w
	}

	return cfg, nil
}
