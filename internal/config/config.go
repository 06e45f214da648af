package config

import (
	"fmt"     // For DSN formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings" // For joining validation problems
	"time"    // For duration settings

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort string // Application port
	IsProd  bool   // Is production environment

	DBDriver   string // mysql, postgres or sqlite
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name (file path for sqlite)
	DBDSN      string // Full DSN, overrides the parts above

	RedisAddr string // Redis server address
	RedisPass string // Redis password
	RedisDB   int    // Redis database number

	Queue      Queue
	Processing Processing
	Outbox     Outbox

	CacheTTL  time.Duration // TTL for cached terminal transactions
	LogLevel  string        // logrus level name
	LogFormat string        // text or json
}

// Queue configures the Redis stream work queue
type Queue struct {
	Stream            string        // Work item stream
	Group             string        // Consumer group
	Consumer          string        // Consumer name inside the group
	MaxAttempts       int           // Deliveries before dead-lettering
	VisibilityTimeout time.Duration // Idle time before a pending item is reclaimed
	RetryBase         time.Duration // First retry delay
	RetryMax          time.Duration // Retry delay cap
	Concurrency       int           // Parallel handlers per worker process
}

// Processing configures the transaction processor
type Processing struct {
	Delay   time.Duration // Simulated work duration
	Timeout time.Duration // Upper bound for a single item
}

// Outbox configures the outbox relay sweep
type Outbox struct {
	Interval time.Duration // Time between sweeps
	Grace    time.Duration // Minimum age of a row before the relay touches it
	Batch    int           // Rows per sweep
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	hostname, _ := os.Hostname()
	return &Config{
		AppPort: getEnv("APP_PORT", "8000"),
		IsProd:  os.Getenv("IS_PROD") == "true",

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     os.Getenv("DB_PORT"),
		DBName:     getEnv("DB_NAME", "transactions"),
		DBDSN:      os.Getenv("DB_DSN"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass: os.Getenv("REDIS_PASS"),
		RedisDB:   getInt("REDIS_DB", 0),

		Queue: Queue{
			Stream:            getEnv("QUEUE_STREAM", "transactions:process"),
			Group:             getEnv("QUEUE_GROUP", "transaction-processor"),
			Consumer:          getEnv("QUEUE_CONSUMER", hostname),
			MaxAttempts:       getInt("QUEUE_MAX_ATTEMPTS", 5),
			VisibilityTimeout: getDuration("QUEUE_VISIBILITY_TIMEOUT", 2*time.Minute),
			RetryBase:         getDuration("QUEUE_RETRY_BASE", 2*time.Second),
			RetryMax:          getDuration("QUEUE_RETRY_MAX", 5*time.Minute),
			Concurrency:       getInt("WORKER_CONCURRENCY", 4),
		},
		Processing: Processing{
			Delay:   getDuration("PROCESSING_DELAY", 30*time.Second),
			Timeout: getDuration("PROCESSING_TIMEOUT", 90*time.Second),
		},
		Outbox: Outbox{
			Interval: getDuration("OUTBOX_INTERVAL", 15*time.Second),
			Grace:    getDuration("OUTBOX_GRACE", 30*time.Second),
			Batch:    getInt("OUTBOX_BATCH", 100),
		},

		CacheTTL:  getDuration("CACHE_TTL", 10*time.Minute),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// DSN builds the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	switch c.DBDriver {
	case "postgres":
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBUser, c.DBPassword, c.DBName, port)
	case "sqlite":
		return c.DBName
	default:
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + port + ")/" + c.DBName + "?parseTime=true&loc=UTC"
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var problems []string
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		problems = append(problems, "DB_DRIVER must be one of mysql, postgres, sqlite")
	}
	if c.DBName == "" && c.DBDSN == "" {
		problems = append(problems, "DB_NAME or DB_DSN must be set")
	}
	if c.RedisAddr == "" {
		problems = append(problems, "REDIS_ADDR cannot be empty")
	}
	if c.Queue.Stream == "" || c.Queue.Group == "" || c.Queue.Consumer == "" {
		problems = append(problems, "QUEUE_STREAM, QUEUE_GROUP and QUEUE_CONSUMER cannot be empty")
	}
	if c.Queue.MaxAttempts < 1 {
		problems = append(problems, "QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		problems = append(problems, "WORKER_CONCURRENCY must be at least 1")
	}
	// Without a timeout an item runs for the whole delay
	bound, boundKey := c.Processing.Timeout, "PROCESSING_TIMEOUT"
	if bound <= 0 {
		bound, boundKey = c.Processing.Delay, "PROCESSING_DELAY"
	}
	if bound >= c.Queue.VisibilityTimeout {
		problems = append(problems, boundKey+" must be shorter than QUEUE_VISIBILITY_TIMEOUT")
	}
	if c.Outbox.Grace <= 0 {
		problems = append(problems, "OUTBOX_GRACE must be positive")
	}
	if c.Outbox.Batch < 1 {
		problems = append(problems, "OUTBOX_BATCH must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
