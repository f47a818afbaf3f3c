package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment       string
	EncryptionKeyHex  string
	IMAPAddr          string
	IMAPUseTLS        bool
	SMTPAddr          string
	SMTPUseStartTLS   bool
	SMTPHelloDomain   string
	DBHost            string
	DBPort            string
	DBUsername        string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	Port              string
	SessionTTL        time.Duration
	SessionSweep      time.Duration
	SchedulerInterval time.Duration
	PushBackoff       time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("TIDEMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:       env,
		EncryptionKeyHex:  os.Getenv("TIDEMAIL_ENCRYPTION_KEY"),
		IMAPAddr:          os.Getenv("TIDEMAIL_IMAP_ADDR"),
		IMAPUseTLS:        getEnvBool("TIDEMAIL_IMAP_TLS", true),
		SMTPAddr:          os.Getenv("TIDEMAIL_SMTP_ADDR"),
		SMTPUseStartTLS:   getEnvBool("TIDEMAIL_SMTP_STARTTLS", true),
		SMTPHelloDomain:   getEnvOrDefault("TIDEMAIL_SMTP_HELLO_DOMAIN", "localhost"),
		DBHost:            getEnvOrDefault("TIDEMAIL_DB_HOST", "localhost"),
		DBPort:            getEnvOrDefault("TIDEMAIL_DB_PORT", "5432"),
		DBUsername:        getEnvOrDefault("TIDEMAIL_DB_USER", "tidemail"),
		DBPassword:        os.Getenv("TIDEMAIL_DB_PASSWORD"),
		DBName:            getEnvOrDefault("TIDEMAIL_DB_NAME", "tidemail"),
		DBSSLMode:         getEnvOrDefault("TIDEMAIL_DB_SSLMODE", "disable"),
		Port:              getEnvOrDefault("PORT", "8080"),
		SessionTTL:        getEnvDuration("TIDEMAIL_SESSION_TTL", 24*time.Hour),
		SessionSweep:      getEnvDuration("TIDEMAIL_SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SchedulerInterval: getEnvDuration("TIDEMAIL_SCHEDULER_INTERVAL", time.Minute),
		PushBackoff:       getEnvDuration("TIDEMAIL_PUSH_BACKOFF", 10*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyHex == "" {
		return fmt.Errorf("TIDEMAIL_ENCRYPTION_KEY is required")
	}

	// 32-byte AES key, hex-encoded. A missing or wrong-length secret is a
	// fatal startup error.
	if len(c.EncryptionKeyHex) != 64 {
		return fmt.Errorf("TIDEMAIL_ENCRYPTION_KEY must be 64 hex characters, got %d", len(c.EncryptionKeyHex))
	}

	if c.IMAPAddr == "" {
		return fmt.Errorf("TIDEMAIL_IMAP_ADDR is required")
	}

	if c.SMTPAddr == "" {
		return fmt.Errorf("TIDEMAIL_SMTP_ADDR is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("TIDEMAIL_DB_PASSWORD is required")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
