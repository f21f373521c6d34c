package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/clinicq/queue-api/pkg/messaging/redis"
	"github.com/clinicq/queue-api/pkg/worker"
)

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// QueueConfig tunes the estimation and booking rules. TimeSlots is the fixed
// set of bookable windows; SlotCapacity caps bookings per department per slot.
type QueueConfig struct {
	AvgConsultationMins int      `mapstructure:"avg_consultation_mins"`
	SlotCapacity        int      `mapstructure:"slot_capacity"`
	TimeSlots           []string `mapstructure:"time_slots"`
}

type NotifierConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Outbox    OutboxConfig   `mapstructure:"outbox"`
	Queue     QueueConfig    `mapstructure:"queue"`
	Notifier  NotifierConfig `mapstructure:"notifier"`
	SMTP      SMTPConfig     `mapstructure:"smtp"`
	RateLimit struct {
		Enabled           bool    `mapstructure:"enabled"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
	Security struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		AllowedMethods []string `mapstructure:"allowed_methods"`
		AllowedHeaders []string `mapstructure:"allowed_headers"`
	} `mapstructure:"security"`
	Monitoring struct {
		PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`
		MetricsPath       string `mapstructure:"metrics_path"`
	} `mapstructure:"monitoring"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.AvgConsultationMins <= 0 {
		c.Queue.AvgConsultationMins = 15
	}
	if c.Queue.SlotCapacity <= 0 {
		c.Queue.SlotCapacity = 10
	}
	if len(c.Queue.TimeSlots) == 0 {
		c.Queue.TimeSlots = []string{
			"09:00-10:00", "10:00-11:00", "11:00-12:00", "12:00-13:00",
			"14:00-15:00", "15:00-16:00", "16:00-17:00",
		}
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.RetryAttempts <= 0 {
		c.Outbox.RetryAttempts = 3
	}
	if c.Outbox.RetryDelay <= 0 {
		c.Outbox.RetryDelay = time.Second
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Notifier.BatchSize <= 0 {
		c.Notifier.BatchSize = 50
	}
	if c.Notifier.PollInterval <= 0 {
		c.Notifier.PollInterval = 10 * time.Second
	}
	if c.Notifier.MaxRetries <= 0 {
		c.Notifier.MaxRetries = 3
	}
	if c.Notifier.RetryBackoff <= 0 {
		c.Notifier.RetryBackoff = time.Minute
	}
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		c.Database.Port, _ = strconv.Atoi(port)
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		c.Database.Name = name
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxRetries:    c.MaxRetries,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
