package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration for both roles.
type Config struct {
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
	AdminAddr string          `env:"ADMIN_ADDR" envDefault:":9091"`
	Tailer    TailerConfig    `envPrefix:"TAILER_"`
	Collector CollectorConfig `envPrefix:"COLLECTOR_"`
}

// TailerConfig configures the file-tailing role.
type TailerConfig struct {
	SourcesFile    string        `env:"SOURCES_FILE" envDefault:"/etc/logrelay/sources.yaml"`
	SyslogAddr     string        `env:"SYSLOG_ADDR" envDefault:"127.0.0.1:514"`
	MaxMessageSize int           `env:"MAX_MESSAGE_SIZE" envDefault:"65507"`
	ReadMax        int           `env:"READ_MAX_BYTES" envDefault:"8192"`
	ReadInterval   time.Duration `env:"READ_INTERVAL" envDefault:"10ms"`
	SendRate       float64       `env:"SEND_RATE" envDefault:"10000"`
	SendBurst      int           `env:"SEND_BURST" envDefault:"100"`
	Watch          bool          `env:"WATCH" envDefault:"true"`
}

// CollectorConfig configures the datagram collector and its writer.
type CollectorConfig struct {
	BindAddr          string        `env:"BIND_ADDR" envDefault:"0.0.0.0:514"`
	ReadMax           int           `env:"READ_MAX_BYTES" envDefault:"32768"`
	PostgresURL       string        `env:"POSTGRES_URL"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	TailStream        string        `env:"TAIL_STREAM" envDefault:"log_tail"`
	TailStreamMaxLen  int64         `env:"TAIL_STREAM_MAX_LEN" envDefault:"10000"`
	CacheSize         int           `env:"CACHE_SIZE" envDefault:"1024"`
	RetryAttempts     int           `env:"RETRY_ATTEMPTS" envDefault:"-1"`
	RetryInterval     time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`
	QueueMemoryLimit  int           `env:"QUEUE_MEMORY_LIMIT" envDefault:"100000"`
	SpillDir          string        `env:"SPILL_DIR"`
	SpillSegmentSize  int64         `env:"SPILL_SEGMENT_SIZE_BYTES" envDefault:"8388608"`     // 8MB
	SpillMaxDiskSize  int64         `env:"SPILL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	HostTouchInterval time.Duration `env:"HOST_TOUCH_INTERVAL" envDefault:"1m"`
	RedactParams      string        `env:"REDACT_PARAMS" envDefault:"password,passwd,token,secret,api_key"`
}

// Load reads configuration from environment variables, after loading
// envFiles (or ".env" when none are given) if present.
func Load(envFiles ...string) (*Config, error) {
	// Missing .env files are fine in production.
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateCollector checks settings the collector cannot run without.
func (c *Config) ValidateCollector() error {
	if c.Collector.PostgresURL == "" {
		return errors.New("COLLECTOR_POSTGRES_URL is required")
	}
	if c.Collector.CacheSize <= 0 {
		return errors.New("COLLECTOR_CACHE_SIZE must be positive")
	}
	return nil
}
