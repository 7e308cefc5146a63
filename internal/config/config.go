package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ServiceName    = "market-gateway"
	ServiceVersion = "1.0.0"
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	DevMode                 bool                      `mapstructure:"dev_mode"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys" validate:"dive"`
	Port                    map[string]string         `mapstructure:"port"`
	Feed                    FeedConfig                `mapstructure:"feed"`
	Database                map[string]DatabaseConfig `mapstructure:"database" validate:"dive"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Kafka                   KafkaConfig               `mapstructure:"kafka"`
	Pipeline                PipelineConfig            `mapstructure:"pipeline"`
	Distribution            DistributionConfig        `mapstructure:"distribution"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key" validate:"required"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type FeedConfig struct {
	Host                 string        `mapstructure:"host" validate:"required"`
	Port                 int           `mapstructure:"port" validate:"min=1,max=65535"`
	SoftwareKey          string        `mapstructure:"software_key"`
	Username             string        `mapstructure:"username" validate:"required"`
	Password             string        `mapstructure:"password" validate:"required"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" validate:"min=0"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	InitialPromptDelay   time.Duration `mapstructure:"initial_prompt_delay"`
	StepDelay            time.Duration `mapstructure:"step_delay"`
	BootstrapSymbols     []string      `mapstructure:"bootstrap_symbols"`
}

type NatsJetstreamConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite3"`
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

type PipelineConfig struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"min=0"`
	BatchInterval     time.Duration `mapstructure:"batch_interval"`
	BufferSize        int           `mapstructure:"buffer_size" validate:"min=0"`
	QueueSize         int           `mapstructure:"queue_size" validate:"min=0"`
	RetentionDays     int           `mapstructure:"retention_days" validate:"min=0"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

type DistributionConfig struct {
	Path              string        `mapstructure:"path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ThrottleInterval  time.Duration `mapstructure:"throttle_interval"`
	MaxQueueSize      int           `mapstructure:"max_queue_size" validate:"min=0"`
	MaxConnections    int           `mapstructure:"max_connections" validate:"min=0"`
	SendBufferSize    int           `mapstructure:"send_buffer_size" validate:"min=0"`
	SnapshotTrades    int           `mapstructure:"snapshot_trades" validate:"min=0"`
	JWTSecret         string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	JWTExpiresIn      time.Duration `mapstructure:"jwt_expires_in"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	setDefaults()

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	// no default, so the key must be bound for env-only secrets to unmarshal
	if err := viper.BindEnv("distribution.jwt_secret"); err != nil {
		return fmt.Errorf("failed to bind jwt secret env: %w", err)
	}

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg EnvConfig
	err = viper.Unmarshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	err = Validate(&cfg)
	if err != nil {
		return err
	}

	Env = &cfg

	return nil
}

func Validate(cfg *EnvConfig) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("port.http", "3002")

	viper.SetDefault("feed.port", 81)
	viper.SetDefault("feed.timeout", 30*time.Second)
	viper.SetDefault("feed.max_reconnect_attempts", 5)
	viper.SetDefault("feed.reconnect_delay", 5*time.Second)
	viper.SetDefault("feed.initial_prompt_delay", 1*time.Second)
	viper.SetDefault("feed.step_delay", 500*time.Millisecond)

	viper.SetDefault("pipeline.batch_size", 100)
	viper.SetDefault("pipeline.batch_interval", 5*time.Second)
	viper.SetDefault("pipeline.buffer_size", 1000)
	viper.SetDefault("pipeline.queue_size", 4096)
	viper.SetDefault("pipeline.retention_days", 30)
	viper.SetDefault("pipeline.retention_interval", 24*time.Hour)

	viper.SetDefault("distribution.path", "/ws")
	viper.SetDefault("distribution.heartbeat_interval", 30*time.Second)
	viper.SetDefault("distribution.throttle_interval", 100*time.Millisecond)
	viper.SetDefault("distribution.max_queue_size", 1000)
	viper.SetDefault("distribution.max_connections", 100)
	viper.SetDefault("distribution.send_buffer_size", 256)
	viper.SetDefault("distribution.snapshot_trades", 10)
	viper.SetDefault("distribution.jwt_expires_in", 24*time.Hour)

	viper.SetDefault("kafka.topic", "market-data")
	viper.SetDefault("kafka.batch_timeout", 50*time.Millisecond)
}
