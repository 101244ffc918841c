package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	File       FileConfig
	Processing ProcessingConfig
	Storage    StorageConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type ClickHouseConfig struct {
	Hosts    []string `mapstructure:"hosts"`
	Database string   `mapstructure:"database"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type FileConfig struct {
	MaxSize       int64  `mapstructure:"max_size"`
	AllowedTypes  string `mapstructure:"allowed_types"`
	TempDirectory string `mapstructure:"temp_directory"`
}

// AllowedExtensions returns the normalized upload extension allow-list.
func (c *FileConfig) AllowedExtensions() []string {
	parts := strings.Split(c.AllowedTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, strings.TrimPrefix(p, "."))
		}
	}
	return out
}

type ProcessingConfig struct {
	BatchSize      int        `mapstructure:"batch_size"`
	BufferSize     int        `mapstructure:"buffer_size"`
	MaxLineLength  int        `mapstructure:"max_line_length"`
	RetentionDays  int        `mapstructure:"retention_days"`
	WorkerPool     PoolConfig `mapstructure:"worker_pool"`
	MaxExportRows  int        `mapstructure:"max_export_rows"`
	ProgressStride int64      `mapstructure:"progress_stride"`
}

type PoolConfig struct {
	CoreSize  int `mapstructure:"core_size"`
	MaxSize   int `mapstructure:"max_size"`
	QueueSize int `mapstructure:"queue_size"`
}

type StorageConfig struct {
	Driver         string        `mapstructure:"driver"` // postgres or clickhouse
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SocketTimeout  time.Duration `mapstructure:"socket_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/logscan/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LOGSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.addresses", []string{"localhost:6379"})
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("file.max_size", 52428800)
	viper.SetDefault("file.allowed_types", "log,txt")
	viper.SetDefault("file.temp_directory", "/tmp/logscan")
	viper.SetDefault("processing.batch_size", 1000)
	viper.SetDefault("processing.buffer_size", 8192)
	viper.SetDefault("processing.max_line_length", 100000)
	viper.SetDefault("processing.retention_days", 30)
	viper.SetDefault("processing.worker_pool.core_size", 4)
	viper.SetDefault("processing.worker_pool.max_size", 10)
	viper.SetDefault("processing.worker_pool.queue_size", 100)
	viper.SetDefault("processing.max_export_rows", 100000)
	viper.SetDefault("processing.progress_stride", 1000)
	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("storage.connect_timeout", "5s")
	viper.SetDefault("storage.socket_timeout", "30s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=5",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
