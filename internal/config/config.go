package config

import (
	"time"

	pkgconfig "github.com/mizuki-dev/starwatch/pkg/config"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Stats    StatsConfig
	Bridge   BridgeConfig
	Session  SessionConfig
	Room     RoomConfig
	Tracker  TrackerConfig
	Feed     FeedConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type GatewayConfig struct {
	APIBase   string        `mapstructure:"api_base"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StatsConfig struct {
	// Driver selects the statistics backend: "redis" or "memory".
	Driver   string `mapstructure:"driver"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Prefix   string `mapstructure:"prefix"`
}

type BridgeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type SessionConfig struct {
	UID          int64         `mapstructure:"uid"`
	Buvid        string        `mapstructure:"buvid"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type RoomConfig struct {
	GraceWindow time.Duration `mapstructure:"grace_window"`
	CountChat   bool          `mapstructure:"count_chat"`
	CountGifts  bool          `mapstructure:"count_gifts"`
	CountPaid   bool          `mapstructure:"count_paid"`
	CountGuards bool          `mapstructure:"count_guards"`
}

type TrackerConfig struct {
	StaggerDelay time.Duration `mapstructure:"stagger_delay"`
	StartupWait  time.Duration `mapstructure:"startup_wait"`
}

type FeedConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "starwatch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/starwatch.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("gateway.api_base", "https://api.live.bilibili.com")
	v.SetDefault("gateway.user_agent", "Mozilla/5.0 starwatch/1.0")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("stats.driver", "redis")
	v.SetDefault("stats.address", "localhost:6379")
	v.SetDefault("stats.db", 0)
	v.SetDefault("stats.pool_size", 10)
	v.SetDefault("stats.prefix", "starwatch")
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.address", "localhost:6379")
	v.SetDefault("bridge.db", 0)
	v.SetDefault("bridge.pool_size", 10)
	v.SetDefault("session.uid", 0)
	v.SetDefault("session.buvid", "")
	v.SetDefault("session.retry_backoff", "3s")
	v.SetDefault("session.dial_timeout", "10s")
	v.SetDefault("room.grace_window", "3m")
	v.SetDefault("room.count_chat", true)
	v.SetDefault("room.count_gifts", true)
	v.SetDefault("room.count_paid", true)
	v.SetDefault("room.count_guards", true)
	v.SetDefault("tracker.stagger_delay", "1s")
	v.SetDefault("tracker.startup_wait", "1m")
	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.interval", "1m")
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("gateway.api_base", "GATEWAY_API_BASE")
	v.BindEnv("stats.driver", "STATS_DRIVER")
	v.BindEnv("stats.address", "STATS_REDIS_ADDR")
	v.BindEnv("stats.password", "STATS_REDIS_PASSWORD")
	v.BindEnv("bridge.enabled", "BRIDGE_ENABLED")
	v.BindEnv("bridge.address", "BRIDGE_REDIS_ADDR")
	v.BindEnv("bridge.password", "BRIDGE_REDIS_PASSWORD")
	v.BindEnv("session.uid", "SESSION_UID")
	v.BindEnv("session.buvid", "SESSION_BUVID")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
