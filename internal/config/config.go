package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	API struct {
		Listen         string   `mapstructure:"listen"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"api"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
		// Bcrypt hash of the service key accepted on POST /api/notify.
		// Empty disables the check.
		ServiceKeyHash string `mapstructure:"service_key_hash"`
	} `mapstructure:"auth"`

	WS struct {
		SendBuffer          int           `mapstructure:"send_buffer"`
		MaxMessageBytes     int64         `mapstructure:"max_message_bytes"`
		PingIntervalSeconds int           `mapstructure:"ping_interval_seconds"`
		PingInterval        time.Duration `mapstructure:"-"`
		// Idle read timeout. Zero keeps idle connections alive forever;
		// the protocol itself never requires clients to ping.
		IdleTimeoutSeconds int           `mapstructure:"idle_timeout_seconds"`
		IdleTimeout        time.Duration `mapstructure:"-"`
	} `mapstructure:"ws"`

	Bridge struct {
		WaitTimeoutMillis int           `mapstructure:"wait_timeout_millis"`
		WaitTimeout       time.Duration `mapstructure:"-"`
		BackoffInitialMs  int           `mapstructure:"backoff_initial_ms"`
		BackoffMaxMs      int           `mapstructure:"backoff_max_ms"`
	} `mapstructure:"bridge"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:4000")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.max_message_bytes", 1<<20)
	v.SetDefault("ws.ping_interval_seconds", 30)
	v.SetDefault("ws.idle_timeout_seconds", 0)
	v.SetDefault("bridge.wait_timeout_millis", 250)
	v.SetDefault("bridge.backoff_initial_ms", 500)
	v.SetDefault("bridge.backoff_max_ms", 30000)

	// Env overrides
	v.SetEnvPrefix("REALTIME")
	v.AutomaticEnv()
	_ = v.BindEnv("db.dsn", "REALTIME_DB_DSN")
	_ = v.BindEnv("api.listen", "REALTIME_API_LISTEN")
	_ = v.BindEnv("auth.jwt_secret", "REALTIME_JWT_SECRET")
	_ = v.BindEnv("auth.service_key_hash", "REALTIME_SERVICE_KEY_HASH")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.WS.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WS.IdleTimeout = time.Duration(c.WS.IdleTimeoutSeconds) * time.Second
	c.Bridge.WaitTimeout = time.Duration(c.Bridge.WaitTimeoutMillis) * time.Millisecond

	if c.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required (set REALTIME_DB_DSN or config file)")
	}
	if c.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (set REALTIME_JWT_SECRET or config file)")
	}
	return &c, nil
}
