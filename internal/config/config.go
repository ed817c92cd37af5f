package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type JoinRate struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Store struct {
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	JoinRate   JoinRate      `mapstructure:"join_rate"`
	CodeTTL    time.Duration `mapstructure:"code_ttl"`
	Store      Store         `mapstructure:"store"`
	Metrics    Metrics       `mapstructure:"metrics"`
	ICEServers []ICEServer   `mapstructure:"ice_servers"`

	// Backpressure is "kick" or "drop".
	Backpressure       string        `mapstructure:"backpressure"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
}

// Flags returns the command line overrides understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("pairing", pflag.ContinueOnError)
	fs.String("mode", "release", "gin mode: debug or release")
	fs.Int("port", 8080, "listen port")
	fs.String("store.driver", "memory", "session code store: memory or redis")
	fs.String("store.redis_url", "", "redis url for the redis store")
	fs.Duration("negotiation_timeout", 30*time.Second, "peer negotiation timeout, 0 disables")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "pairing-dev-secret")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "27s")
	v.SetDefault("pong_wait", "30s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("join_rate.limit", 10)
	v.SetDefault("join_rate.interval", "1m")
	v.SetDefault("code_ttl", "2h")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("negotiation_timeout", "30s")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then PAIRING_* env vars, then
// flags that were set explicitly on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("PAIRING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	if c.Backpressure != "kick" && c.Backpressure != "drop" {
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negotiation_timeout must not be negative")
	}
	return nil
}
