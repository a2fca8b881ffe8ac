package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"mellium.im/xmpp/jid"

	"github.com/dkeye/muc/internal/core"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Log        LogConfig     `mapstructure:"log"`
	Auth       AuthConfig    `mapstructure:"auth"`
	MUC        MUCConfig     `mapstructure:"muc"`
	Storage    StorageConfig `mapstructure:"storage"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MUCConfig struct {
	Domain             string         `mapstructure:"domain"`
	Broadcast          string         `mapstructure:"broadcast"`
	MultiItem          bool           `mapstructure:"multi_item"`
	HistorySize        int            `mapstructure:"history_size"`
	HistoryReplay      int            `mapstructure:"history_replay"`
	UniqueNameAttempts int            `mapstructure:"unique_name_attempts"`
	GhostIdle          time.Duration  `mapstructure:"ghost_idle"`
	SweepPeriod        time.Duration  `mapstructure:"sweep_period"`
	BootstrapWorkers   int            `mapstructure:"bootstrap_workers"`
	MaxDropped         int            `mapstructure:"max_dropped"`
	RateLimit          int            `mapstructure:"rate_limit"`
	RateInterval       time.Duration  `mapstructure:"rate_interval"`
	DefaultRoom        map[string]any `mapstructure:"default_room"`
}

type StorageConfig struct {
	Driver   string        `mapstructure:"driver"`
	DSN      string        `mapstructure:"dsn"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// the file is missing.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName. Every key can be overridden by an environment
// variable with the MUC_ prefix, dots replaced by underscores.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MUC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("muc.domain", "conference.localhost")
	v.SetDefault("muc.broadcast", core.StandardBroadcast.String())
	v.SetDefault("muc.multi_item", false)
	v.SetDefault("muc.history_size", 50)
	v.SetDefault("muc.history_replay", 20)
	v.SetDefault("muc.unique_name_attempts", 8)
	v.SetDefault("muc.ghost_idle", "10m")
	v.SetDefault("muc.sweep_period", "1m")
	v.SetDefault("muc.bootstrap_workers", 8)
	v.SetDefault("muc.max_dropped", 32)
	v.SetDefault("muc.rate_limit", 20)
	v.SetDefault("muc.rate_interval", "1s")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.database", "muc")
	v.SetDefault("storage.timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("domain", cfg.MUC.Domain).Str("storage", cfg.Storage.Driver).Msg("config ready")
	return &cfg, nil
}

// DefaultRoomConfig builds the template configuration from muc.default_room.
// Keys are field names without the muc#roomconfig_ prefix.
func (c *Config) DefaultRoomConfig(ctx context.Context) (*core.RoomConfig, error) {
	rc := core.NewRoomConfig(jid.JID{})
	known := make([]string, 0)
	for _, f := range rc.Fields() {
		known = append(known, f.Var)
	}

	keys := make([]string, 0, len(c.MUC.DefaultRoom))
	for k := range c.MUC.DefaultRoom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := core.ConfigPrefix + strings.ToLower(k)
		if !slices.Contains(known, name) {
			log.Warn().Str("module", "config").Str("field", k).Msg("unknown default room field ignored")
			continue
		}
		if err := rc.SetValue(ctx, name, normalize(c.MUC.DefaultRoom[k])); err != nil {
			return nil, fmt.Errorf("default room field %s: %w", k, err)
		}
	}
	return rc, nil
}

// normalize turns decoded YAML lists into []string.
func normalize(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprint(item))
	}
	return out
}
