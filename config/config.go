package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/roomchat/globals"
)

const (
	defaultAddr           = "localhost:5151"
	defaultLogLevel       = "INFO"
	defaultHistorySize    = 50
	defaultRecentRooms    = 10
	defaultMaxMessageSize = 4096
	defaultPersistence    = "buntdb"
	defaultDSN            = "roomchat.db"
	defaultUserCacheSize  = 256
	defaultUserCacheTTL   = 30 * time.Second
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (ROOMCHAT_*) and command-line flags.
type Config struct {
	Addr              string            `mapstructure:"addr"`
	LogLevel          string            `mapstructure:"log_level"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	WebsocketConfig   WebsocketConfig   `mapstructure:"websocket"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RetentionConfig   RetentionConfig   `mapstructure:"retention"`
}

// HistoryConfig configures how many recent messages are pushed to a connection joining a room and how many rooms
// the recent rooms listing returns.
type HistoryConfig struct {
	HistorySize int `mapstructure:"history_size"`
	RecentRooms int `mapstructure:"recent_rooms"`
}

type WebsocketConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxMessageSize int64    `mapstructure:"max_message_size"`
}

// PersistenceConfig selects the storage backend. Type is one of "buntdb", "sqlite", "postgres" (plain
// database/sql), "gorm-sqlite" or "gorm-postgres"; DSN is the file name or connection string. Cached users are
// looked up again after UserCacheTTL, so changes made with the admin CLI reach a running server.
type PersistenceConfig struct {
	Type          string        `mapstructure:"type"`
	DSN           string        `mapstructure:"dsn"`
	UserCacheSize int           `mapstructure:"user_cache_size"`
	UserCacheTTL  time.Duration `mapstructure:"user_cache_ttl"`
}

// RetentionConfig enables scheduled deletion of messages older than MaxAge. An empty Schedule disables it.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("addr", "", "ws/http service address (including port)")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("history.history_size", defaultHistorySize)
	v.SetDefault("history.recent_rooms", defaultRecentRooms)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("websocket.max_message_size", defaultMaxMessageSize)
	v.SetDefault("persistence.type", defaultPersistence)
	v.SetDefault("persistence.dsn", defaultDSN)
	v.SetDefault("persistence.user_cache_size", defaultUserCacheSize)
	v.SetDefault("persistence.user_cache_ttl", defaultUserCacheTTL.String())
	v.SetDefault("retention.schedule", "")
	v.SetDefault("retention.max_age", "0s")
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Flags that were set
// explicitly override file values; ROOMCHAT_* environment variables override both.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		flagSet.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			if err := v.BindPFlag(string(wordSepNormalizeFunc(flagSet, f.Name)), f); err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
			}
		})
	}
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	cfg := Config{}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	sanitize(&cfg)

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}

func sanitize(cfg *Config) {
	if cfg.HistoryConfig.HistorySize <= 0 {
		cfg.HistoryConfig.HistorySize = defaultHistorySize
	}
	if cfg.HistoryConfig.RecentRooms <= 0 {
		cfg.HistoryConfig.RecentRooms = defaultRecentRooms
	}
	if cfg.WebsocketConfig.MaxMessageSize <= 0 {
		cfg.WebsocketConfig.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PersistenceConfig.UserCacheSize < 0 {
		cfg.PersistenceConfig.UserCacheSize = 0
	}
	if cfg.PersistenceConfig.UserCacheTTL <= 0 {
		cfg.PersistenceConfig.UserCacheTTL = defaultUserCacheTTL
	}
	cfg.PersistenceConfig.Type = strings.ToLower(strings.TrimSpace(cfg.PersistenceConfig.Type))
}
