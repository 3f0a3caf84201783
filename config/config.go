package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/angas/omie-go/logging"
	"github.com/angas/omie-go/omie"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigOmie struct {
	// Where OMIE publishes its result files, overridable for testing
	BaseURL *string `mapstructure:"base_url"`
	// The reference timezone OMIE publishes in, default: "CET"
	Timezone *string `mapstructure:"timezone"`
	// HTTP timeout per fetch in seconds, default: 10
	TimeoutSeconds *int `mapstructure:"timeout_seconds"`
	// Minimum spacing in minutes between re-fetches of the current market
	// date (intraday sessions revise it), 0 disables, default: 60
	UpdateIntervalMinutes *int `mapstructure:"update_interval_minutes"`
	// Reference-timezone time of day before which tomorrow's results cannot
	// exist, default: "13:30" (day-ahead session close)
	NoneBefore *string `mapstructure:"none_before"`
}

func (o AppConfigOmie) GetBaseURL() string {
	if o.BaseURL == nil {
		return omie.DefaultBaseURL
	}
	return *o.BaseURL
}

func (o AppConfigOmie) GetTimezone() string {
	if o.Timezone == nil {
		return "CET"
	}
	return *o.Timezone
}

func (o AppConfigOmie) GetTimeout() time.Duration {
	if o.TimeoutSeconds == nil {
		return 10 * time.Second
	}
	return time.Duration(*o.TimeoutSeconds) * time.Second
}

func (o AppConfigOmie) GetUpdateInterval() time.Duration {
	if o.UpdateIntervalMinutes == nil {
		return time.Hour
	}
	return time.Duration(*o.UpdateIntervalMinutes) * time.Minute
}

func (o AppConfigOmie) GetNoneBefore() string {
	if o.NoneBefore == nil {
		return "13:30"
	}
	return *o.NoneBefore
}

type AppConfigMqtt struct {
	Enabled  bool
	Host     string
	Port     int16
	Username string
	Password string
	// Topic prefix for published sensor states, default: "omie"
	TopicPrefix *string `mapstructure:"topic_prefix"`
}

func (m AppConfigMqtt) GetTopicPrefix() string {
	if m.TopicPrefix == nil {
		return "omie"
	}
	return *m.TopicPrefix
}

type AppConfigDatabase struct {
	Path string
}

type AppConfigLogging struct {
	// Min log level for console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
	// Min log level for database, default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries kept in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return logging.LogAttrFormatJSON
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return logging.LogAttrFormatText
	}
	return logging.LogAttrFormatJSON
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

type AppConfig struct {
	Api      AppConfigApi
	Omie     AppConfigOmie
	Mqtt     AppConfigMqtt
	Database AppConfigDatabase
	Logging  AppConfigLogging
}

func Load(path string) (*AppConfig, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c AppConfig

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}

	return &c, nil
}

// Watch re-reads the config file on change and hands the result to onChange.
// Used to adjust log levels without a restart.
func Watch(onChange func(*AppConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		var c AppConfig
		if err := viper.Unmarshal(&c); err != nil {
			slog.Default().Warn("ignoring config change", slog.Any("error", err))
			return
		}
		onChange(&c)
	})
	viper.WatchConfig()
}
