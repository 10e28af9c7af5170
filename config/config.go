package config

import (
	"discord-mirror/model"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultConfigFile = "data/mirror.yaml"

// setting keys, matching the environment variable names in lower case
const (
	keyBotToken           = "bot_token"
	keySourceGuild        = "source_guild_id"
	keyDestinationGuild   = "destination_guild_id"
	keyChannelConcurrency = "channel_concurrency"
	keyMessageConcurrency = "message_concurrency"
	keyMaxAttachmentBytes = "max_attachment_bytes"
	keyWebhookName        = "webhook_name"
	keyMappingDSN         = "mapping_dsn"
	keyRunsDBPath         = "runs_db_path"
	keyRunHistory         = "run_history"
	keyLogWebhookURL      = "log_webhook_url"
	keyLogLevel           = "log_level"
	keyLiveSync           = "live_sync"
)

var defaults = map[string]any{
	keyChannelConcurrency: 3,
	keyMessageConcurrency: 30,
	keyMaxAttachmentBytes: 25 << 20,
	keyWebhookName:        "Mirror",
	keyMappingDSN:         "file://data/sync_data.json",
	keyRunsDBPath:         "data/mirror.db",
	keyRunHistory:         50,
	keyLogLevel:           "info",
	keyLiveSync:           true,
}

// flag name -> setting key
var flagKeys = map[string]string{
	"source-guild":        keySourceGuild,
	"destination-guild":   keyDestinationGuild,
	"channel-concurrency": keyChannelConcurrency,
	"message-concurrency": keyMessageConcurrency,
	"mapping-dsn":         keyMappingDSN,
	"runs-db":             keyRunsDBPath,
	"log-level":           keyLogLevel,
	"live-sync":           keyLiveSync,
}

// Loader resolves settings from flags, the environment, an optional YAML
// file and defaults, in that order of precedence.
type Loader struct {
	v        *viper.Viper
	file     string
	fromFile bool
	watch    sync.Once
}

// NewLoader parses args and reads the optional config file. It returns
// pflag.ErrHelp when -h was given.
func NewLoader(args []string) (*Loader, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info(".env file not found, relying on environment variables")
	}

	flagSet := pflag.NewFlagSet("discord-mirror", pflag.ContinueOnError)
	configFile := flagSet.String("config", defaultConfigFile, "optional YAML settings file")
	flagSet.String("source-guild", "", "guild to copy from")
	flagSet.String("destination-guild", "", "guild to copy into; it is wiped on every backup")
	flagSet.Int("channel-concurrency", 3, "channels replicated at once during a backup")
	flagSet.Int("message-concurrency", 30, "history messages in flight at once")
	flagSet.String("mapping-dsn", "file://data/sync_data.json", "mapping store location (file://, sqlite://, postgres://, redis://)")
	flagSet.String("runs-db", "data/mirror.db", "sqlite file for the backup run history")
	flagSet.String("log-level", "info", "logrus level")
	flagSet.Bool("live-sync", true, "forward source guild events as they happen")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flagSet.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	l := &Loader{v: v, file: *configFile}
	v.SetConfigFile(l.file)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.file, err)
		}
		logrus.WithField("file", l.file).Debug("Config file not found, skipping.")
	} else {
		l.fromFile = true
	}
	return l, nil
}

// Config builds and validates a snapshot of the current settings.
func (l *Loader) Config() (*model.Config, error) {
	cfg := &model.Config{
		BotToken:           strings.TrimSpace(l.v.GetString(keyBotToken)),
		SourceGuildID:      l.v.GetString(keySourceGuild),
		DestinationGuildID: l.v.GetString(keyDestinationGuild),
		ChannelConcurrency: l.v.GetInt(keyChannelConcurrency),
		MessageConcurrency: l.v.GetInt(keyMessageConcurrency),
		MaxAttachmentBytes: l.v.GetInt64(keyMaxAttachmentBytes),
		WebhookName:        l.v.GetString(keyWebhookName),
		MappingDSN:         l.v.GetString(keyMappingDSN),
		RunsDBPath:         l.v.GetString(keyRunsDBPath),
		RunHistory:         l.v.GetInt(keyRunHistory),
		LogWebhookURL:      l.v.GetString(keyLogWebhookURL),
		LogLevel:           l.v.GetString(keyLogLevel),
		LiveSync:           l.v.GetBool(keyLiveSync),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch calls onChange with a fresh snapshot whenever the config file is
// rewritten. Invalid edits are logged and ignored. Without a config file
// it does nothing.
func (l *Loader) Watch(onChange func(*model.Config)) {
	if !l.fromFile {
		return
	}
	l.watch.Do(func() {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			cfg, err := l.Config()
			if err != nil {
				logrus.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid config change")
				return
			}
			logrus.WithField("file", e.Name).Info("Configuration reloaded")
			onChange(cfg)
		})
		l.v.WatchConfig()
	})
}

// Reload re-reads the config file, if any, and returns a new snapshot.
func (l *Loader) Reload() (*model.Config, error) {
	if l.fromFile {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to reread config file %s: %w", l.file, err)
		}
	}
	return l.Config()
}
