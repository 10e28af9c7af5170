package model

import "errors"

// Config holds the mirror bot's settings. Everything is read from the
// environment (a .env file is honoured), an optional YAML file and flags.
type Config struct {
	BotToken           string
	SourceGuildID      string
	DestinationGuildID string

	// ChannelConcurrency bounds channels replicated at once during a resync.
	ChannelConcurrency int
	// MessageConcurrency bounds in-flight history sends across all streams.
	MessageConcurrency int
	MaxAttachmentBytes int64
	WebhookName        string

	// MappingDSN selects the mapping backend: file://, sqlite://, postgres:// or redis://.
	MappingDSN string
	RunsDBPath string
	// RunHistory is how many resync runs are kept.
	RunHistory int

	LogWebhookURL string
	LogLevel      string
	LiveSync      bool
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	switch {
	case c.BotToken == "":
		return errors.New("BOT_TOKEN is not set")
	case c.SourceGuildID == "":
		return errors.New("SOURCE_GUILD_ID is not set")
	case c.DestinationGuildID == "":
		return errors.New("DESTINATION_GUILD_ID is not set")
	case c.SourceGuildID == c.DestinationGuildID:
		return errors.New("SOURCE_GUILD_ID and DESTINATION_GUILD_ID must differ")
	case c.ChannelConcurrency < 1 || c.MessageConcurrency < 1:
		return errors.New("concurrency widths must be at least 1")
	}
	return nil
}
