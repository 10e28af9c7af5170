package mirror

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Remote is the slice of the Discord API the replication engine drives.
// remote.Discord implements it over a *discordgo.Session.
type Remote interface {
	Guild(guildID string) (*discordgo.Guild, error)
	GuildRoles(guildID string) ([]*discordgo.Role, error)
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	GuildMember(guildID, userID string) (*discordgo.Member, error)

	CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error)
	DeleteRole(guildID, roleID string) error
	ReorderRoles(guildID string, roles []*discordgo.Role) error

	Channel(channelID string) (*discordgo.Channel, error)
	CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error)
	EditChannel(channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error)
	DeleteChannel(channelID string) error

	// ActiveThreads lists the active threads whose parent is channelID.
	ActiveThreads(channelID string) ([]*discordgo.Channel, error)
	// ArchivedThreads returns one page of archived threads, newest first.
	ArchivedThreads(channelID string, private bool, before *time.Time, limit int) (*discordgo.ThreadsList, error)
	StartThread(channelID, name string, typ discordgo.ChannelType, archiveDuration int) (*discordgo.Channel, error)
	StartForumThread(channelID, name string, archiveDuration int, content string) (*discordgo.Channel, error)

	Message(channelID, messageID string) (*discordgo.Message, error)
	// MessagesAfter returns up to limit messages newer than afterID, in any order.
	MessagesAfter(channelID, afterID string, limit int) ([]*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
	FetchAttachment(ctx context.Context, url string, maxBytes int64) ([]byte, error)

	ChannelWebhooks(channelID string) ([]*discordgo.Webhook, error)
	CreateWebhook(channelID, name string) (*discordgo.Webhook, error)
	ExecuteWebhook(webhook *discordgo.Webhook, threadID string, params *discordgo.WebhookParams) (*discordgo.Message, error)
	EditWebhookMessage(webhook *discordgo.Webhook, threadID, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error)
}
