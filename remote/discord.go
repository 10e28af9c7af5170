// Package remote adapts a live discordgo session to the mirror engine.
package remote

import (
	"context"
	"discord-mirror/mirror"
	"discord-mirror/utils"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements mirror.Remote over the Discord REST API. Reads that
// the gateway already delivered are served from the session state.
type Discord struct {
	Session *discordgo.Session
}

var _ mirror.Remote = (*Discord)(nil)

func New(s *discordgo.Session) *Discord {
	return &Discord{Session: s}
}

func (d *Discord) Guild(guildID string) (*discordgo.Guild, error) {
	if d.Session.StateEnabled {
		if g, err := d.Session.State.Guild(guildID); err == nil && g.OwnerID != "" {
			return g, nil
		}
	}
	return d.Session.Guild(guildID)
}

func (d *Discord) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	return d.Session.GuildRoles(guildID)
}

func (d *Discord) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	return d.Session.GuildChannels(guildID)
}

func (d *Discord) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	if d.Session.StateEnabled {
		if m, err := d.Session.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	return d.Session.GuildMember(guildID, userID)
}

func (d *Discord) CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	return d.Session.GuildRoleCreate(guildID, params)
}

func (d *Discord) DeleteRole(guildID, roleID string) error {
	return d.Session.GuildRoleDelete(guildID, roleID)
}

func (d *Discord) ReorderRoles(guildID string, roles []*discordgo.Role) error {
	_, err := d.Session.GuildRoleReorder(guildID, roles)
	return err
}

func (d *Discord) Channel(channelID string) (*discordgo.Channel, error) {
	return d.Session.Channel(channelID)
}

func (d *Discord) CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return d.Session.GuildChannelCreateComplex(guildID, data)
}

func (d *Discord) EditChannel(channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	return d.Session.ChannelEdit(channelID, data)
}

func (d *Discord) DeleteChannel(channelID string) error {
	_, err := d.Session.ChannelDelete(channelID)
	return err
}

// ActiveThreads filters the guild-wide active thread listing, the only
// one the API still offers, down to channelID's children.
func (d *Discord) ActiveThreads(channelID string) ([]*discordgo.Channel, error) {
	parent, err := d.Channel(channelID)
	if err != nil {
		return nil, err
	}
	list, err := d.Session.GuildThreadsActive(parent.GuildID)
	if err != nil {
		return nil, err
	}
	var threads []*discordgo.Channel
	for _, t := range list.Threads {
		if t.ParentID == channelID {
			threads = append(threads, t)
		}
	}
	return threads, nil
}

func (d *Discord) ArchivedThreads(channelID string, private bool, before *time.Time, limit int) (*discordgo.ThreadsList, error) {
	if private {
		return d.Session.ThreadsPrivateArchived(channelID, before, limit)
	}
	return d.Session.ThreadsArchived(channelID, before, limit)
}

func (d *Discord) StartThread(channelID, name string, typ discordgo.ChannelType, archiveDuration int) (*discordgo.Channel, error) {
	return d.Session.ThreadStart(channelID, name, typ, archiveDuration)
}

func (d *Discord) StartForumThread(channelID, name string, archiveDuration int, content string) (*discordgo.Channel, error) {
	return d.Session.ForumThreadStart(channelID, name, archiveDuration, content)
}

func (d *Discord) Message(channelID, messageID string) (*discordgo.Message, error) {
	return d.Session.ChannelMessage(channelID, messageID)
}

func (d *Discord) MessagesAfter(channelID, afterID string, limit int) ([]*discordgo.Message, error) {
	return d.Session.ChannelMessages(channelID, limit, "", afterID, "")
}

func (d *Discord) DeleteMessage(channelID, messageID string) error {
	return d.Session.ChannelMessageDelete(channelID, messageID)
}

func (d *Discord) FetchAttachment(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	return utils.Download(ctx, rawURL, maxBytes)
}

func (d *Discord) ChannelWebhooks(channelID string) ([]*discordgo.Webhook, error) {
	return d.Session.ChannelWebhooks(channelID)
}

func (d *Discord) CreateWebhook(channelID, name string) (*discordgo.Webhook, error) {
	return d.Session.WebhookCreate(channelID, name, "")
}

func (d *Discord) ExecuteWebhook(webhook *discordgo.Webhook, threadID string, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	if threadID != "" {
		return d.Session.WebhookThreadExecute(webhook.ID, webhook.Token, true, threadID, params)
	}
	return d.Session.WebhookExecute(webhook.ID, webhook.Token, true, params)
}

// EditWebhookMessage edits a message the webhook sent. discordgo has no
// thread-aware variant, so thread edits add thread_id by hand.
func (d *Discord) EditWebhookMessage(webhook *discordgo.Webhook, threadID, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error) {
	if threadID == "" {
		return d.Session.WebhookMessageEdit(webhook.ID, webhook.Token, messageID, edit)
	}

	uri := discordgo.EndpointWebhookMessage(webhook.ID, webhook.Token, messageID) + "?thread_id=" + url.QueryEscape(threadID)
	body, err := d.Session.RequestWithBucketID("PATCH", uri, edit, discordgo.EndpointWebhookToken("", ""))
	if err != nil {
		return nil, err
	}
	var m discordgo.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode edited message: %w", err)
	}
	return &m, nil
}
