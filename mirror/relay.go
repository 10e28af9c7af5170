package mirror

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"
)

// RelayHandle is a webhook able to post into one destination channel and its threads.
type RelayHandle struct {
	ChannelID string
	Webhook   *discordgo.Webhook
}

// RelayMessage is what gets posted on behalf of a source author.
type RelayMessage struct {
	Content   string
	Username  string
	AvatarURL string
	Files     []*discordgo.File
	Embeds    []*discordgo.MessageEmbed
}

// RelayCache hands out one webhook per destination parent channel. Handles
// live in memory only; a restart re-discovers or recreates them.
type RelayCache struct {
	remote Remote
	name   string

	mu      sync.RWMutex
	handles map[string]*RelayHandle
	flight  singleflight.Group
}

func NewRelayCache(remote Remote, webhookName string) *RelayCache {
	if webhookName == "" {
		webhookName = "Mirror"
	}
	return &RelayCache{
		remote:  remote,
		name:    webhookName,
		handles: make(map[string]*RelayHandle),
	}
}

func (c *RelayCache) cached(channelID string) (*RelayHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[channelID]
	return h, ok
}

// HandleFor returns the webhook for channelID, creating it on first use.
// Concurrent callers for the same channel share a single creation.
func (c *RelayCache) HandleFor(channelID string) (*RelayHandle, error) {
	if h, ok := c.cached(channelID); ok {
		return h, nil
	}

	v, err, _ := c.flight.Do(channelID, func() (interface{}, error) {
		if h, ok := c.cached(channelID); ok {
			return h, nil
		}
		webhook, err := c.findOrCreate(channelID)
		if err != nil {
			return nil, err
		}
		h := &RelayHandle{ChannelID: channelID, Webhook: webhook}
		c.mu.Lock()
		c.handles[channelID] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RelayHandle), nil
}

// findOrCreate reuses a webhook we created earlier, if the channel still has one.
func (c *RelayCache) findOrCreate(channelID string) (*discordgo.Webhook, error) {
	existing, err := c.remote.ChannelWebhooks(channelID)
	if err == nil {
		for _, w := range existing {
			if w != nil && w.Name == c.name && w.Token != "" {
				return w, nil
			}
		}
	}
	webhook, err := c.remote.CreateWebhook(channelID, c.name)
	if err != nil {
		return nil, rejected(fmt.Sprintf("create webhook in %s", channelID), err)
	}
	return webhook, nil
}

// Forget drops the cached handle for channelID.
func (c *RelayCache) Forget(channelID string) {
	c.mu.Lock()
	delete(c.handles, channelID)
	c.mu.Unlock()
}

// Send posts msg through h, into threadID when it is set, and returns the
// destination message id. Failures are not retried.
func (c *RelayCache) Send(h *RelayHandle, threadID string, msg RelayMessage) (string, error) {
	params := &discordgo.WebhookParams{
		Content:   msg.Content,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
		Files:     msg.Files,
		Embeds:    msg.Embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}
	sent, err := c.remote.ExecuteWebhook(h.Webhook, threadID, params)
	if err != nil {
		if isUnknownWebhook(err) {
			c.Forget(h.ChannelID)
		}
		return "", rejected("execute webhook", err)
	}
	if sent == nil {
		return "", rejected("execute webhook", fmt.Errorf("no message returned"))
	}
	return sent.ID, nil
}

// Edit rewrites a message previously sent through h.
func (c *RelayCache) Edit(h *RelayHandle, threadID, messageID, content string, embeds []*discordgo.MessageEmbed) error {
	edit := &discordgo.WebhookEdit{
		Content: &content,
		Embeds:  &embeds,
	}
	if _, err := c.remote.EditWebhookMessage(h.Webhook, threadID, messageID, edit); err != nil {
		if isUnknownWebhook(err) {
			c.Forget(h.ChannelID)
		}
		return rejected("edit webhook message", err)
	}
	return nil
}
