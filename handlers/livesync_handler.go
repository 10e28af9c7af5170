package handlers

import (
	"discord-mirror/bot"

	"github.com/bwmarrin/discordgo"
)

// addLiveSyncHandlers forwards source guild gateway events to the engine.
// LIVE_SYNC is checked per event so a config reload can pause forwarding.
func addLiveSyncHandlers(b *bot.Bot) {
	enabled := func() bool { return b.GetConfig().LiveSync }

	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if !enabled() || m.Author == nil || isOwnMessage(s, m.Message) {
			return
		}
		b.Engine.OnMessageCreate(b.Context(), m.Message)
	})
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		if !enabled() || isOwnMessage(s, m.Message) {
			return
		}
		b.Engine.OnMessageUpdate(m.Message)
	})
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		if enabled() {
			b.Engine.OnMessageDelete(m.Message)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelCreate) {
		if enabled() {
			b.Engine.OnChannelCreate(c.Channel)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		if enabled() {
			b.Engine.OnChannelDelete(c.Channel)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadCreate) {
		// joining an existing thread also arrives as THREAD_CREATE
		if enabled() && t.NewlyCreated {
			b.Engine.OnThreadCreate(t.Channel)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadDelete) {
		if enabled() {
			b.Engine.OnThreadDelete(t.Channel)
		}
	})
}

// isOwnMessage is true for messages the bot itself posted, such as
// command responses in the source guild.
func isOwnMessage(s *discordgo.Session, m *discordgo.Message) bool {
	if m.Author == nil || s.State == nil || s.State.User == nil {
		return false
	}
	return m.Author.ID == s.State.User.ID
}
