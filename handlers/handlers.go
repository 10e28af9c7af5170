package handlers

import (
	"discord-mirror/bot"
	"discord-mirror/handlers/admin"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

func Register(b *bot.Bot) {
	b.CommandHandlers = commandHandlers(b)
	addHandlers(b)
	addLiveSyncHandlers(b)
}

func commandHandlers(b *bot.Bot) map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate){
		"backup": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			admin.HandleBackup(s, i, b)
		},
		"mirror-status": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			MirrorStatusHandler(s, i, b)
		},
		"reload-config": func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			admin.HandleReloadConfig(s, i, b)
		},
	}
}

func addHandlers(b *bot.Bot) {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logrus.Infof("Logged in as: %v (%d guilds)", r.User.Username, len(r.Guilds))
	})
	b.Session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if h, ok := b.CommandHandlers[i.ApplicationCommandData().Name]; ok {
			h(s, i)
		}
	})
}
