package admin

import (
	"discord-mirror/bot"
	"discord-mirror/model"
	"discord-mirror/utils"

	"github.com/bwmarrin/discordgo"
)

func HandleReloadConfig(s *discordgo.Session, i *discordgo.InteractionCreate, b *bot.Bot) {
	if !utils.HasAdministrator(i) {
		utils.SendErrorResponse(s, i, "You need the Administrator permission to use this command.")
		return
	}

	if err := b.ReloadConfig(); err != nil {
		utils.SendErrorResponse(s, i, "Reloading the configuration failed: "+err.Error())
		return
	}
	utils.SendEmbedResponse(s, i, reloadEmbed(b.GetConfig()))
}

func reloadEmbed(cfg *model.Config) *discordgo.MessageEmbed {
	liveSync := "off"
	if cfg.LiveSync {
		liveSync = "on"
	}
	return &discordgo.MessageEmbed{
		Title: "✅ Configuration reloaded",
		Color: 3066993,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Source", Value: cfg.SourceGuildID, Inline: true},
			{Name: "Destination", Value: cfg.DestinationGuildID, Inline: true},
			{Name: "Live sync", Value: liveSync, Inline: true},
		},
	}
}
