package commands

import (
	"discord-mirror/commands/defs"

	"github.com/bwmarrin/discordgo"
)

// GenerateCommands returns the slash commands registered in the source guild.
func GenerateCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		defs.Backup,
		defs.MirrorStatus,
		defs.ReloadConfig,
	}
}
