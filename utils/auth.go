package utils

import "github.com/bwmarrin/discordgo"

// InvokerID returns the user behind an interaction, in a guild or a DM.
func InvokerID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// HasAdministrator reports whether the interaction's member holds the
// Administrator permission in the guild it was invoked from. Discord
// resolves Member.Permissions for interactions, owners included.
func HasAdministrator(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&discordgo.PermissionAdministrator != 0
}
