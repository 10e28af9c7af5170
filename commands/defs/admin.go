package defs

import "github.com/bwmarrin/discordgo"

var administrator int64 = discordgo.PermissionAdministrator

var Backup = &discordgo.ApplicationCommand{
	Name:                     "backup",
	Description:              "Wipe the destination guild and rebuild it from this guild (administrators only)",
	DefaultMemberPermissions: &administrator,
	NameLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "备份",
		discordgo.ChineseTW: "備份",
	},
	DescriptionLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "清空目标服务器并从本服务器完整重建 (仅限管理员)",
		discordgo.ChineseTW: "清空目標伺服器並從本伺服器完整重建 (僅限管理員)",
	},
}

var MirrorStatus = &discordgo.ApplicationCommand{
	Name:                     "mirror-status",
	Description:              "Show mapping counts, the last backup and system status",
	DefaultMemberPermissions: &administrator,
	NameLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "镜像状态",
		discordgo.ChineseTW: "鏡像狀態",
	},
	DescriptionLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "显示映射数量、上次备份和系统状态",
		discordgo.ChineseTW: "顯示映射數量、上次備份和系統狀態",
	},
}

var ReloadConfig = &discordgo.ApplicationCommand{
	Name:                     "reload-config",
	Description:              "Reload the mirror configuration (administrators only)",
	DefaultMemberPermissions: &administrator,
	NameLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "重载配置",
		discordgo.ChineseTW: "重載配置",
	},
	DescriptionLocalizations: &map[discordgo.Locale]string{
		discordgo.ChineseCN: "重新加载镜像配置 (仅限管理员)",
		discordgo.ChineseTW: "重新加載鏡像配置 (僅限管理員)",
	},
}
