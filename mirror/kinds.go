package mirror

import "github.com/bwmarrin/discordgo"

// ChannelKind is the closed set of channel kinds the mirror can recreate.
type ChannelKind int

const (
	KindText ChannelKind = iota
	KindNews
	KindVoice
	KindStage
	KindForum
)

type channelKindSpec struct {
	name        string
	channelType discordgo.ChannelType
	// history: the channel itself carries messages.
	history bool
	// threads: threads hang off the channel and are cloned after it.
	threads bool
	// forumPosts: threads need a starter message to be created.
	forumPosts bool
	// fallback is tried once when the destination rejects this kind,
	// e.g. news and stage channels in a guild without the community feature.
	fallback *ChannelKind
	fill     func(src *discordgo.Channel, data *discordgo.GuildChannelCreateData)
}

var (
	textKind  = KindText
	voiceKind = KindVoice
)

var channelKinds = map[ChannelKind]channelKindSpec{
	KindText: {
		name:        "text",
		channelType: discordgo.ChannelTypeGuildText,
		history:     true,
		threads:     true,
		fill: func(src *discordgo.Channel, data *discordgo.GuildChannelCreateData) {
			data.Topic = src.Topic
			data.NSFW = src.NSFW
			data.RateLimitPerUser = src.RateLimitPerUser
		},
	},
	KindNews: {
		name:        "news",
		channelType: discordgo.ChannelTypeGuildNews,
		history:     true,
		threads:     true,
		fallback:    &textKind,
		fill: func(src *discordgo.Channel, data *discordgo.GuildChannelCreateData) {
			data.Topic = src.Topic
			data.NSFW = src.NSFW
		},
	},
	KindVoice: {
		name:        "voice",
		channelType: discordgo.ChannelTypeGuildVoice,
		fill: func(src *discordgo.Channel, data *discordgo.GuildChannelCreateData) {
			data.Bitrate = clampBitrate(src.Bitrate)
			data.UserLimit = src.UserLimit
		},
	},
	KindStage: {
		name:        "stage",
		channelType: discordgo.ChannelTypeGuildStageVoice,
		fallback:    &voiceKind,
		fill:        func(*discordgo.Channel, *discordgo.GuildChannelCreateData) {},
	},
	KindForum: {
		name:        "forum",
		channelType: discordgo.ChannelTypeGuildForum,
		threads:     true,
		forumPosts:  true,
		fill: func(src *discordgo.Channel, data *discordgo.GuildChannelCreateData) {
			data.Topic = src.Topic
			data.NSFW = src.NSFW
		},
	},
}

func kindOf(t discordgo.ChannelType) (ChannelKind, bool) {
	for kind, spec := range channelKinds {
		if spec.channelType == t {
			return kind, true
		}
	}
	return 0, false
}

func (k ChannelKind) String() string {
	if spec, ok := channelKinds[k]; ok {
		return spec.name
	}
	return "unknown"
}

// createData builds the create request for src as kind k.
func (k ChannelKind) createData(src *discordgo.Channel, overwrites []*discordgo.PermissionOverwrite, parentID string) discordgo.GuildChannelCreateData {
	spec := channelKinds[k]
	data := discordgo.GuildChannelCreateData{
		Name:                 src.Name,
		Type:                 spec.channelType,
		Position:             src.Position,
		PermissionOverwrites: overwrites,
		ParentID:             parentID,
	}
	spec.fill(src, &data)
	return data
}

// Boost-free guilds cap voice bitrate at 96kbps.
func clampBitrate(bitrate int) int {
	switch {
	case bitrate <= 0:
		return 0
	case bitrate < 8000:
		return 8000
	case bitrate > 96000:
		return 96000
	default:
		return bitrate
	}
}
