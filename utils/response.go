package utils

import (
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// SendErrorResponse sends an ephemeral error message.
func SendErrorResponse(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "❌ " + message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logrus.WithError(err).Error("Error sending error response")
	}
}

// SendEmbedResponse sends an ephemeral embed.
func SendEmbedResponse(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logrus.WithError(err).Error("Error sending embed response")
	}
}

// maxMessageLength is Discord's limit for a plain message.
const maxMessageLength = 2000

// FollowUpSender is the part of *discordgo.Session used to deliver a
// follow-up after a long-running command.
type FollowUpSender interface {
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SendFollowUp replaces the deferred response with message. Interaction
// tokens expire after 15 minutes, so when the edit fails the message goes
// to the user by DM, and failing that to the invoking channel with a mention.
func SendFollowUp(s FollowUpSender, i *discordgo.Interaction, userID, message string) error {
	message = truncateMessage(message, maxMessageLength)
	_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content: &message,
	})
	if err == nil {
		return nil
	}
	logrus.WithError(err).Warn("Interaction follow-up failed, falling back to a direct message")

	if userID != "" {
		dm, dmErr := s.UserChannelCreate(userID)
		if dmErr == nil {
			if _, dmErr = s.ChannelMessageSend(dm.ID, message); dmErr == nil {
				return nil
			}
		}
		logrus.WithError(dmErr).Warn("Direct message follow-up failed, falling back to the channel")
	}

	if i.ChannelID == "" {
		return err
	}
	content := message
	if userID != "" {
		content = truncateMessage("<@"+userID+"> "+message, maxMessageLength)
	}
	if _, chErr := s.ChannelMessageSend(i.ChannelID, content); chErr != nil {
		logrus.WithError(chErr).Error("Error sending follow-up message")
		return chErr
	}
	return nil
}

func truncateMessage(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}

// DeferResponse defers an interaction response, optionally making it ephemeral.
func DeferResponse(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	response := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if ephemeral {
		response.Data = &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		}
	}
	return s.InteractionRespond(i.Interaction, response)
}
