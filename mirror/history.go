package mirror

import (
	"bytes"
	"context"
	"discord-mirror/mapping"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	historyPageSize     = 100
	maxContentLength    = 2000
	maxUsernameLength   = 80
	maxFilesPerMessage  = 10
	maxEmbedsPerMessage = 10
)

// Target addresses one message stream. For a thread, ChannelID is the
// thread and ParentID the channel owning it.
type Target struct {
	GuildID   string
	ChannelID string
	ParentID  string
}

// webhookChannel is the channel whose webhook can post into the target.
func (t Target) webhookChannel() string {
	if t.ParentID != "" {
		return t.ParentID
	}
	return t.ChannelID
}

// threadID is the thread_id to attach to webhook calls, or "".
func (t Target) threadID() string {
	if t.ParentID != "" {
		return t.ChannelID
	}
	return ""
}

// Permalink links back to a message in the source guild.
func Permalink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// Replicator copies message history from a source stream into a destination stream.
type Replicator struct {
	remote   Remote
	store    *mapping.Store
	relay    *RelayCache
	log      *logrus.Entry
	maxBytes int64
	settle   func(r *Run, kind mapping.Kind, sourceID, op string, err error)
}

// Replay streams src oldest-first into dst. Every message takes one slot of
// the shared pool before its goroutine starts, so look-ahead is bounded by
// the pool width and a width of one gives strict source order.
// The returned error covers the stream itself; per-message failures are
// settled against run.
func (h *Replicator) Replay(ctx context.Context, run *Run, src, dst Target, slots *semaphore.Weighted) error {
	if _, err := h.relay.HandleFor(dst.webhookChannel()); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	after := "0"
	for {
		page, err := h.remote.MessagesAfter(src.ChannelID, after, historyPageSize)
		if err != nil {
			return rejected(fmt.Sprintf("list messages of %s after %s", src.ChannelID, after), err)
		}
		if len(page) == 0 {
			return nil
		}
		sortMessages(page)

		for _, m := range page {
			if err := slots.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func(m *discordgo.Message) {
				defer wg.Done()
				defer slots.Release(1)
				_, err := h.RelayOne(ctx, src, dst, m)
				h.settle(run, mapping.Message, m.ID, "relay message", err)
			}(m)
		}

		after = page[len(page)-1].ID
		if len(page) < historyPageSize {
			return nil
		}
	}
}

// RelayOne mirrors a single source message into dst and records its mapping.
// The handle is looked up per message so a webhook forgotten after an
// Unknown Webhook failure is recreated for the next one.
func (h *Replicator) RelayOne(ctx context.Context, src, dst Target, m *discordgo.Message) (string, error) {
	handle, err := h.relay.HandleFor(dst.webhookChannel())
	if err != nil {
		return "", err
	}
	msg := RelayMessage{
		Content:   MirroredContent(m.Content, Permalink(src.GuildID, src.ChannelID, m.ID)),
		Username:  displayName(m),
		AvatarURL: avatarURL(m),
		Files:     h.attachments(ctx, m),
		Embeds:    passEmbeds(m.Embeds),
	}

	dstID, err := h.relay.Send(handle, dst.threadID(), msg)
	if err != nil {
		return "", err
	}
	if err := h.store.Put(mapping.Message, m.ID, dstID); err != nil {
		return dstID, err
	}
	return dstID, h.store.Persist()
}

// attachments re-downloads up to ten attachments. Any that cannot be
// fetched, or exceed the size cap, are dropped.
func (h *Replicator) attachments(ctx context.Context, m *discordgo.Message) []*discordgo.File {
	var files []*discordgo.File
	for _, a := range m.Attachments {
		if len(files) == maxFilesPerMessage {
			break
		}
		if a == nil {
			continue
		}
		if h.maxBytes > 0 && int64(a.Size) > h.maxBytes {
			h.log.WithError(ErrAttachmentUnavailable).Warnf("attachment %s of message %s is %d bytes, over the cap", a.Filename, m.ID, a.Size)
			continue
		}
		data, err := h.remote.FetchAttachment(ctx, a.URL, h.maxBytes)
		if err != nil {
			h.log.WithError(fmt.Errorf("%w: %s: %w", ErrAttachmentUnavailable, a.Filename, err)).Warnf("dropping attachment of message %s", m.ID)
			continue
		}
		files = append(files, &discordgo.File{
			Name:        a.Filename,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(data),
		})
	}
	return files
}

// MirroredContent appends the permalink to content, cutting content so the
// result fits in one message.
func MirroredContent(content, permalink string) string {
	suffix := "\n" + permalink
	budget := maxContentLength - len([]rune(suffix))
	if budget < 0 {
		budget = 0
	}
	runes := []rune(content)
	if len(runes) > budget {
		content = string(runes[:budget])
	}
	return content + suffix
}

func displayName(m *discordgo.Message) string {
	var name string
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	} else if m.Author != nil {
		name = m.Author.GlobalName
		if name == "" {
			name = m.Author.Username
		}
	}
	if name == "" {
		name = "unknown"
	}
	return sanitizeUsername(name)
}

// Webhook usernames may not contain "discord" or "clyde" and are capped at 80 characters.
func sanitizeUsername(name string) string {
	for _, word := range []string{"discord", "clyde"} {
		name = breakWord(name, word)
	}
	runes := []rune(name)
	if len(runes) > maxUsernameLength {
		name = string(runes[:maxUsernameLength])
	}
	return name
}

// breakWord puts a zero-width space after the first letter of every
// case-insensitive occurrence of word. Matching is per rune, since lower
// casing can change a string's byte length.
func breakWord(name, word string) string {
	runes := []rune(name)
	target := []rune(word)
	var b strings.Builder
	for i, r := range runes {
		b.WriteRune(r)
		if i+len(target) <= len(runes) && foldedEqual(runes[i:i+len(target)], target) {
			b.WriteString("\u200b")
		}
	}
	return b.String()
}

// foldedEqual reports whether s lower-cases to the lower-case word.
func foldedEqual(s, word []rune) bool {
	for k, r := range word {
		if unicode.ToLower(s[k]) != r {
			return false
		}
	}
	return true
}

func avatarURL(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	return m.Author.AvatarURL("")
}

func passEmbeds(embeds []*discordgo.MessageEmbed) []*discordgo.MessageEmbed {
	if len(embeds) > maxEmbedsPerMessage {
		return embeds[:maxEmbedsPerMessage]
	}
	return embeds
}

// sortMessages orders a page oldest-first by snowflake.
func sortMessages(page []*discordgo.Message) {
	sort.Slice(page, func(i, j int) bool {
		return snowflakeLess(page[i].ID, page[j].ID)
	})
}

func snowflakeLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	}
	return x < y
}

// isPersistence reports whether err only failed to write the mapping through.
func isPersistence(err error) bool {
	return errors.Is(err, mapping.ErrPersistence)
}
