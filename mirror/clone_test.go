package mirror

import (
	"context"
	"discord-mirror/mapping"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const (
	srcGuild = "100"
	dstGuild = "200"
	admin    = "300"
	member   = "301"
)

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestEngine(f *fakeRemote) *Engine {
	store := mapping.NewStore(mapping.NewMemoryBackend())
	opts := Options{
		SourceGuildID:      srcGuild,
		DestinationGuildID: dstGuild,
		ChannelConcurrency: 2,
		MessageConcurrency: 4,
		MaxAttachmentBytes: 1 << 20,
	}
	return NewEngine(f, store, NewRelayCache(f, "Mirror"), opts, quietLog())
}

func textChannel(id, name, parent string, position int) *discordgo.Channel {
	return &discordgo.Channel{ID: id, GuildID: srcGuild, Name: name, Type: discordgo.ChannelTypeGuildText, ParentID: parent, Position: position}
}

func thread(id, name, parent string, archived bool) *discordgo.Channel {
	return &discordgo.Channel{
		ID:             id,
		GuildID:        srcGuild,
		Name:           name,
		Type:           discordgo.ChannelTypeGuildPublicThread,
		ParentID:       parent,
		ThreadMetadata: &discordgo.ThreadMetadata{Archived: archived, AutoArchiveDuration: 60},
	}
}

func sourceMessage(id, channelID, author, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   srcGuild,
		Content:   content,
		Author:    &discordgo.User{ID: "u" + author, Username: author, Avatar: "a" + author},
	}
}

// seededRemote builds a small source guild and a destination guild with leftovers.
func seededRemote() *fakeRemote {
	f := newFakeRemote()
	f.addGuild(srcGuild, "owner", discordgo.PermissionViewChannel)
	f.addGuild(dstGuild, "owner", 0)

	f.addRole(srcGuild, &discordgo.Role{ID: "110", Name: "admin", Permissions: discordgo.PermissionAdministrator, Position: 2, Color: 0xff0000, Hoist: true})
	f.addRole(srcGuild, &discordgo.Role{ID: "111", Name: "member", Permissions: discordgo.PermissionSendMessages, Position: 1, Mentionable: true})
	f.addRole(srcGuild, &discordgo.Role{ID: "112", Name: "some-bot", Managed: true, Position: 3})
	f.addMember(srcGuild, admin, "110")
	f.addMember(srcGuild, member, "111")

	f.addRole(dstGuild, &discordgo.Role{ID: "210", Name: "stale", Position: 1})
	f.addChannel(&discordgo.Channel{ID: "220", GuildID: dstGuild, Name: "old-category", Type: discordgo.ChannelTypeGuildCategory})
	f.addChannel(&discordgo.Channel{ID: "221", GuildID: dstGuild, Name: "old", Type: discordgo.ChannelTypeGuildText, ParentID: "220"})

	f.addChannel(&discordgo.Channel{ID: "120", GuildID: srcGuild, Name: "general", Type: discordgo.ChannelTypeGuildCategory, Position: 0})
	f.addChannel(&discordgo.Channel{ID: "121", GuildID: srcGuild, Name: "archive", Type: discordgo.ChannelTypeGuildCategory, Position: 1})

	chat := textChannel("130", "chat", "120", 1)
	chat.PermissionOverwrites = []*discordgo.PermissionOverwrite{
		{ID: "111", Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionSendMessages},
		{ID: "999", Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionSendMessages},
		{ID: member, Type: discordgo.PermissionOverwriteTypeMember, Deny: discordgo.PermissionViewChannel},
	}
	f.addChannel(chat)
	f.addChannel(textChannel("131", "rules", "120", 0))
	f.addChannel(&discordgo.Channel{ID: "132", GuildID: srcGuild, Name: "voice", Type: discordgo.ChannelTypeGuildVoice, ParentID: "120", Position: 2, Bitrate: 64000})
	f.addChannel(&discordgo.Channel{ID: "133", GuildID: srcGuild, Name: "ideas", Type: discordgo.ChannelTypeGuildForum, ParentID: "121", Position: 0})

	f.addChannel(thread("140", "active-thread", "130", false))
	f.addChannel(thread("141", "old-thread", "130", true))
	f.addChannel(thread("142", "forum-post", "133", false))

	for i := 1; i <= 5; i++ {
		f.addMessage(sourceMessage(fmt.Sprint(1000+i), "130", "alice", fmt.Sprintf("chat message %d", i)))
	}
	f.addMessage(sourceMessage("1101", "140", "bob", "thread hello"))
	f.addMessage(sourceMessage("1102", "140", "alice", "thread reply"))
	f.addMessage(sourceMessage("1111", "141", "bob", "archived talk"))
	f.addMessage(sourceMessage("142", "142", "carol", "forum opener"))
	return f
}

func mustResync(t *testing.T, e *Engine) *Report {
	t.Helper()
	report, err := e.FullResync(context.Background(), admin)
	if err != nil {
		t.Fatalf("full resync failed: %v", err)
	}
	return report
}

func TestFullResyncClonesRoles(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	mustResync(t, e)

	dstRoles, _ := f.GuildRoles(dstGuild)
	byID := make(map[string]*discordgo.Role)
	for _, r := range dstRoles {
		byID[r.ID] = r
	}
	if len(dstRoles) != 3 {
		t.Fatalf("expected @everyone plus two cloned roles, got %d", len(dstRoles))
	}

	srcRoles, _ := f.GuildRoles(srcGuild)
	for _, r := range srcRoles {
		dstID, ok := e.Store().Get(mapping.Role, r.ID)
		if r.Managed {
			if ok {
				t.Fatalf("managed role %s should not be cloned", r.Name)
			}
			continue
		}
		if !ok {
			t.Fatalf("role %s not mapped", r.Name)
		}
		if r.ID == srcGuild {
			if dstID != dstGuild {
				t.Fatalf("@everyone should map to the destination's, got %s", dstID)
			}
			continue
		}
		got := byID[dstID]
		if got == nil {
			t.Fatalf("mapped role %s missing in destination", dstID)
		}
		if got.Permissions != r.Permissions || got.Color != r.Color || got.Hoist != r.Hoist || got.Mentionable != r.Mentionable {
			t.Fatalf("role %s attributes differ: %+v vs %+v", r.Name, got, r)
		}
	}
	if len(f.reorders) != 1 || len(f.reorders[0]) != 2 {
		t.Fatalf("expected one reorder of two roles, got %+v", f.reorders)
	}
}

func TestFullResyncTearsDownBeforeRebuilding(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	e.Store().Put(mapping.Message, "stale-src", "stale-dst")

	type observation struct {
		mappings int
		leftover []string
	}
	var seen []observation
	f.onListRoles = func(guildID string) {
		if guildID != srcGuild {
			return
		}
		n := 0
		for _, c := range e.Store().Counts() {
			n += c
		}
		var left []string
		for _, id := range []string{"220", "221"} {
			if _, err := f.Channel(id); err == nil {
				left = append(left, id)
			}
		}
		f.mu.Lock()
		for _, r := range f.roles[dstGuild] {
			if r.ID != dstGuild {
				left = append(left, r.ID)
			}
		}
		f.mu.Unlock()
		seen = append(seen, observation{mappings: n, leftover: left})
	}
	mustResync(t, e)

	// the last source role listing is the one that starts role cloning
	last := seen[len(seen)-1]
	if last.mappings != 0 {
		t.Fatalf("mapping store should be empty before roles are cloned, had %d entries", last.mappings)
	}
	if len(last.leftover) != 0 {
		t.Fatalf("destination leftovers survived teardown: %v", last.leftover)
	}
	if _, ok := e.Store().Get(mapping.Message, "stale-src"); ok {
		t.Fatalf("stale mapping survived the resync")
	}
}

func TestFullResyncKeepsSiblingOrder(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	mustResync(t, e)

	dstToSrc := make(map[string]string)
	for _, ch := range f.guildChannels(srcGuild) {
		kind := mapping.Channel
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			kind = mapping.Category
		}
		if dstID, ok := e.Store().Get(kind, ch.ID); ok {
			dstToSrc[dstID] = ch.ID
		}
	}

	siblings := func(guildID, parent string, translate bool) []string {
		var list []*discordgo.Channel
		for _, ch := range f.guildChannels(guildID) {
			if ch.ParentID == parent && !ch.IsThread() {
				list = append(list, ch)
			}
		}
		sortChannels(list)
		ids := make([]string, len(list))
		for i, ch := range list {
			ids[i] = ch.ID
			if translate {
				ids[i] = dstToSrc[ch.ID]
			}
		}
		return ids
	}

	for _, parent := range []string{"", "120", "121"} {
		dstParent := ""
		if parent != "" {
			dstParent, _ = e.Store().Get(mapping.Category, parent)
		}
		want := siblings(srcGuild, parent, false)
		got := siblings(dstGuild, dstParent, true)
		if strings.Join(want, ",") != strings.Join(got, ",") {
			t.Fatalf("siblings of %q: expected %v, got %v", parent, want, got)
		}
	}
}

func TestFullResyncRelaysHistory(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	report := mustResync(t, e)

	if report.TotalFailed() != 0 {
		t.Fatalf("expected a clean run, got %+v", report.Failures)
	}
	if report.Created[mapping.Message] != 9 {
		t.Fatalf("expected 9 relayed messages, got %d", report.Created[mapping.Message])
	}

	for _, id := range []string{"1001", "1003", "1005", "1101", "1111", "142"} {
		src, _ := f.findMessage(id)
		dstID, ok := e.Store().Get(mapping.Message, id)
		if !ok {
			t.Fatalf("message %s not mapped", id)
		}
		dst, ok := f.findMessage(dstID)
		if !ok {
			t.Fatalf("destination message %s missing", dstID)
		}
		if !strings.Contains(dst.Content, src.Content) {
			t.Fatalf("destination content %q lacks %q", dst.Content, src.Content)
		}
		if !strings.Contains(dst.Content, Permalink(srcGuild, src.ChannelID, src.ID)) {
			t.Fatalf("destination content %q lacks a permalink", dst.Content)
		}
		if dst.Author.Username != src.Author.Username || dst.Author.Avatar != src.Author.AvatarURL("") {
			t.Fatalf("author not impersonated: %+v", dst.Author)
		}
	}
}

func TestFullResyncThreads(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	mustResync(t, e)

	dstChat, _ := e.Store().Get(mapping.Channel, "130")
	for _, id := range []string{"140", "141"} {
		dstID, ok := e.Store().Get(mapping.Thread, id)
		if !ok {
			t.Fatalf("thread %s not mapped", id)
		}
		th, err := f.Channel(dstID)
		if err != nil || th.ParentID != dstChat {
			t.Fatalf("thread %s not under the mirrored channel: %+v", id, th)
		}
	}

	archived, _ := e.Store().Get(mapping.Thread, "141")
	if th, _ := f.Channel(archived); th.ThreadMetadata == nil || !th.ThreadMetadata.Archived {
		t.Fatalf("archived source thread should be archived after replay")
	}

	active, _ := e.Store().Get(mapping.Thread, "140")
	for _, call := range f.executes {
		if call.threadID == active && call.channelID != dstChat {
			t.Fatalf("thread messages must go through the parent channel's webhook, got %s", call.channelID)
		}
	}

	post, _ := e.Store().Get(mapping.Thread, "142")
	msgs := f.messagesIn(post)
	if len(msgs) != 2 || !strings.Contains(msgs[0].Content, Permalink(srcGuild, "142", "142")) {
		t.Fatalf("forum post should start with a link back and then replay, got %d messages", len(msgs))
	}

	// forum channels carry no history of their own
	forum, _ := e.Store().Get(mapping.Channel, "133")
	if n := len(f.messagesIn(forum)); n != 0 {
		t.Fatalf("expected no messages in the forum channel, got %d", n)
	}
}

func TestFullResyncTranslatesOverwrites(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)
	mustResync(t, e)

	dstChat, _ := e.Store().Get(mapping.Channel, "130")
	ch, _ := f.Channel(dstChat)
	dstMember, _ := e.Store().Get(mapping.Role, "111")
	if len(ch.PermissionOverwrites) != 1 {
		t.Fatalf("expected only the mapped role overwrite, got %+v", ch.PermissionOverwrites)
	}
	ow := ch.PermissionOverwrites[0]
	if ow.ID != dstMember || ow.Allow != discordgo.PermissionSendMessages {
		t.Fatalf("unexpected overwrite %+v", ow)
	}
}

func TestFullResyncIsolatesFailures(t *testing.T) {
	f := seededRemote()
	f.failChannelNames["rules"] = true
	f.failContent = "chat message 3"
	e := newTestEngine(f)
	report := mustResync(t, e)

	if report.Failed[mapping.Channel] != 1 || report.Failed[mapping.Message] != 1 {
		t.Fatalf("expected one channel and one message failure, got %+v", report.Failed)
	}
	if _, ok := e.Store().Get(mapping.Channel, "131"); ok {
		t.Fatalf("failed channel should not be mapped")
	}
	for _, id := range []string{"130", "132", "133"} {
		if _, ok := e.Store().Get(mapping.Channel, id); !ok {
			t.Fatalf("channel %s should still be cloned", id)
		}
	}
	for _, id := range []string{"1001", "1002", "1004", "1005", "1101"} {
		if _, ok := e.Store().Get(mapping.Message, id); !ok {
			t.Fatalf("message %s should still be relayed", id)
		}
	}
	if _, ok := e.Store().Get(mapping.Message, "1003"); ok {
		t.Fatalf("failed message should not be mapped")
	}
	var item *ItemError
	for _, failure := range report.Failures {
		if failure.Kind == mapping.Message {
			item = failure
		}
	}
	if item == nil || !errors.Is(item, ErrRemoteRejected) {
		t.Fatalf("expected a rejected message failure, got %+v", report.Failures)
	}
}

func TestFullResyncPreconditions(t *testing.T) {
	f := seededRemote()
	e := newTestEngine(f)

	if _, err := e.FullResync(context.Background(), member); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := e.FullResync(context.Background(), "stranger"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for a non-member, got %v", err)
	}
	if _, err := f.Channel("221"); err != nil {
		t.Fatalf("a refused resync must not touch the destination")
	}

	opts := e.Options()
	opts.DestinationGuildID = srcGuild
	e.SetOptions(opts)
	if _, err := e.FullResync(context.Background(), admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for identical guilds, got %v", err)
	}

	opts.DestinationGuildID = "404"
	e.SetOptions(opts)
	if _, err := e.FullResync(context.Background(), admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing guild, got %v", err)
	}

	opts.DestinationGuildID = dstGuild
	e.SetOptions(opts)
	e.running.Store(true)
	if _, err := e.FullResync(context.Background(), admin); !errors.Is(err, ErrResyncInProgress) {
		t.Fatalf("expected ErrResyncInProgress, got %v", err)
	}
	e.running.Store(false)

	if _, err := e.FullResync(context.Background(), "owner"); err != nil {
		t.Fatalf("the owner may always resync: %v", err)
	}
	if e.LastReport() == nil {
		t.Fatalf("expected the finished run to be kept")
	}
}

func TestReportSummary(t *testing.T) {
	r := newRun()
	r.created(mapping.Message)
	r.failed(&ItemError{Kind: mapping.Channel, SourceID: "1", Op: "create channel", Err: ErrRemoteRejected})
	r.streamFailed()
	report := r.finish()

	if report.TotalFailed() != 2 {
		t.Fatalf("expected 2 failures, got %d", report.TotalFailed())
	}
	summary := report.Summary()
	for _, want := range []string{"messages: 1 created", "channels: 0 created, 1 failed", "history streams failed: 1"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %q lacks %q", summary, want)
		}
	}
}

func TestChannelKindFallback(t *testing.T) {
	var kinds []ChannelKind
	for kind := range channelKinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		spec := channelKinds[kind]
		got, ok := kindOf(spec.channelType)
		if !ok || got != kind {
			t.Fatalf("kindOf(%d) = %v, want %v", spec.channelType, got, kind)
		}
		if spec.fallback != nil && channelKinds[*spec.fallback].fallback != nil {
			t.Fatalf("%s falls back more than once", kind)
		}
	}
	if clampBitrate(384000) != 96000 || clampBitrate(64000) != 64000 {
		t.Fatalf("unexpected bitrate clamping")
	}
}
