package mirror

import (
	"context"
	"discord-mirror/mapping"

	"github.com/bwmarrin/discordgo"
)

// Live-sync handlers propagate one source event each. They never fail
// outward: problems are settled and logged, and events for unmapped
// entities or other guilds are ignored.

func (e *Engine) fromSource(guildID string) (Options, bool) {
	opts := e.Options()
	return opts, guildID != "" && guildID == opts.SourceGuildID
}

// destinationStream resolves a source channel or thread id to the
// destination stream it was mirrored into.
func (e *Engine) destinationStream(sourceID string) (Target, bool) {
	if dstID, ok := e.store.Get(mapping.Channel, sourceID); ok {
		return Target{ChannelID: dstID}, true
	}
	dstID, ok := e.store.Get(mapping.Thread, sourceID)
	if !ok {
		return Target{}, false
	}
	thread, err := e.remote.Channel(dstID)
	if err != nil || thread.ParentID == "" {
		e.log.WithError(err).Warnf("resolving parent of destination thread %s", dstID)
		return Target{}, false
	}
	return Target{ChannelID: dstID, ParentID: thread.ParentID}, true
}

// OnMessageCreate relays a new source message.
func (e *Engine) OnMessageCreate(ctx context.Context, m *discordgo.Message) {
	opts, ok := e.fromSource(m.GuildID)
	if !ok {
		return
	}
	dst, ok := e.destinationStream(m.ChannelID)
	if !ok {
		return
	}
	src := Target{GuildID: opts.SourceGuildID, ChannelID: m.ChannelID}
	_, err := e.replicator(opts).RelayOne(ctx, src, dst, m)
	e.settle(nil, mapping.Message, m.ID, "relay message", err)
}

// OnMessageUpdate rewrites the mirrored copy of an edited message.
func (e *Engine) OnMessageUpdate(m *discordgo.Message) {
	opts, ok := e.fromSource(m.GuildID)
	if !ok {
		return
	}
	dstID, ok := e.store.Get(mapping.Message, m.ID)
	if !ok {
		return
	}
	dst, ok := e.destinationStream(m.ChannelID)
	if !ok {
		return
	}

	// update events can be partial; edit from the full message
	full, err := e.remote.Message(m.ChannelID, m.ID)
	if err != nil {
		e.settle(nil, mapping.Message, m.ID, "edit message", rejected("fetch edited message", err))
		return
	}
	handle, err := e.relay.HandleFor(dst.webhookChannel())
	if err != nil {
		e.settle(nil, mapping.Message, m.ID, "edit message", err)
		return
	}
	content := MirroredContent(full.Content, Permalink(opts.SourceGuildID, m.ChannelID, m.ID))
	err = e.relay.Edit(handle, dst.threadID(), dstID, content, passEmbeds(full.Embeds))
	e.settle(nil, mapping.Message, m.ID, "edit message", err)
}

// OnMessageDelete deletes the mirrored copy. The mapping is dropped either way.
func (e *Engine) OnMessageDelete(m *discordgo.Message) {
	if _, ok := e.fromSource(m.GuildID); !ok {
		return
	}
	dstID, ok := e.store.Get(mapping.Message, m.ID)
	if !ok {
		return
	}
	var err error
	if dst, ok := e.destinationStream(m.ChannelID); ok {
		if derr := e.remote.DeleteMessage(dst.ChannelID, dstID); derr != nil && !isNotFound(derr) {
			err = rejected("delete message", derr)
		}
	}
	e.store.Remove(mapping.Message, m.ID)
	if perr := e.store.Persist(); err == nil {
		err = perr
	}
	e.settle(nil, mapping.Message, m.ID, "delete message", err)
}

// OnChannelCreate mirrors a new category or channel. Threads arrive through
// OnThreadCreate.
func (e *Engine) OnChannelCreate(ch *discordgo.Channel) {
	opts, ok := e.fromSource(ch.GuildID)
	if !ok || ch.IsThread() {
		return
	}
	members := newMemberCache(e.remote, opts.DestinationGuildID)
	overwrites := TranslateOverwrites(ch.PermissionOverwrites, e.store, members.has)

	if ch.Type == discordgo.ChannelTypeGuildCategory {
		if _, ok := e.store.Get(mapping.Category, ch.ID); ok {
			return
		}
		created, err := e.remote.CreateChannel(opts.DestinationGuildID, discordgo.GuildChannelCreateData{
			Name:                 ch.Name,
			Type:                 discordgo.ChannelTypeGuildCategory,
			Position:             ch.Position,
			PermissionOverwrites: overwrites,
		})
		if err != nil {
			e.settle(nil, mapping.Category, ch.ID, "create category", rejected("create category "+ch.Name, err))
			return
		}
		e.record(nil, mapping.Category, ch.ID, created.ID, "create category")
		return
	}

	kind, ok := kindOf(ch.Type)
	if !ok {
		return
	}
	if _, ok := e.store.Get(mapping.Channel, ch.ID); ok {
		return
	}
	var parentID string
	if ch.ParentID != "" {
		parentID, _ = e.store.Get(mapping.Category, ch.ParentID)
	}
	created, err := e.createChannel(opts.DestinationGuildID, kind, ch, overwrites, parentID)
	if err != nil {
		e.settle(nil, mapping.Channel, ch.ID, "create channel", err)
		return
	}
	e.record(nil, mapping.Channel, ch.ID, created.ID, "create channel")
}

// OnChannelDelete deletes the mirrored category or channel. For a channel,
// mappings of the threads under its destination are dropped too, since the
// source side can no longer be listed.
func (e *Engine) OnChannelDelete(ch *discordgo.Channel) {
	if _, ok := e.fromSource(ch.GuildID); !ok || ch.IsThread() {
		return
	}

	kind := mapping.Channel
	if ch.Type == discordgo.ChannelTypeGuildCategory {
		kind = mapping.Category
	}
	dstID, ok := e.store.Get(kind, ch.ID)
	if !ok {
		return
	}

	if kind == mapping.Channel {
		threads, err := e.discoverThreads(dstID)
		if err != nil {
			e.log.WithError(err).Warnf("listing threads of destination channel %s", dstID)
		}
		ids := make([]string, 0, len(threads))
		for _, t := range threads {
			ids = append(ids, t.ID)
		}
		if n := e.store.RemoveByDestination(mapping.Thread, ids...); n > 0 {
			e.log.Debugf("dropped %d thread mappings under channel %s", n, ch.ID)
		}
	}

	var err error
	if derr := e.remote.DeleteChannel(dstID); derr != nil && !isNotFound(derr) {
		err = rejected("delete channel", derr)
	}
	e.relay.Forget(dstID)
	e.store.Remove(kind, ch.ID)
	if perr := e.store.Persist(); err == nil {
		err = perr
	}
	e.settle(nil, kind, ch.ID, "delete channel", err)
}

// OnThreadCreate mirrors a thread newly created under a mapped channel.
func (e *Engine) OnThreadCreate(t *discordgo.Channel) {
	opts, ok := e.fromSource(t.GuildID)
	if !ok || t.ParentID == "" {
		return
	}
	if _, ok := e.store.Get(mapping.Thread, t.ID); ok {
		return
	}
	dstParentID, ok := e.store.Get(mapping.Channel, t.ParentID)
	if !ok {
		return
	}
	dstParent, err := e.remote.Channel(dstParentID)
	if err != nil {
		e.settle(nil, mapping.Thread, t.ID, "create thread", rejected("resolve destination parent", err))
		return
	}
	created, err := e.startThread(opts, dstParent, t)
	if err != nil {
		e.settle(nil, mapping.Thread, t.ID, "create thread", err)
		return
	}
	e.record(nil, mapping.Thread, t.ID, created.ID, "create thread")
}

// OnThreadDelete deletes the mirrored thread.
func (e *Engine) OnThreadDelete(t *discordgo.Channel) {
	if _, ok := e.fromSource(t.GuildID); !ok {
		return
	}
	dstID, ok := e.store.Get(mapping.Thread, t.ID)
	if !ok {
		return
	}
	var err error
	if derr := e.remote.DeleteChannel(dstID); derr != nil && !isNotFound(derr) {
		err = rejected("delete thread", derr)
	}
	e.store.Remove(mapping.Thread, t.ID)
	if perr := e.store.Persist(); err == nil {
		err = perr
	}
	e.settle(nil, mapping.Thread, t.ID, "delete thread", err)
}
