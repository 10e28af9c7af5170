package mirror

import (
	"context"
	"discord-mirror/mapping"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"
)

const (
	defaultArchiveDuration = 1440
	archivedPageSize       = 100
)

// FullResync wipes the destination guild and rebuilds it from the source:
// roles, categories, channels, threads and message history. Nothing is
// touched until the guilds resolve and invokerID is an administrator of the
// source guild.
func (e *Engine) FullResync(ctx context.Context, invokerID string) (*Report, error) {
	opts := e.Options()

	src, dst, err := e.resolveGuilds(opts)
	if err != nil {
		return nil, err
	}
	if err := e.checkAdministrator(src, invokerID); err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrResyncInProgress
	}
	defer e.running.Store(false)

	run := newRun()
	log := e.log.WithField("invoker", invokerID)
	log.Infof("full resync %s -> %s started", src.ID, dst.ID)

	e.teardown(dst.ID)

	e.store.ClearAll()
	if err := e.store.Persist(); err != nil {
		log.WithError(err).Warn("persisting cleared mapping")
	}

	e.cloneRoles(run, src, dst)
	e.cloneCategories(run, opts, src.ID)
	e.cloneChannels(ctx, run, opts)

	report := run.finish()
	e.lastMu.Lock()
	e.last = report
	e.lastMu.Unlock()

	log.Infof("full resync finished in %s, %d failures", report.Duration().Round(time.Second), report.TotalFailed())
	return report, nil
}

func (e *Engine) resolveGuilds(opts Options) (*discordgo.Guild, *discordgo.Guild, error) {
	if opts.SourceGuildID == "" || opts.DestinationGuildID == "" {
		return nil, nil, fmt.Errorf("%w: source and destination guild must both be configured", ErrNotFound)
	}
	if opts.SourceGuildID == opts.DestinationGuildID {
		return nil, nil, fmt.Errorf("%w: source and destination are the same guild", ErrNotFound)
	}
	src, err := e.remote.Guild(opts.SourceGuildID)
	if err != nil || src == nil {
		return nil, nil, fmt.Errorf("%w: source guild %s: %v", ErrNotFound, opts.SourceGuildID, err)
	}
	dst, err := e.remote.Guild(opts.DestinationGuildID)
	if err != nil || dst == nil {
		return nil, nil, fmt.Errorf("%w: destination guild %s: %v", ErrNotFound, opts.DestinationGuildID, err)
	}
	return src, dst, nil
}

// checkAdministrator requires the owner, or a member whose roles (including
// @everyone) grant Administrator.
func (e *Engine) checkAdministrator(guild *discordgo.Guild, userID string) error {
	if userID == "" {
		return ErrPermissionDenied
	}
	if guild.OwnerID == userID {
		return nil
	}
	member, err := e.remote.GuildMember(guild.ID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	roles, err := e.remote.GuildRoles(guild.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	held := map[string]bool{guild.ID: true}
	for _, id := range member.Roles {
		held[id] = true
	}
	var perms int64
	for _, r := range roles {
		if held[r.ID] {
			perms |= r.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator == 0 {
		return ErrPermissionDenied
	}
	return nil
}

// teardown empties the destination guild. Every deletion is best-effort.
func (e *Engine) teardown(guildID string) {
	log := e.log.WithField("stage", "teardown")

	channels, err := e.remote.GuildChannels(guildID)
	if err != nil {
		log.WithError(err).Warn("listing destination channels")
	}
	for _, categories := range []bool{false, true} {
		for _, ch := range channels {
			if (ch.Type == discordgo.ChannelTypeGuildCategory) != categories {
				continue
			}
			if err := e.remote.DeleteChannel(ch.ID); err != nil {
				log.WithError(err).Warnf("deleting channel %s (%s)", ch.Name, ch.ID)
			}
		}
	}

	roles, err := e.remote.GuildRoles(guildID)
	if err != nil {
		log.WithError(err).Warn("listing destination roles")
		return
	}
	for _, r := range roles {
		if r.ID == guildID || r.Managed {
			continue
		}
		if err := e.remote.DeleteRole(guildID, r.ID); err != nil {
			log.WithError(err).Warnf("deleting role %s (%s)", r.Name, r.ID)
		}
	}
}

func (e *Engine) cloneRoles(run *Run, src, dst *discordgo.Guild) {
	roles, err := e.remote.GuildRoles(src.ID)
	if err != nil {
		run.streamFailed()
		e.log.WithError(err).Error("listing source roles")
		return
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Position != roles[j].Position {
			return roles[i].Position < roles[j].Position
		}
		return snowflakeLess(roles[i].ID, roles[j].ID)
	})

	var order []*discordgo.Role
	for _, r := range roles {
		if r.ID == src.ID {
			e.record(run, mapping.Role, r.ID, dst.ID, "map @everyone")
			continue
		}
		if r.Managed {
			continue
		}

		color, hoist, perms, mentionable := r.Color, r.Hoist, r.Permissions, r.Mentionable
		created, err := e.remote.CreateRole(dst.ID, &discordgo.RoleParams{
			Name:        r.Name,
			Color:       &color,
			Hoist:       &hoist,
			Permissions: &perms,
			Mentionable: &mentionable,
		})
		if err != nil {
			e.settle(run, mapping.Role, r.ID, "create role", rejected("create role "+r.Name, err))
			continue
		}
		e.record(run, mapping.Role, r.ID, created.ID, "create role")
		order = append(order, &discordgo.Role{ID: created.ID, Position: r.Position})
	}

	if len(order) > 0 {
		if err := e.remote.ReorderRoles(dst.ID, order); err != nil {
			e.log.WithError(err).Warn("reordering destination roles")
		}
	}
}

func sortChannels(channels []*discordgo.Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		return snowflakeLess(channels[i].ID, channels[j].ID)
	})
}

func (e *Engine) cloneCategories(run *Run, opts Options, srcGuildID string) {
	channels, err := e.remote.GuildChannels(srcGuildID)
	if err != nil {
		run.streamFailed()
		e.log.WithError(err).Error("listing source categories")
		return
	}
	members := newMemberCache(e.remote, opts.DestinationGuildID)

	var categories []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			categories = append(categories, ch)
		}
	}
	sortChannels(categories)

	for _, cat := range categories {
		created, err := e.remote.CreateChannel(opts.DestinationGuildID, discordgo.GuildChannelCreateData{
			Name:                 cat.Name,
			Type:                 discordgo.ChannelTypeGuildCategory,
			Position:             cat.Position,
			PermissionOverwrites: TranslateOverwrites(cat.PermissionOverwrites, e.store, members.has),
		})
		if err != nil {
			e.settle(run, mapping.Category, cat.ID, "create category", rejected("create category "+cat.Name, err))
			continue
		}
		e.record(run, mapping.Category, cat.ID, created.ID, "create category")
	}
}

func (e *Engine) cloneChannels(ctx context.Context, run *Run, opts Options) {
	channels, err := e.remote.GuildChannels(opts.SourceGuildID)
	if err != nil {
		run.streamFailed()
		e.log.WithError(err).Error("listing source channels")
		return
	}

	var ordered []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory || ch.IsThread() {
			continue
		}
		ordered = append(ordered, ch)
	}
	sortChannels(ordered)

	members := newMemberCache(e.remote, opts.DestinationGuildID)
	slots := semaphore.NewWeighted(int64(opts.MessageConcurrency))
	replicator := e.replicator(opts)

	p := pool.New().WithMaxGoroutines(opts.ChannelConcurrency)
	for _, ch := range ordered {
		p.Go(func() {
			e.cloneChannel(ctx, run, opts, replicator, members, slots, ch)
		})
	}
	p.Wait()
}

// createChannel creates src as kind, retrying once as the kind's fallback.
func (e *Engine) createChannel(guildID string, kind ChannelKind, src *discordgo.Channel, overwrites []*discordgo.PermissionOverwrite, parentID string) (*discordgo.Channel, error) {
	created, err := e.remote.CreateChannel(guildID, kind.createData(src, overwrites, parentID))
	if err == nil {
		return created, nil
	}
	fallback := channelKinds[kind].fallback
	if fallback == nil {
		return nil, rejected(fmt.Sprintf("create %s channel %s", kind, src.Name), err)
	}
	e.log.WithError(err).Warnf("creating %s channel %s, retrying as %s", kind, src.Name, *fallback)
	created, err = e.remote.CreateChannel(guildID, fallback.createData(src, overwrites, parentID))
	if err != nil {
		return nil, rejected(fmt.Sprintf("create %s channel %s", *fallback, src.Name), err)
	}
	return created, nil
}

func (e *Engine) cloneChannel(ctx context.Context, run *Run, opts Options, replicator *Replicator, members *memberCache, slots *semaphore.Weighted, src *discordgo.Channel) {
	kind, ok := kindOf(src.Type)
	if !ok {
		e.log.Warnf("skipping channel %s (%s) of unsupported type %d", src.Name, src.ID, src.Type)
		return
	}

	var parentID string
	if src.ParentID != "" {
		parentID, _ = e.store.Get(mapping.Category, src.ParentID)
	}
	overwrites := TranslateOverwrites(src.PermissionOverwrites, e.store, members.has)

	dst, err := e.createChannel(opts.DestinationGuildID, kind, src, overwrites, parentID)
	if err != nil {
		e.settle(run, mapping.Channel, src.ID, "create channel", err)
		return
	}
	e.record(run, mapping.Channel, src.ID, dst.ID, "create channel")

	spec := channelKinds[kind]
	if spec.history {
		srcTarget := Target{GuildID: opts.SourceGuildID, ChannelID: src.ID}
		if err := replicator.Replay(ctx, run, srcTarget, Target{ChannelID: dst.ID}, slots); err != nil {
			run.streamFailed()
			e.log.WithError(err).Errorf("replaying history of channel %s", src.ID)
		}
	}
	if spec.threads {
		e.cloneThreads(ctx, run, opts, replicator, slots, src, dst)
	}
}

// discoverThreads lists active, archived public and archived private threads
// of channelID. Whatever was listed before an error is still returned.
func (e *Engine) discoverThreads(channelID string) ([]*discordgo.Channel, error) {
	seen := make(map[string]bool)
	var threads []*discordgo.Channel
	add := func(list []*discordgo.Channel) {
		for _, t := range list {
			if t != nil && !seen[t.ID] {
				seen[t.ID] = true
				threads = append(threads, t)
			}
		}
	}

	active, err := e.remote.ActiveThreads(channelID)
	if err != nil {
		return threads, rejected("list active threads of "+channelID, err)
	}
	add(active)

	var firstErr error
	for _, private := range []bool{false, true} {
		var before *time.Time
		for {
			list, err := e.remote.ArchivedThreads(channelID, private, before, archivedPageSize)
			if err != nil {
				// private archives need Manage Threads; a public listing error is worth reporting
				if !private && firstErr == nil {
					firstErr = rejected("list archived threads of "+channelID, err)
				}
				break
			}
			add(list.Threads)
			if !list.HasMore || len(list.Threads) == 0 {
				break
			}
			last := list.Threads[len(list.Threads)-1]
			if last.ThreadMetadata == nil {
				break
			}
			ts := last.ThreadMetadata.ArchiveTimestamp
			before = &ts
		}
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return snowflakeLess(threads[i].ID, threads[j].ID)
	})
	return threads, firstErr
}

func (e *Engine) cloneThreads(ctx context.Context, run *Run, opts Options, replicator *Replicator, slots *semaphore.Weighted, src, dst *discordgo.Channel) {
	threads, err := e.discoverThreads(src.ID)
	if err != nil {
		run.streamFailed()
		e.log.WithError(err).Errorf("discovering threads of channel %s", src.ID)
	}
	if len(threads) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(opts.MessageConcurrency)
	for _, t := range threads {
		p.Go(func() {
			e.cloneThread(ctx, run, opts, replicator, slots, src, dst, t)
		})
	}
	p.Wait()
}

func (e *Engine) cloneThread(ctx context.Context, run *Run, opts Options, replicator *Replicator, slots *semaphore.Weighted, parent, dstParent, t *discordgo.Channel) {
	created, err := e.startThread(opts, dstParent, t)
	if err != nil {
		e.settle(run, mapping.Thread, t.ID, "create thread", err)
		return
	}
	e.record(run, mapping.Thread, t.ID, created.ID, "create thread")

	srcTarget := Target{GuildID: opts.SourceGuildID, ChannelID: t.ID, ParentID: parent.ID}
	dstTarget := Target{ChannelID: created.ID, ParentID: dstParent.ID}
	if err := replicator.Replay(ctx, run, srcTarget, dstTarget, slots); err != nil {
		run.streamFailed()
		e.log.WithError(err).Errorf("replaying history of thread %s", t.ID)
	}

	if md := t.ThreadMetadata; md != nil && md.Archived {
		archived, locked := true, md.Locked
		if _, err := e.remote.EditChannel(created.ID, &discordgo.ChannelEdit{Archived: &archived, Locked: &locked}); err != nil {
			e.log.WithError(err).Warnf("archiving thread %s", created.ID)
		}
	}
}

// startThread creates the destination counterpart of t under dstParent.
// Forum posts cannot exist without a first message, so they get one linking
// back to the source post.
func (e *Engine) startThread(opts Options, dstParent, t *discordgo.Channel) (*discordgo.Channel, error) {
	duration := defaultArchiveDuration
	if t.ThreadMetadata != nil && t.ThreadMetadata.AutoArchiveDuration > 0 {
		duration = t.ThreadMetadata.AutoArchiveDuration
	}

	if kind, ok := kindOf(dstParent.Type); ok && channelKinds[kind].forumPosts {
		created, err := e.remote.StartForumThread(dstParent.ID, t.Name, duration, Permalink(opts.SourceGuildID, t.ID, t.ID))
		if err != nil {
			return nil, rejected("start forum post "+t.Name, err)
		}
		return created, nil
	}

	typ := t.Type
	if typ == discordgo.ChannelTypeGuildNewsThread && dstParent.Type != discordgo.ChannelTypeGuildNews {
		typ = discordgo.ChannelTypeGuildPublicThread
	}
	created, err := e.remote.StartThread(dstParent.ID, t.Name, typ, duration)
	if err != nil {
		return nil, rejected("start thread "+t.Name, err)
	}
	return created, nil
}
