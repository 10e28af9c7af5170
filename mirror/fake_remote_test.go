package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
)

type execCall struct {
	webhookID string
	channelID string
	threadID  string
	params    *discordgo.WebhookParams
	files     int
	messageID string
}

// fakeRemote is an in-memory pair of guilds.
type fakeRemote struct {
	mu     sync.Mutex
	nextID uint64

	guilds   map[string]*discordgo.Guild
	roles    map[string][]*discordgo.Role
	channels map[string]*discordgo.Channel
	members  map[string]map[string]*discordgo.Member
	messages map[string][]*discordgo.Message
	webhooks map[string][]*discordgo.Webhook
	files    map[string][]byte

	webhookCreates int
	webhookDelay   time.Duration
	// dropWebhookAfter removes the sending webhook once that many sends succeeded
	dropWebhookAfter int
	executes       []execCall
	reorders       [][]*discordgo.Role

	failChannelNames map[string]bool
	failContent      string
	sendDelay        time.Duration
	inflight         int32
	maxInflight      int32

	onListRoles func(guildID string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:           900000,
		guilds:           make(map[string]*discordgo.Guild),
		roles:            make(map[string][]*discordgo.Role),
		channels:         make(map[string]*discordgo.Channel),
		members:          make(map[string]map[string]*discordgo.Member),
		messages:         make(map[string][]*discordgo.Message),
		webhooks:         make(map[string][]*discordgo.Webhook),
		files:            make(map[string][]byte),
		failChannelNames: make(map[string]bool),
	}
}

func notFound() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel, Message: "Unknown"},
	}
}

func unknownWebhook() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownWebhook, Message: "Unknown Webhook"},
	}
}

func (f *fakeRemote) hasWebhook(w *discordgo.Webhook) bool {
	for _, existing := range f.webhooks[w.ChannelID] {
		if existing.ID == w.ID {
			return true
		}
	}
	return false
}

func (f *fakeRemote) newID() string {
	f.nextID++
	return strconv.FormatUint(f.nextID, 10)
}

// addGuild registers a guild with its @everyone role.
func (f *fakeRemote) addGuild(id, ownerID string, everyonePerms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[id] = &discordgo.Guild{ID: id, OwnerID: ownerID}
	f.roles[id] = []*discordgo.Role{{ID: id, Name: "@everyone", Permissions: everyonePerms}}
}

func (f *fakeRemote) addRole(guildID string, r *discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = append(f.roles[guildID], r)
}

func (f *fakeRemote) addMember(guildID, userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[guildID] == nil {
		f.members[guildID] = make(map[string]*discordgo.Member)
	}
	f.members[guildID][userID] = &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: userID}, Roles: roles}
}

func (f *fakeRemote) addChannel(ch *discordgo.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = ch
}

func (f *fakeRemote) addMessage(m *discordgo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ChannelID] = append(f.messages[m.ChannelID], m)
}

func (f *fakeRemote) guildChannels(guildID string) []*discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range f.channels {
		if ch.GuildID == guildID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return snowflakeLess(out[i].ID, out[j].ID) })
	return out
}

func (f *fakeRemote) messagesIn(channelID string) []*discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*discordgo.Message(nil), f.messages[channelID]...)
	sortMessages(out)
	return out
}

func (f *fakeRemote) findMessage(id string) (*discordgo.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.messages {
		for _, m := range list {
			if m.ID == id {
				return m, true
			}
		}
	}
	return nil, false
}

func (f *fakeRemote) Guild(guildID string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, notFound()
	}
	return g, nil
}

func (f *fakeRemote) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	if f.onListRoles != nil {
		f.onListRoles(guildID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.guilds[guildID]; !ok {
		return nil, notFound()
	}
	return append([]*discordgo.Role(nil), f.roles[guildID]...), nil
}

func (f *fakeRemote) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	var out []*discordgo.Channel
	for _, ch := range f.guildChannels(guildID) {
		if !ch.IsThread() {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeRemote) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil, notFound()
	}
	return m, nil
}

func (f *fakeRemote) CreateRole(guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &discordgo.Role{ID: f.newID(), Name: params.Name, Position: len(f.roles[guildID])}
	if params.Color != nil {
		r.Color = *params.Color
	}
	if params.Hoist != nil {
		r.Hoist = *params.Hoist
	}
	if params.Permissions != nil {
		r.Permissions = *params.Permissions
	}
	if params.Mentionable != nil {
		r.Mentionable = *params.Mentionable
	}
	f.roles[guildID] = append(f.roles[guildID], r)
	return r, nil
}

func (f *fakeRemote) DeleteRole(guildID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := f.roles[guildID]
	for i, r := range roles {
		if r.ID == roleID {
			f.roles[guildID] = append(roles[:i:i], roles[i+1:]...)
			return nil
		}
	}
	return notFound()
}

func (f *fakeRemote) ReorderRoles(guildID string, roles []*discordgo.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders = append(f.reorders, roles)
	return nil
}

func (f *fakeRemote) Channel(channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, notFound()
	}
	return ch, nil
}

func (f *fakeRemote) CreateChannel(guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChannelNames[data.Name] {
		return nil, errors.New("rejected by fake")
	}
	ch := &discordgo.Channel{
		ID:                   f.newID(),
		GuildID:              guildID,
		Name:                 data.Name,
		Type:                 data.Type,
		Position:             data.Position,
		ParentID:             data.ParentID,
		Topic:                data.Topic,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeRemote) EditChannel(channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, notFound()
	}
	if ch.ThreadMetadata == nil {
		ch.ThreadMetadata = &discordgo.ThreadMetadata{}
	}
	if data.Archived != nil {
		ch.ThreadMetadata.Archived = *data.Archived
	}
	if data.Locked != nil {
		ch.ThreadMetadata.Locked = *data.Locked
	}
	return ch, nil
}

func (f *fakeRemote) DeleteChannel(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return notFound()
	}
	delete(f.channels, channelID)
	delete(f.messages, channelID)
	for id, ch := range f.channels {
		if ch.ParentID == channelID && ch.IsThread() {
			delete(f.channels, id)
			delete(f.messages, id)
		}
	}
	return nil
}

func (f *fakeRemote) threads(channelID string, archived bool) []*discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range f.channels {
		if ch.ParentID != channelID || !ch.IsThread() {
			continue
		}
		isArchived := ch.ThreadMetadata != nil && ch.ThreadMetadata.Archived
		if isArchived == archived {
			out = append(out, ch)
		}
	}
	return out
}

func (f *fakeRemote) ActiveThreads(channelID string) ([]*discordgo.Channel, error) {
	return f.threads(channelID, false), nil
}

func (f *fakeRemote) ArchivedThreads(channelID string, private bool, before *time.Time, limit int) (*discordgo.ThreadsList, error) {
	var out []*discordgo.Channel
	for _, t := range f.threads(channelID, true) {
		if (t.Type == discordgo.ChannelTypeGuildPrivateThread) == private {
			out = append(out, t)
		}
	}
	return &discordgo.ThreadsList{Threads: out}, nil
}

func (f *fakeRemote) startThread(channelID, name string, typ discordgo.ChannelType) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.channels[channelID]
	if !ok {
		return nil, notFound()
	}
	t := &discordgo.Channel{
		ID:             f.newID(),
		GuildID:        parent.GuildID,
		ParentID:       channelID,
		Name:           name,
		Type:           typ,
		ThreadMetadata: &discordgo.ThreadMetadata{},
	}
	f.channels[t.ID] = t
	return t, nil
}

func (f *fakeRemote) StartThread(channelID, name string, typ discordgo.ChannelType, archiveDuration int) (*discordgo.Channel, error) {
	return f.startThread(channelID, name, typ)
}

func (f *fakeRemote) StartForumThread(channelID, name string, archiveDuration int, content string) (*discordgo.Channel, error) {
	t, err := f.startThread(channelID, name, discordgo.ChannelTypeGuildPublicThread)
	if err != nil {
		return nil, err
	}
	f.addMessage(&discordgo.Message{ID: t.ID, ChannelID: t.ID, Content: content})
	return t, nil
}

func (f *fakeRemote) Message(channelID, messageID string) (*discordgo.Message, error) {
	for _, m := range f.messagesIn(channelID) {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, notFound()
}

func (f *fakeRemote) MessagesAfter(channelID, afterID string, limit int) ([]*discordgo.Message, error) {
	var page []*discordgo.Message
	for _, m := range f.messagesIn(channelID) {
		if snowflakeLess(afterID, m.ID) {
			page = append(page, m)
		}
		if len(page) == limit {
			break
		}
	}
	// newest first, as the API returns them
	sort.Slice(page, func(i, j int) bool { return snowflakeLess(page[j].ID, page[i].ID) })
	return page, nil
}

func (f *fakeRemote) DeleteMessage(channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.messages[channelID]
	for i, m := range list {
		if m.ID == messageID {
			f.messages[channelID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return notFound()
}

func (f *fakeRemote) FetchAttachment(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("no file at %s", url)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s is too large", url)
	}
	return data, nil
}

func (f *fakeRemote) ChannelWebhooks(channelID string) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Webhook(nil), f.webhooks[channelID]...), nil
}

func (f *fakeRemote) CreateWebhook(channelID, name string) (*discordgo.Webhook, error) {
	if f.webhookDelay > 0 {
		time.Sleep(f.webhookDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return nil, notFound()
	}
	f.webhookCreates++
	w := &discordgo.Webhook{ID: f.newID(), ChannelID: channelID, Name: name, Token: "token-" + channelID}
	f.webhooks[channelID] = append(f.webhooks[channelID], w)
	return w, nil
}

func (f *fakeRemote) ExecuteWebhook(webhook *discordgo.Webhook, threadID string, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		peak := atomic.LoadInt32(&f.maxInflight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxInflight, peak, n) {
			break
		}
	}
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}

	for _, file := range params.Files {
		io.Copy(io.Discard, file.Reader)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasWebhook(webhook) {
		return nil, unknownWebhook()
	}
	if f.failContent != "" && strings.Contains(params.Content, f.failContent) {
		return nil, errors.New("rejected by fake")
	}
	target := webhook.ChannelID
	if threadID != "" {
		target = threadID
	}
	if _, ok := f.channels[target]; !ok {
		return nil, notFound()
	}
	m := &discordgo.Message{
		ID:        f.newID(),
		ChannelID: target,
		Content:   params.Content,
		Embeds:    params.Embeds,
		WebhookID: webhook.ID,
		Author:    &discordgo.User{Username: params.Username, Avatar: params.AvatarURL},
	}
	f.messages[target] = append(f.messages[target], m)
	f.executes = append(f.executes, execCall{
		webhookID: webhook.ID,
		channelID: webhook.ChannelID,
		threadID:  threadID,
		params:    params,
		files:     len(params.Files),
		messageID: m.ID,
	})
	if f.dropWebhookAfter > 0 && len(f.executes) == f.dropWebhookAfter {
		delete(f.webhooks, webhook.ChannelID)
		f.dropWebhookAfter = 0
	}
	return m, nil
}

func (f *fakeRemote) EditWebhookMessage(webhook *discordgo.Webhook, threadID, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error) {
	target := webhook.ChannelID
	if threadID != "" {
		target = threadID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[target] {
		if m.ID == messageID {
			if edit.Content != nil {
				m.Content = *edit.Content
			}
			return m, nil
		}
	}
	return nil, notFound()
}
