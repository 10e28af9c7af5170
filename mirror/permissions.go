package mirror

import (
	"discord-mirror/mapping"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MemberResolver reports whether the destination guild can address userID.
type MemberResolver func(userID string) bool

// TranslateOverwrites converts source permission overwrites into destination ones.
// Role overwrites are remapped through the store and dropped when the role is
// unmapped; member overwrites are kept only if the member exists in the
// destination. Allow/deny bits are copied as-is.
func TranslateOverwrites(src []*discordgo.PermissionOverwrite, store *mapping.Store, hasMember MemberResolver) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(src))
	for _, ow := range src {
		if ow == nil {
			continue
		}
		switch ow.Type {
		case discordgo.PermissionOverwriteTypeRole:
			dstID, ok := store.Get(mapping.Role, ow.ID)
			if !ok {
				continue
			}
			out = append(out, &discordgo.PermissionOverwrite{
				ID:    dstID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: ow.Allow,
				Deny:  ow.Deny,
			})
		case discordgo.PermissionOverwriteTypeMember:
			if hasMember == nil || !hasMember(ow.ID) {
				continue
			}
			out = append(out, &discordgo.PermissionOverwrite{
				ID:    ow.ID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: ow.Allow,
				Deny:  ow.Deny,
			})
		}
	}
	return out
}

// memberCache memoises destination membership lookups for the lifetime of one run.
type memberCache struct {
	remote  Remote
	guildID string

	mu   sync.Mutex
	seen map[string]bool
}

func newMemberCache(remote Remote, guildID string) *memberCache {
	return &memberCache{remote: remote, guildID: guildID, seen: make(map[string]bool)}
}

func (c *memberCache) has(userID string) bool {
	c.mu.Lock()
	present, ok := c.seen[userID]
	c.mu.Unlock()
	if ok {
		return present
	}

	_, err := c.remote.GuildMember(c.guildID, userID)
	present = err == nil

	c.mu.Lock()
	c.seen[userID] = present
	c.mu.Unlock()
	return present
}
