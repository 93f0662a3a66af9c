package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/domain/voice"
)

// ══════════════════════════════════════════════════════════════════════════════
// VOICE PRESENCE
// One hash per guild: field = principal id, value = join time (unix millis).
// Presence survives process restarts, so minutes keep accruing across deploys.
// ══════════════════════════════════════════════════════════════════════════════

// VoicePresence implements voice.Presence on Redis.
type VoicePresence struct {
	cache *Cache
	guild shared.GuildID
}

// NewVoicePresence creates a Redis-backed presence tracker.
func NewVoicePresence(cache *Cache, guild shared.GuildID) *VoicePresence {
	return &VoicePresence{cache: cache, guild: guild}
}

func (v *VoicePresence) key() string {
	return guildKey(PrefixVoice, v.guild, "sessions")
}

// Join implements voice.Presence.
func (v *VoicePresence) Join(ctx context.Context, principal shared.PrincipalID, at time.Time) error {
	err := v.cache.Client().HSetNX(ctx, v.key(), principal.String(), at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("voice join %s: %w", principal, err)
	}
	return nil
}

// Leave implements voice.Presence.
func (v *VoicePresence) Leave(ctx context.Context, principal shared.PrincipalID) error {
	if err := v.cache.Client().HDel(ctx, v.key(), principal.String()).Err(); err != nil {
		return fmt.Errorf("voice leave %s: %w", principal, err)
	}
	return nil
}

// Present implements voice.Presence. Malformed fields are skipped.
func (v *VoicePresence) Present(ctx context.Context) ([]voice.Session, error) {
	fields, err := v.cache.Client().HGetAll(ctx, v.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("voice present: %w", err)
	}

	out := make([]voice.Session, 0, len(fields))
	for field, value := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, voice.Session{
			Principal: shared.PrincipalID(id),
			JoinedAt:  time.UnixMilli(ms),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out, nil
}
