package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/domain/voice"
)

// VoicePresence is a voice.Presence held in process memory.
type VoicePresence struct {
	mu       sync.Mutex
	sessions map[shared.PrincipalID]time.Time
}

// NewVoicePresence creates an empty presence set.
func NewVoicePresence() *VoicePresence {
	return &VoicePresence{sessions: make(map[shared.PrincipalID]time.Time)}
}

// Join implements voice.Presence.
func (v *VoicePresence) Join(ctx context.Context, principal shared.PrincipalID, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.sessions[principal]; !ok {
		v.sessions[principal] = at
	}
	return nil
}

// Leave implements voice.Presence.
func (v *VoicePresence) Leave(ctx context.Context, principal shared.PrincipalID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.sessions, principal)
	return nil
}

// Present implements voice.Presence.
func (v *VoicePresence) Present(ctx context.Context) ([]voice.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]voice.Session, 0, len(v.sessions))
	for p, at := range v.sessions {
		out = append(out, voice.Session{Principal: p, JoinedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out, nil
}
