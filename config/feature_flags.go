package config

import "sort"

// FeatureFlags toggles optional behavior. Each flag is read from its own
// FEATURE_* variable.
type FeatureFlags struct {
	// VoiceRewards registers the voice_rewards job.
	VoiceRewards bool `env:"FEATURE_VOICE_REWARDS" envDefault:"true"`

	// Announcements posts level-up messages to the announce channel.
	Announcements bool `env:"FEATURE_ANNOUNCEMENTS" envDefault:"true"`

	// AutoroleSync applies autorole deltas on level changes.
	AutoroleSync bool `env:"FEATURE_AUTOROLE_SYNC" envDefault:"true"`

	// RankCache serves leaderboard pages from Redis when Redis is enabled.
	RankCache bool `env:"FEATURE_RANK_CACHE" envDefault:"true"`
}

// Feature names as reported by All.
const (
	FeatureVoiceRewards  = "voice_rewards"
	FeatureAnnouncements = "announcements"
	FeatureAutoroleSync  = "autorole_sync"
	FeatureRankCache     = "rank_cache"
)

// All returns every flag by name.
func (f FeatureFlags) All() map[string]bool {
	return map[string]bool{
		FeatureVoiceRewards:  f.VoiceRewards,
		FeatureAnnouncements: f.Announcements,
		FeatureAutoroleSync:  f.AutoroleSync,
		FeatureRankCache:     f.RankCache,
	}
}

// Enabled returns the names of enabled flags in order.
func (f FeatureFlags) Enabled() []string {
	var out []string
	for name, on := range f.All() {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
