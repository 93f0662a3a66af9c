package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GUILD_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Guild.ID)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "guild-xp.db", cfg.Database.SQLitePath)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.FlushInterval)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Features.VoiceRewards)
	assert.Equal(t, "text", cfg.LogFormat())
	assert.Equal(t, "info", cfg.LogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GUILD_ID", "7")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_DEBUG", "true")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/xp")
	t.Setenv("ADMIN_TOKEN_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SCHEDULER_FLUSH_INTERVAL", "15s")
	t.Setenv("FEATURE_ANNOUNCEMENTS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.LogFormat())
	assert.Equal(t, "debug", cfg.LogLevel())
	assert.Equal(t, 15*time.Second, cfg.Scheduler.FlushInterval)
	assert.False(t, cfg.Features.Announcements)
	assert.NotContains(t, cfg.Features.Enabled(), FeatureAnnouncements)
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "2")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		"GUILD_ID is required",
		"DATABASE_URL is required",
		"ADMIN_TOKEN_HASH is required in production",
		"OTEL_TRACES_SAMPLER_RATIO",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("GUILD_ID", "1")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	assert.ErrorContains(t, err, "DB_DRIVER")
}

func TestFeatureFlags_Enabled(t *testing.T) {
	f := FeatureFlags{VoiceRewards: true, RankCache: true}
	assert.Equal(t, []string{FeatureRankCache, FeatureVoiceRewards}, f.Enabled())
	assert.Len(t, f.All(), 4)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadGuildDefaults(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		s, err := LoadGuildDefaults("")
		require.NoError(t, err)
		assert.Equal(t, experience.DefaultSettings(), s)
	})

	t.Run("partial override", func(t *testing.T) {
		path := writeFile(t, "curve:\n  power: 1.5\nrewards:\n  gain_cap: 300\nannounce_channel: 99\n")
		s, err := LoadGuildDefaults(path)
		require.NoError(t, err)

		assert.Equal(t, experience.DefaultCurveScalar, s.Curve.Scalar)
		assert.Equal(t, 1.5, s.Curve.Power)
		assert.Equal(t, 300.0, s.Rewards.GainCap)
		assert.Equal(t, experience.DefaultMessageReward, s.Rewards.Message)
		require.NotNil(t, s.AnnounceChannel)
		assert.Equal(t, shared.ChannelID(99), *s.AnnounceChannel)
	})

	t.Run("empty file", func(t *testing.T) {
		s, err := LoadGuildDefaults(writeFile(t, ""))
		require.NoError(t, err)
		assert.Equal(t, experience.DefaultSettings(), s)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadGuildDefaults(writeFile(t, "curve:\n  slope: 3\n"))
		assert.Error(t, err)
	})

	t.Run("invalid curve", func(t *testing.T) {
		_, err := LoadGuildDefaults(writeFile(t, "curve:\n  scalar: -1\n"))
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadGuildDefaults(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
