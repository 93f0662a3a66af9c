package experience

import (
	"testing"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardConfig_AmountFor(t *testing.T) {
	r := DefaultRewardConfig()

	cases := map[ActionType]float64{
		ActionMessage:     50,
		ActionReply:       50,
		ActionReact:       35,
		ActionVoiceMinute: 15,
	}
	for action, want := range cases {
		got, err := r.AmountFor(action)
		require.NoError(t, err)
		assert.Equal(t, want, got, action)
	}

	_, err := r.AmountFor("typing")
	assert.True(t, shared.IsValidation(err))
}

func TestRewardConfig_WithAmount(t *testing.T) {
	r := DefaultRewardConfig()

	updated, err := r.WithAmount(ActionReact, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, updated.React)
	assert.Equal(t, 35.0, r.React, "original must be untouched")

	_, err = r.WithAmount(ActionReact, -1)
	assert.True(t, shared.IsValidation(err))
}

func TestParseActionType(t *testing.T) {
	a, err := ParseActionType("voice")
	require.NoError(t, err)
	assert.Equal(t, ActionVoiceMinute, a)

	_, err = ParseActionType("Message")
	assert.Error(t, err)
}

func TestStoredSettings_ResolveFillsNulls(t *testing.T) {
	scalar := 75.0
	gainCap := 500.0
	ch := shared.ChannelID(99)

	stored := StoredSettings{CurveScalar: &scalar, GainCap: &gainCap, AnnounceChannel: &ch}
	got := stored.Resolve(DefaultSettings())

	assert.Equal(t, 75.0, got.Curve.Scalar)
	assert.Equal(t, DefaultCurvePower, got.Curve.Power)
	assert.Equal(t, 500.0, got.Rewards.GainCap)
	assert.Equal(t, DefaultMessageReward, got.Rewards.Message)
	require.NotNil(t, got.AnnounceChannel)
	assert.Equal(t, ch, *got.AnnounceChannel)

	empty := StoredSettings{}.Resolve(DefaultSettings())
	assert.Equal(t, DefaultSettings(), empty)
}

func TestSettings_StoredRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.Rewards.Reply = 12

	assert.Equal(t, s, s.Stored().Resolve(Settings{}))
}

func TestFormatQuantity(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{-5, "<0"},
		{0, "0"},
		{999.4, "999"},
		{1000, "1K"},
		{12345, "12.3K"},
		{999_999, "1000K"},
		{1_000_000, "1M"},
		{1_260_000, "1.3M"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatQuantity(tc.in), "%v", tc.in)
	}
}
