package experience

import (
	"fmt"
	"math"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ActionType enumerates the activities that earn experience.
type ActionType string

const (
	ActionMessage     ActionType = "message"
	ActionReply       ActionType = "reply"
	ActionReact       ActionType = "react"
	ActionVoiceMinute ActionType = "voice"
)

// Default reward amounts.
const (
	DefaultMessageReward     = 50.0
	DefaultReplyReward       = 50.0
	DefaultReactReward       = 35.0
	DefaultVoiceMinuteReward = 15.0
	DefaultGainCap           = 150.0
)

// RewardConfig holds the base reward per action and the per-interval gain cap.
type RewardConfig struct {
	Message     float64 `json:"message" yaml:"message"`
	Reply       float64 `json:"reply" yaml:"reply"`
	React       float64 `json:"react" yaml:"react"`
	VoiceMinute float64 `json:"voice_minute" yaml:"voice_minute"`

	// GainCap is the most raw experience one principal can earn per write operation.
	GainCap float64 `json:"gain_cap" yaml:"gain_cap"`
}

// DefaultRewardConfig returns the built-in reward amounts.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Message:     DefaultMessageReward,
		Reply:       DefaultReplyReward,
		React:       DefaultReactReward,
		VoiceMinute: DefaultVoiceMinuteReward,
		GainCap:     DefaultGainCap,
	}
}

// rewardFields maps each action to the field holding its amount.
var rewardFields = map[ActionType]func(*RewardConfig) *float64{
	ActionMessage:     func(r *RewardConfig) *float64 { return &r.Message },
	ActionReply:       func(r *RewardConfig) *float64 { return &r.Reply },
	ActionReact:       func(r *RewardConfig) *float64 { return &r.React },
	ActionVoiceMinute: func(r *RewardConfig) *float64 { return &r.VoiceMinute },
}

// Actions returns every known action type.
func Actions() []ActionType {
	return []ActionType{ActionMessage, ActionReply, ActionReact, ActionVoiceMinute}
}

// ParseActionType validates an action name.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if _, ok := rewardFields[a]; !ok {
		return "", shared.Validationf("experience", "ParseAction", "unknown action %q", s)
	}
	return a, nil
}

// AmountFor returns the reward for an action.
func (r RewardConfig) AmountFor(action ActionType) (float64, error) {
	field, ok := rewardFields[action]
	if !ok {
		return 0, shared.Validationf("experience", "AmountFor", "unknown action %q", action)
	}
	return *field(&r), nil
}

// WithAmount returns a copy with the reward for action replaced.
func (r RewardConfig) WithAmount(action ActionType, amount float64) (RewardConfig, error) {
	field, ok := rewardFields[action]
	if !ok {
		return r, shared.Validationf("experience", "SetReward", "unknown action %q", action)
	}
	if err := validateAmount("SetReward", amount); err != nil {
		return r, err
	}
	*field(&r) = amount
	return r, nil
}

// Validate checks that every amount is finite and non-negative.
func (r RewardConfig) Validate() error {
	for _, a := range Actions() {
		v, _ := r.AmountFor(a)
		if err := validateAmount("ValidateRewards", v); err != nil {
			return err
		}
	}
	return validateAmount("ValidateRewards", r.GainCap)
}

func validateAmount(op string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return shared.Validationf("experience", op, "amount must be a non-negative number, got %v", v)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILD SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings is the guild-scoped configuration owned by one aggregator instance.
type Settings struct {
	Curve           Curve             `json:"curve"`
	Rewards         RewardConfig      `json:"rewards"`
	AnnounceChannel *shared.ChannelID `json:"announce_channel,omitempty"`
}

// DefaultSettings returns the settings a fresh guild starts with.
func DefaultSettings() Settings {
	return Settings{
		Curve:   DefaultCurve(),
		Rewards: DefaultRewardConfig(),
	}
}

// Validate checks curve and reward values.
func (s Settings) Validate() error {
	if err := s.Curve.Validate(); err != nil {
		return err
	}
	return s.Rewards.Validate()
}

// StoredSettings is the settings row as persisted. Nil fields were never set
// and take the configured default on load.
type StoredSettings struct {
	CurveScalar       *float64
	CurvePower        *float64
	MessageReward     *float64
	ReplyReward       *float64
	ReactReward       *float64
	VoiceMinuteReward *float64
	GainCap           *float64
	AnnounceChannel   *shared.ChannelID
}

// Resolve fills nil fields from defaults.
func (s StoredSettings) Resolve(defaults Settings) Settings {
	out := defaults
	pick := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	pick(&out.Curve.Scalar, s.CurveScalar)
	pick(&out.Curve.Power, s.CurvePower)
	pick(&out.Rewards.Message, s.MessageReward)
	pick(&out.Rewards.Reply, s.ReplyReward)
	pick(&out.Rewards.React, s.ReactReward)
	pick(&out.Rewards.VoiceMinute, s.VoiceMinuteReward)
	pick(&out.Rewards.GainCap, s.GainCap)
	if s.AnnounceChannel != nil {
		ch := *s.AnnounceChannel
		out.AnnounceChannel = &ch
	}
	return out
}

// Stored converts resolved settings into a fully populated row.
func (s Settings) Stored() StoredSettings {
	f := func(v float64) *float64 { return &v }
	out := StoredSettings{
		CurveScalar:       f(s.Curve.Scalar),
		CurvePower:        f(s.Curve.Power),
		MessageReward:     f(s.Rewards.Message),
		ReplyReward:       f(s.Rewards.Reply),
		ReactReward:       f(s.Rewards.React),
		VoiceMinuteReward: f(s.Rewards.VoiceMinute),
		GainCap:           f(s.Rewards.GainCap),
	}
	if s.AnnounceChannel != nil {
		ch := *s.AnnounceChannel
		out.AnnounceChannel = &ch
	}
	return out
}

// String implements fmt.Stringer for logs.
func (s Settings) String() string {
	return fmt.Sprintf("curve=(%g,%g) cap=%g", s.Curve.Scalar, s.Curve.Power, s.Rewards.GainCap)
}
