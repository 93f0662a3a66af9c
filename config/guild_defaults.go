package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// guildDefaultsFile is the YAML layout. Absent keys keep the built-in value.
//
//	curve:
//	  scalar: 100
//	  power: 2
//	rewards:
//	  message: 50
//	  gain_cap: 150
//	announce_channel: 123456789
type guildDefaultsFile struct {
	Curve           experience.Curve        `yaml:"curve"`
	Rewards         experience.RewardConfig `yaml:"rewards"`
	AnnounceChannel *int64                  `yaml:"announce_channel"`
}

// LoadGuildDefaults returns the settings a fresh guild starts with. An empty
// path yields the built-in defaults.
func LoadGuildDefaults(path string) (experience.Settings, error) {
	defaults := experience.DefaultSettings()
	if path == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("read guild defaults: %w", err)
	}

	file := guildDefaultsFile{Curve: defaults.Curve, Rewards: defaults.Rewards}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return defaults, fmt.Errorf("%s: %w", path, err)
	}

	out := experience.Settings{Curve: file.Curve, Rewards: file.Rewards}
	if file.AnnounceChannel != nil {
		ch := shared.ChannelID(*file.AnnounceChannel)
		out.AnnounceChannel = &ch
	}
	if err := out.Validate(); err != nil {
		return defaults, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
