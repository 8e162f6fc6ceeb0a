package orchestrator

import (
	"time"

	"github.com/n0madic/go-turnkit/internal/config"
	"github.com/n0madic/go-turnkit/internal/types"
)

// Settings are the reloadable knobs of the orchestrator.
type Settings struct {
	Model                  string
	Instructions           string
	ReasoningEffort        string
	ReasoningSummary       string
	Verbosity              string
	ServiceTier            string
	MaxRounds              int
	MaxForcedContinuations int
	AllowFollowUps         bool
	AutoCompactTokens      int64
	WebSearch              bool
	Timeout                time.Duration
	MutationTools          []string
	Tools                  []types.Tool
}

// SettingsFromConfig maps configuration onto Settings. Tool declarations are
// loaded separately.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Model:                  cfg.Remote.Model,
		Instructions:           cfg.Turn.Instructions,
		ReasoningEffort:        cfg.Remote.ReasoningEffort,
		ReasoningSummary:       cfg.Remote.ReasoningSummary,
		Verbosity:              cfg.Remote.Verbosity,
		ServiceTier:            cfg.Remote.ServiceTier,
		MaxRounds:              cfg.Turn.MaxRounds,
		MaxForcedContinuations: cfg.Turn.MaxForcedContinuations,
		AllowFollowUps:         cfg.Turn.AllowFollowUps,
		AutoCompactTokens:      cfg.Turn.AutoCompactTokens,
		WebSearch:              cfg.Turn.WebSearch,
		Timeout:                cfg.Remote.Timeout,
		MutationTools:          append([]string(nil), cfg.Turn.MutationTools...),
	}
}

func (s Settings) withDefaults() Settings {
	if s.MaxRounds <= 0 {
		s.MaxRounds = 12
	}
	if s.MaxForcedContinuations < 0 {
		s.MaxForcedContinuations = 0
	}
	return s
}
