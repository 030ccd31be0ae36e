package cli

import (
	"strings"

	"github.com/devrev/softmatch/internal/config"
	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/devrev/softmatch/internal/validation"
)

// Limits returns the declaration bounds
func Limits(cfg *config.Config) validation.Limits {
	return validation.Limits{
		LevelMin:  cfg.Matching.LevelMin,
		LevelMax:  cfg.Matching.LevelMax,
		PartySize: cfg.Matching.PartySize,
		RoleCaps:  roleCaps(cfg),
	}
}

// Rules returns the party composition rules
func Rules(cfg *config.Config) matching.Rules {
	return matching.Rules{
		PartySize:         cfg.Matching.PartySize,
		RoleCaps:          roleCaps(cfg),
		KeystoneThreshold: cfg.Matching.KeystoneThreshold,
	}
}

// Brackets returns the configured presets, or the defaults when none are set
func Brackets(cfg *config.Config) *validation.Brackets {
	if len(cfg.Matching.KeyBrackets) == 0 {
		return validation.DefaultBrackets(cfg.Matching.LevelMax)
	}
	presets := make([]validation.Bracket, 0, len(cfg.Matching.KeyBrackets))
	for _, b := range cfg.Matching.KeyBrackets {
		presets = append(presets, validation.Bracket{Name: b.Name, Range: model.LevelRange{Min: b.Min, Max: b.Max}})
	}
	return validation.NewBrackets(presets)
}

// ServiceConfig returns the session settings
func ServiceConfig(cfg *config.Config) service.Config {
	return service.Config{
		ConfirmTimeout:   cfg.Sessions.ConfirmTimeout,
		SessionRetention: cfg.Sessions.Retention,
		SyntheticIDFloor: cfg.Synthetic.IDFloor,
	}
}

// PresenceConfig returns the watchdog settings
func PresenceConfig(cfg *config.Config) service.PresenceConfig {
	return service.PresenceConfig{
		Interval:        cfg.Presence.Interval,
		PromptAfter:     cfg.Presence.PromptAfter,
		ResponseTimeout: cfg.Presence.ResponseTimeout,
	}
}

// Schedule returns the weekly reset schedule. Call after Validate.
func Schedule(cfg *config.Config) stats.Schedule {
	day, _ := cfg.ResetWeekday()
	return stats.Schedule{
		Weekday: day,
		Hour:    cfg.Stats.ResetHour,
		Zone:    cfg.ResetZone(),
	}
}

// PostgresConfig returns the recorder's connection settings
func PostgresConfig(cfg *config.Config) stats.PostgresConfig {
	return stats.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		MaxConns: cfg.Database.MaxConnections,
		MinConns: cfg.Database.MinConnections,
	}
}

func roleCaps(cfg *config.Config) map[model.Role]int {
	caps := make(map[model.Role]int, len(cfg.Matching.RoleCaps))
	for role, n := range cfg.Matching.RoleCaps {
		caps[model.Role(strings.ToLower(role))] = n
	}
	return caps
}
