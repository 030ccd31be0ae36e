// Package scenario loads and replays scripted queue populations used to
// exercise the matcher without real participants.
package scenario

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/validation"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Mode decides how queued players are grouped
type Mode string

const (
	// ModePartition queues every player without matching, then partitions
	ModePartition Mode = "partition"
	// ModeArrival matches each player as it is queued
	ModeArrival Mode = "arrival"
)

// Scenario is one scripted queue population
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Mode        Mode     `yaml:"mode"`
	Players     []Player `yaml:"players"`
	Expect      Expect   `yaml:"expect"`
}

// Player is one scripted queue entry. Held players wait for a human
// confirmation; everyone else confirms automatically.
type Player struct {
	Name        string         `yaml:"name"`
	Roles       []string       `yaml:"roles"`
	Composition map[string]int `yaml:"composition"`
	LevelMin    int            `yaml:"level_min"`
	LevelMax    int            `yaml:"level_max"`
	Bracket     string         `yaml:"bracket"`
	Keystone    int            `yaml:"keystone"`
	Hold        bool           `yaml:"hold"`
	ChannelRef  string         `yaml:"channel_ref"`
}

// Expect is the outcome a scenario is written for. LargestGroup is only
// checked when set.
type Expect struct {
	Completed    int `yaml:"completed"`
	Awaiting     int `yaml:"awaiting"`
	Unmatched    int `yaml:"unmatched"`
	LargestGroup int `yaml:"largest_group"`
}

// Parse decodes a scenario, rejecting unknown fields
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Mode == "" {
		sc.Mode = ModePartition
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads and parses a scenario file
func LoadFile(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", file, err)
	}
	return Parse(data)
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return apperrors.InvalidArgument("scenario name is required", nil)
	}
	if sc.Mode != ModePartition && sc.Mode != ModeArrival {
		return apperrors.InvalidArgument(fmt.Sprintf("scenario %s: unknown mode %q", sc.Name, sc.Mode), nil)
	}
	if len(sc.Players) == 0 {
		return apperrors.InvalidArgument(fmt.Sprintf("scenario %s has no players", sc.Name), nil)
	}

	seen := make(map[string]struct{}, len(sc.Players))
	for _, p := range sc.Players {
		if p.Name == "" {
			return apperrors.InvalidArgument(fmt.Sprintf("scenario %s: player without a name", sc.Name), nil)
		}
		if _, dup := seen[p.Name]; dup {
			return apperrors.InvalidArgument(fmt.Sprintf("scenario %s: duplicate player %s", sc.Name, p.Name), nil)
		}
		seen[p.Name] = struct{}{}
		if p.Bracket != "" && (p.LevelMin != 0 || p.LevelMax != 0) {
			return apperrors.InvalidArgument(fmt.Sprintf("scenario %s: player %s sets both a bracket and levels", sc.Name, p.Name), nil)
		}
	}
	return nil
}

// Declaration converts a player into a queue declaration
func (p Player) Declaration(brackets *validation.Brackets) (model.Declaration, error) {
	decl := model.Declaration{
		DisplayName: p.Name,
		LevelMin:    p.LevelMin,
		LevelMax:    p.LevelMax,
		Synthetic:   !p.Hold,
		ChannelRef:  p.ChannelRef,
	}
	if p.Bracket != "" {
		r, err := brackets.Range(p.Bracket)
		if err != nil {
			return model.Declaration{}, err
		}
		decl.LevelMin, decl.LevelMax = r.Min, r.Max
	}
	for _, role := range p.Roles {
		decl.Roles = append(decl.Roles, model.Role(strings.ToLower(role)))
	}
	if len(p.Composition) > 0 {
		decl.Composition = make(model.Composition, len(p.Composition))
		for role, n := range p.Composition {
			decl.Composition[model.Role(strings.ToLower(role))] = n
		}
	}
	if p.Keystone > 0 {
		level := p.Keystone
		decl.HasKeystone = true
		decl.KeystoneLevel = &level
	}
	return decl, nil
}

// Builtins returns the bundled scenarios sorted by name
func Builtins() ([]*Scenario, error) {
	files, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(files))
	for _, f := range files {
		data, err := builtinFS.ReadFile(path.Join("builtin", f.Name()))
		if err != nil {
			return nil, err
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns a bundled scenario by name
func Get(name string) (*Scenario, error) {
	all, err := Builtins()
	if err != nil {
		return nil, err
	}
	for _, sc := range all {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, apperrors.UnknownScenario(name)
}

// Names lists the bundled scenario names
func Names() []string {
	all, err := Builtins()
	if err != nil {
		return nil
	}
	names := make([]string, len(all))
	for i, sc := range all {
		names[i] = sc.Name
	}
	return names
}
