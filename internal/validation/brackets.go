package validation

import (
	"sort"

	"github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
)

// Bracket is a named level-range preset offered to participants
type Bracket struct {
	Name  string
	Range model.LevelRange
}

// Brackets resolves preset names to ranges and back
type Brackets struct {
	byName map[string]model.LevelRange
	order  []string
}

// DefaultBrackets returns the standard presets for a level ceiling
func DefaultBrackets(levelMax int) *Brackets {
	return NewBrackets([]Bracket{
		{Name: "0", Range: model.LevelRange{Min: 0, Max: 0}},
		{Name: "2-5", Range: model.LevelRange{Min: 2, Max: 5}},
		{Name: "6-9", Range: model.LevelRange{Min: 6, Max: 9}},
		{Name: "10+", Range: model.LevelRange{Min: 10, Max: levelMax}},
		{Name: "anything", Range: model.LevelRange{Min: 0, Max: levelMax}},
	})
}

// NewBrackets builds a bracket table; later duplicates win
func NewBrackets(presets []Bracket) *Brackets {
	b := &Brackets{byName: make(map[string]model.LevelRange, len(presets))}
	for _, p := range presets {
		if _, exists := b.byName[p.Name]; !exists {
			b.order = append(b.order, p.Name)
		}
		b.byName[p.Name] = p.Range
	}
	return b
}

// Range returns the range for a preset name
func (b *Brackets) Range(name string) (model.LevelRange, error) {
	r, ok := b.byName[name]
	if !ok {
		return model.LevelRange{}, errors.InvalidBracket(name)
	}
	return r, nil
}

// Name returns the preset whose range matches exactly, if any
func (b *Brackets) Name(r model.LevelRange) (string, bool) {
	for _, name := range b.order {
		if b.byName[name] == r {
			return name, true
		}
	}
	return "", false
}

// List returns the presets in declaration order
func (b *Brackets) List() []Bracket {
	out := make([]Bracket, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, Bracket{Name: name, Range: b.byName[name]})
	}
	return out
}

// Names returns the preset names sorted
func (b *Brackets) Names() []string {
	names := append([]string(nil), b.order...)
	sort.Strings(names)
	return names
}
