package validation

import (
	"fmt"
	"strings"

	"github.com/devrev/softmatch/internal/errors"
	"github.com/devrev/softmatch/internal/model"
)

const (
	// MaxRolePreferences bounds a solo entry's ordered role list
	MaxRolePreferences = 3

	// MaxDisplayNameSize bounds display names in bytes
	MaxDisplayNameSize = 128

	// unsupportedLevel is never a valid queue level
	unsupportedLevel = 1
)

// Limits holds the configured bounds declarations are validated against
type Limits struct {
	LevelMin  int
	LevelMax  int
	PartySize int
	RoleCaps  map[model.Role]int
}

// DefaultLimits mirrors the standard five-player party
func DefaultLimits() Limits {
	return Limits{
		LevelMin:  2,
		LevelMax:  20,
		PartySize: 5,
		RoleCaps: map[model.Role]int{
			model.RoleTank:   1,
			model.RoleHealer: 1,
			model.RoleDPS:    3,
		},
	}
}

// Validator validates and normalizes queue declarations
type Validator struct {
	limits Limits
}

// NewValidator creates a validator with the given limits
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the bounds the validator enforces
func (v *Validator) Limits() Limits {
	return v.limits
}

// ValidateDeclaration checks a declaration and returns its normalized form.
// The input is never modified.
func (v *Validator) ValidateDeclaration(decl model.Declaration) (model.Declaration, error) {
	if err := v.ValidateRange(decl.LevelMin, decl.LevelMax); err != nil {
		return model.Declaration{}, err
	}

	if err := v.ValidateKeystone(decl.HasKeystone, decl.KeystoneLevel); err != nil {
		return model.Declaration{}, err
	}

	if len(decl.DisplayName) > MaxDisplayNameSize {
		return model.Declaration{}, errors.InvalidArgument(
			fmt.Sprintf("display name exceeds %d bytes", MaxDisplayNameSize), nil)
	}

	out := decl
	if decl.KeystoneLevel != nil {
		lvl := *decl.KeystoneLevel
		out.KeystoneLevel = &lvl
	}

	hasRoles := len(decl.Roles) > 0
	hasComposition := decl.Composition != nil

	switch {
	case hasRoles && hasComposition:
		return model.Declaration{}, errors.InvalidArgument("roles and composition are mutually exclusive", nil)
	case hasComposition:
		comp, err := v.NormalizeComposition(decl.Composition)
		if err != nil {
			return model.Declaration{}, err
		}
		out.Composition = comp
		out.Roles = nil
	default:
		roles := NormalizeRoles(decl.Roles)
		if len(roles) == 0 {
			return model.Declaration{}, errors.InvalidRoles("at least one known role is required")
		}
		if len(roles) > MaxRolePreferences {
			return model.Declaration{}, errors.InvalidRoles(
				fmt.Sprintf("at most %d role preferences are allowed", MaxRolePreferences))
		}
		out.Roles = roles
		out.Composition = nil
	}

	return out, nil
}

// IsValidLevel reports whether a single level is acceptable in a queue range:
// 0 (the no-key tier) or within the configured bounds, never 1
func (v *Validator) IsValidLevel(level int) bool {
	if level == unsupportedLevel {
		return false
	}
	return level == 0 || (v.limits.LevelMin <= level && level <= v.limits.LevelMax)
}

// ValidateRange validates a queue level range
func (v *Validator) ValidateRange(levelMin, levelMax int) error {
	if levelMin > levelMax {
		return errors.InvalidRange(levelMin, levelMax, "level_min must be <= level_max")
	}
	if levelMin == unsupportedLevel || levelMax == unsupportedLevel {
		return errors.InvalidRange(levelMin, levelMax, "level 1 is not supported")
	}
	if !v.IsValidLevel(levelMin) {
		return errors.InvalidRange(levelMin, levelMax, "level_min must be 0 or within configured bounds")
	}
	if !v.IsValidLevel(levelMax) {
		return errors.InvalidRange(levelMin, levelMax, "level_max must be 0 or within configured bounds")
	}
	return nil
}

// ValidateKeystone requires keystoneLevel to be present iff hasKeystone
func (v *Validator) ValidateKeystone(hasKeystone bool, keystoneLevel *int) error {
	if !hasKeystone {
		if keystoneLevel != nil {
			return errors.InvalidKeystoneInput("keystone_level must be empty when has_keystone is false")
		}
		return nil
	}

	if keystoneLevel == nil {
		return errors.InvalidKeystoneInput("keystone_level is required when has_keystone is true")
	}
	if *keystoneLevel < v.limits.LevelMin || *keystoneLevel > v.limits.LevelMax {
		return errors.InvalidKeystoneInput(
			fmt.Sprintf("keystone_level must be between %d and %d", v.limits.LevelMin, v.limits.LevelMax)).
			WithDetail("keystone_level", *keystoneLevel)
	}
	return nil
}

// NormalizeComposition validates a group composition and drops zero counts
func (v *Validator) NormalizeComposition(comp model.Composition) (model.Composition, error) {
	out := make(model.Composition, len(comp))
	for role, count := range comp {
		normalized := model.Role(strings.ToLower(strings.TrimSpace(string(role))))
		if !normalized.IsKnown() {
			return nil, errors.InvalidComposition(fmt.Sprintf("unknown role %q", role))
		}
		if count < 0 {
			return nil, errors.InvalidComposition(fmt.Sprintf("negative count for %s", normalized))
		}
		if count == 0 {
			continue
		}
		out[normalized] += count
	}

	total := out.PlayerCount()
	if total == 0 {
		return nil, errors.InvalidComposition("composition must contain at least one player")
	}
	if total > v.limits.PartySize {
		return nil, errors.InvalidComposition(
			fmt.Sprintf("composition has %d players, party size is %d", total, v.limits.PartySize)).
			WithDetail("players", total)
	}
	for role, count := range out {
		if limit, ok := v.limits.RoleCaps[role]; ok && count > limit {
			return nil, errors.InvalidComposition(
				fmt.Sprintf("%d %s exceeds the cap of %d", count, role, limit)).
				WithDetail("role", string(role))
		}
	}
	return out, nil
}

// NormalizeRoles lowercases, drops unknown tags and duplicates, and keeps order
func NormalizeRoles(roles []model.Role) []model.Role {
	var ordered []model.Role
	seen := make(map[model.Role]struct{}, len(roles))
	for _, raw := range roles {
		role := model.Role(strings.ToLower(strings.TrimSpace(string(raw))))
		if !role.IsKnown() {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		ordered = append(ordered, role)
	}
	return ordered
}
