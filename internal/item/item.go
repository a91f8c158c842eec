// Package item handles marketplace item reference parsing and validation.
// Item data (stats, crafting recipes, icons) lives in the codex service;
// the market only needs the reference's type and rarity for browse filters,
// so both are encoded in the reference itself.
package item

import (
	"errors"
	"fmt"
	"regexp"
)

// Item categories tradeable on the market.
const (
	TypeWeapon   = "weapon"
	TypeArmor    = "armor"
	TypeTool     = "tool"
	TypeMaterial = "material"
	TypePotion   = "potion"
	TypeTrinket  = "trinket"
)

var validTypes = map[string]bool{
	TypeWeapon:   true,
	TypeArmor:    true,
	TypeTool:     true,
	TypeMaterial: true,
	TypePotion:   true,
	TypeTrinket:  true,
}

// Rarity tiers, lowest to highest.
const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

var validRarities = map[string]bool{
	RarityCommon:    true,
	RarityUncommon:  true,
	RarityRare:      true,
	RarityEpic:      true,
	RarityLegendary: true,
}

// refRegex matches: {type}:{rarity}:{slug}
// Example: weapon:rare:iron-longsword
var refRegex = regexp.MustCompile(`^([a-z]+):([a-z]+):([a-z0-9][a-z0-9-]*)$`)

var (
	ErrInvalidRef    = errors.New("item: invalid item reference format")
	ErrInvalidType   = errors.New("item: unsupported item type")
	ErrInvalidRarity = errors.New("item: unknown rarity tier")
)

// Ref is a parsed marketplace item reference.
type Ref struct {
	ID     string `json:"id"` // the full reference string
	Type   string `json:"type"`
	Rarity string `json:"rarity"`
	Slug   string `json:"slug"`
}

// ParseRef parses and validates an item reference string.
// Format: {type}:{rarity}:{slug}
func ParseRef(ref string) (*Ref, error) {
	matches := refRegex.FindStringSubmatch(ref)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {type}:{rarity}:{slug})", ErrInvalidRef, ref)
	}

	itemType := matches[1]
	rarity := matches[2]
	slug := matches[3]

	if !validTypes[itemType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, itemType)
	}
	if !validRarities[rarity] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRarity, rarity)
	}

	return &Ref{
		ID:     ref,
		Type:   itemType,
		Rarity: rarity,
		Slug:   slug,
	}, nil
}

// ValidType reports whether s names a tradeable item category. Used to
// validate browse filter input.
func ValidType(s string) bool { return validTypes[s] }

// ValidRarity reports whether s names a rarity tier.
func ValidRarity(s string) bool { return validRarities[s] }
