package item_test

import (
	"errors"
	"testing"

	"github.com/wyrmgate/market-engine/internal/item"
)

func TestParseRef(t *testing.T) {
	ref, err := item.ParseRef("weapon:rare:iron-longsword")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Type != item.TypeWeapon {
		t.Errorf("type = %s, want weapon", ref.Type)
	}
	if ref.Rarity != item.RarityRare {
		t.Errorf("rarity = %s, want rare", ref.Rarity)
	}
	if ref.Slug != "iron-longsword" {
		t.Errorf("slug = %s, want iron-longsword", ref.Slug)
	}
	if ref.ID != "weapon:rare:iron-longsword" {
		t.Errorf("id = %s, want full reference", ref.ID)
	}
}

func TestParseRefErrors(t *testing.T) {
	cases := []struct {
		ref  string
		want error
	}{
		{"", item.ErrInvalidRef},
		{"weapon", item.ErrInvalidRef},
		{"weapon:rare", item.ErrInvalidRef},
		{"weapon:rare:", item.ErrInvalidRef},
		{"Weapon:rare:sword", item.ErrInvalidRef},
		{"weapon:rare:-sword", item.ErrInvalidRef},
		{"wand:rare:oak-wand", item.ErrInvalidType},
		{"weapon:mythic:sword", item.ErrInvalidRarity},
	}
	for _, tc := range cases {
		if _, err := item.ParseRef(tc.ref); !errors.Is(err, tc.want) {
			t.Errorf("ParseRef(%q) = %v, want %v", tc.ref, err, tc.want)
		}
	}
}

func TestValidTypeAndRarity(t *testing.T) {
	if !item.ValidType("potion") || item.ValidType("wand") {
		t.Error("ValidType misclassifies")
	}
	if !item.ValidRarity("legendary") || item.ValidRarity("mythic") {
		t.Error("ValidRarity misclassifies")
	}
}
