package auction_test

import (
	"testing"

	"github.com/wyrmgate/market-engine/internal/auction"
	"github.com/wyrmgate/market-engine/internal/identity"
	"github.com/wyrmgate/market-engine/internal/model"
)

func TestBidPremium(t *testing.T) {
	mod := auction.BidPremium(10)
	listing := model.Listing{UnitPrice: 100}

	cases := []struct {
		bid  int64
		want int
	}{
		{100, 0},  // at ask
		{109, 0},  // under one full 10%
		{110, 1},  // exactly 10% over
		{150, 5},  // 50% over
		{199, 9},  // just under 100% over
		{200, 10}, // at the cap
		{500, 10}, // way past the cap
	}
	for _, tc := range cases {
		got := mod(identity.Profile{}, model.BuyOrder{BidPrice: tc.bid}, listing)
		if got.Value != tc.want {
			t.Errorf("bid %d: got +%d, want +%d", tc.bid, got.Value, tc.want)
		}
	}
}

func TestCharismaModifier(t *testing.T) {
	mod := auction.Charisma()
	cases := []struct {
		cha  int
		want int
	}{
		{10, 0},
		{11, 0},
		{12, 1},
		{18, 4},
		{8, -1},
	}
	for _, tc := range cases {
		got := mod(identity.Profile{Charisma: tc.cha}, model.BuyOrder{}, model.Listing{})
		if got.Value != tc.want {
			t.Errorf("CHA %d: got %+d, want %+d", tc.cha, got.Value, tc.want)
		}
	}
}

func TestMerchantModifier(t *testing.T) {
	mod := auction.MerchantBonus(2)
	if got := mod(identity.Profile{Merchant: true}, model.BuyOrder{}, model.Listing{}); got.Value != 2 {
		t.Errorf("merchant: got %d, want 2", got.Value)
	}
	if got := mod(identity.Profile{}, model.BuyOrder{}, model.Listing{}); got.Value != 0 {
		t.Errorf("non-merchant: got %d, want 0", got.Value)
	}
}

func TestRollBreakdown(t *testing.T) {
	roller := auction.NewSeededRoller(1,
		auction.BidPremium(10),
		auction.Charisma(),
		auction.MerchantBonus(2),
	)
	profile := identity.Profile{AccountID: "buyer", Charisma: 14, Merchant: true}
	order := model.BuyOrder{ID: "o1", BuyerID: "buyer", BidPrice: 120}
	listing := model.Listing{UnitPrice: 100}

	roll := roller.Roll(profile, order, listing)

	if roll.Die < 1 || roll.Die > 20 {
		t.Fatalf("die = %d, out of range", roll.Die)
	}
	if len(roll.Modifiers) != 3 {
		t.Fatalf("got %d modifiers, want 3", len(roll.Modifiers))
	}
	// The persisted total must equal die + every itemized modifier.
	sum := roll.Die
	for _, m := range roll.Modifiers {
		sum += m.Value
	}
	if roll.Total != sum {
		t.Errorf("total = %d, breakdown sums to %d", roll.Total, sum)
	}
	// +2 bid premium, +2 charisma, +2 merchant.
	if roll.Total != roll.Die+6 {
		t.Errorf("total = %d, want die+6", roll.Total)
	}
}

func TestSeededRollerIsDeterministic(t *testing.T) {
	profile := identity.Profile{Charisma: 10}
	order := model.BuyOrder{BidPrice: 100}
	listing := model.Listing{UnitPrice: 100}

	a := auction.NewSeededRoller(42).Roll(profile, order, listing)
	b := auction.NewSeededRoller(42).Roll(profile, order, listing)
	if a.Die != b.Die {
		t.Errorf("same seed produced %d and %d", a.Die, b.Die)
	}
}
