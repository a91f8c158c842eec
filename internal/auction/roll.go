// Package auction drives the batch auction: a fixed-period cycle
// scheduler and the roll-based resolver that picks winning buy orders.
package auction

import (
	"math/rand/v2"

	"github.com/wyrmgate/market-engine/internal/identity"
	"github.com/wyrmgate/market-engine/internal/model"
)

// Modifier computes one itemized roll bonus for an order contending a
// listing. The modifier set is pluggable; exact weights are game-design
// tunables, not engine constants.
type Modifier func(p identity.Profile, o model.BuyOrder, l model.Listing) model.RollModifier

// BidPremium rewards bidding over the asking price: +1 per full 10% of
// the unit price bid above it, capped.
func BidPremium(cap int) Modifier {
	return func(_ identity.Profile, o model.BuyOrder, l model.Listing) model.RollModifier {
		bonus := 0
		if l.UnitPrice > 0 {
			bonus = int((o.BidPrice - l.UnitPrice) * 10 / l.UnitPrice)
		}
		if bonus > cap {
			bonus = cap
		}
		return model.RollModifier{Label: "bid premium", Value: bonus}
	}
}

// Charisma applies the buyer's charisma-derived bonus.
func Charisma() Modifier {
	return func(p identity.Profile, _ model.BuyOrder, _ model.Listing) model.RollModifier {
		return model.RollModifier{Label: "charisma", Value: p.CharismaBonus()}
	}
}

// MerchantBonus grants a flat bonus to buyers with the Merchant profession.
func MerchantBonus(bonus int) Modifier {
	return func(p identity.Profile, _ model.BuyOrder, _ model.Listing) model.RollModifier {
		v := 0
		if p.Merchant {
			v = bonus
		}
		return model.RollModifier{Label: "merchant", Value: v}
	}
}

// Roller produces priority rolls: a d20 plus the configured modifiers.
type Roller struct {
	die  func() int
	mods []Modifier
}

// NewRoller creates a Roller using the shared math/rand/v2 source.
func NewRoller(mods ...Modifier) *Roller {
	return &Roller{
		die:  func() int { return rand.IntN(20) + 1 },
		mods: mods,
	}
}

// NewSeededRoller creates a Roller with a deterministic die. Tests use
// this to pin roll outcomes.
func NewSeededRoller(seed uint64, mods ...Modifier) *Roller {
	src := rand.New(rand.NewPCG(seed, seed))
	return &Roller{
		die:  func() int { return src.IntN(20) + 1 },
		mods: mods,
	}
}

// Roll computes and records one priority roll. The raw die and every
// modifier are kept verbatim for the persisted breakdown.
func (r *Roller) Roll(p identity.Profile, o model.BuyOrder, l model.Listing) model.Roll {
	die := r.die()
	roll := model.Roll{
		OrderID: o.ID,
		BuyerID: o.BuyerID,
		Die:     die,
		Total:   die,
	}
	for _, mod := range r.mods {
		m := mod(p, o, l)
		roll.Modifiers = append(roll.Modifiers, m)
		roll.Total += m.Value
	}
	return roll
}
