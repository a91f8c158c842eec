// Package ledger implements the two-bucket gold ledger: every account has
// an available balance and an escrowed balance. All gold movement in the
// engine goes through the four primitives here — the facade and resolver
// never write balance fields directly. That discipline is what keeps the
// conservation property provable: available+escrowed for an account only
// changes through Debit and Credit.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit or escrow exceeds the
	// account's available balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvariantViolation is returned when an escrow release exceeds the
	// escrowed balance. Given call discipline this never happens; it is
	// always a bug, never a user-triggerable path.
	ErrInvariantViolation = errors.New("ledger: escrow invariant violated")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// ReleaseMode selects what happens to escrowed gold on release.
type ReleaseMode int

const (
	// Refund moves the escrowed amount back to the account's available
	// balance (losing or cancelled orders).
	Refund ReleaseMode = iota

	// Settle removes the escrowed amount permanently; the gold has already
	// conceptually moved to the seller via a paired Credit.
	Settle
)

// Ledger exposes atomic gold operations over a Store. Atomicity per
// account is delegated to the store's guarded AdjustBalance.
type Ledger struct {
	store store.Store
}

// New creates a Ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Balance returns the account's current two-bucket balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (model.Balance, error) {
	return l.store.GetBalance(ctx, accountID)
}

// Debit removes amount from the account's available balance.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.AdjustBalance(ctx, accountID, -amount, 0); err != nil {
		if errors.Is(err, store.ErrShortBalance) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("debit %s: %w", accountID, err)
	}
	return nil
}

// Credit adds amount to the account's available balance. Always succeeds
// for positive amounts.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.AdjustBalance(ctx, accountID, amount, 0); err != nil {
		return fmt.Errorf("credit %s: %w", accountID, err)
	}
	return nil
}

// Escrow moves amount from available to escrowed without changing the
// account total.
func (l *Ledger) Escrow(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.AdjustBalance(ctx, accountID, -amount, amount); err != nil {
		if errors.Is(err, store.ErrShortBalance) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("escrow %s: %w", accountID, err)
	}
	return nil
}

// ReleaseEscrow removes amount from the escrowed bucket. Refund returns it
// to available; Settle drops it from the account entirely.
func (l *Ledger) ReleaseEscrow(ctx context.Context, accountID string, amount int64, mode ReleaseMode) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	availableDelta := int64(0)
	if mode == Refund {
		availableDelta = amount
	}
	if err := l.store.AdjustBalance(ctx, accountID, availableDelta, -amount); err != nil {
		if errors.Is(err, store.ErrShortBalance) {
			return fmt.Errorf("%w: release %d from %s", ErrInvariantViolation, amount, accountID)
		}
		return fmt.Errorf("release escrow %s: %w", accountID, err)
	}
	return nil
}

// RestoreEscrow is the compensation for a Settle release that could not
// complete downstream: it puts amount back into the escrowed bucket.
// Only the resolver's failure path uses this.
func (l *Ledger) RestoreEscrow(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.AdjustBalance(ctx, accountID, 0, amount); err != nil {
		return fmt.Errorf("restore escrow %s: %w", accountID, err)
	}
	return nil
}
