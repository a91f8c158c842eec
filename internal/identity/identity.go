// Package identity resolves authenticated callers to account IDs and
// supplies the character attributes the market consults: the charisma
// stat and the Merchant profession flag. The real account service lives
// outside this engine; Provider is the seam it plugs into.
package identity

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrNoAccount is returned when a request carries no account identity.
var ErrNoAccount = errors.New("identity: no account in request")

// AccountHeader carries the authenticated account ID. The edge gateway
// strips and re-issues it after verifying the session, so the engine
// trusts it as-is.
const AccountHeader = "X-Account-ID"

// Profile is the slice of a character the market cares about.
type Profile struct {
	AccountID string `json:"account_id"`
	Charisma  int    `json:"charisma"`
	Merchant  bool   `json:"merchant"`
}

// CharismaBonus returns the roll bonus derived from the charisma stat,
// (CHA-10)/2 rounded toward zero, matching the rest of the game's stat math.
func (p Profile) CharismaBonus() int {
	return (p.Charisma - 10) / 2
}

// Provider supplies profiles for account IDs.
type Provider interface {
	Profile(ctx context.Context, accountID string) (Profile, error)
}

// FromRequest extracts the authenticated account ID from a request.
func FromRequest(r *http.Request) (string, error) {
	id := r.Header.Get(AccountHeader)
	if id == "" {
		return "", ErrNoAccount
	}
	return id, nil
}

// MemoryProvider is an in-process Provider with per-account overrides.
// Accounts without an override read as charisma 10, not a Merchant.
type MemoryProvider struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{profiles: make(map[string]Profile)}
}

// Set registers or replaces an account's profile.
func (p *MemoryProvider) Set(profile Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.AccountID] = profile
}

// Profile returns the account's profile, or the neutral default.
func (p *MemoryProvider) Profile(_ context.Context, accountID string) (Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if prof, ok := p.profiles[accountID]; ok {
		return prof, nil
	}
	return Profile{AccountID: accountID, Charisma: 10}, nil
}

// Compile-time interface check.
var _ Provider = (*MemoryProvider)(nil)
