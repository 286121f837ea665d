// Package token issues acceptance tokens and computes expiration windows
// for invitations. Tokens are opaque to callers and bound 1:1 to an
// invitation; lookup happens against the store.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidExpirationWindow is returned for caller-supplied validity
// windows outside [1, max] days.
var ErrInvalidExpirationWindow = errors.New("Expiration window must be between 1 day and the configured maximum")

const tokenBytes = 32 // 256 bits of randomness

// Issue returns a new acceptance token from a cryptographically secure source.
func Issue() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}

// Manager validates and computes validity windows. Zero value is unusable;
// construct with NewManager so defaults are bounded.
type Manager struct {
	defaultDays int
	maxDays     int
}

func NewManager(defaultDays, maxDays int) *Manager {
	if defaultDays <= 0 {
		defaultDays = 7
	}
	if maxDays < defaultDays {
		maxDays = defaultDays
	}
	return &Manager{defaultDays: defaultDays, maxDays: maxDays}
}

// Window returns the validity duration for a caller-supplied window in
// days. Zero means "use the default"; anything outside [1, max] is
// rejected with ErrInvalidExpirationWindow.
func (m *Manager) Window(days int) (time.Duration, error) {
	if days == 0 {
		days = m.defaultDays
	}
	if days < 1 || days > m.maxDays {
		return 0, ErrInvalidExpirationWindow
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// ExpiresAt computes the expiry instant for a window starting at now.
// The result is fixed at creation (or resend) time and never shortened.
func (m *Manager) ExpiresAt(now time.Time, days int) (time.Time, error) {
	w, err := m.Window(days)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(w), nil
}
