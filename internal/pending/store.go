// Package pending keeps signups that are waiting for their email code.
package pending

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Signup is one pending signup: the code that was mailed plus the profile
// data needed to create the user. Code and payload always travel together.
type Signup struct {
	Email        string
	OTP          string
	Name         string
	PasswordHash string
	ExpiresAt    time.Time
}

// Store is an in-process map from email to Signup with a fixed lifetime per
// entry. All operations are serialized by one mutex.
type Store struct {
	mu      sync.Mutex
	entries map[string]Signup
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewStore returns a Store whose entries live for ttl. A nil clock means wall time.
func NewStore(ttl time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{entries: make(map[string]Signup), ttl: ttl, clock: clock}
}

// Put writes s under s.Email, replacing any earlier entry, and returns the
// stored copy with its expiry set.
func (st *Store) Put(s Signup) Signup {
	st.mu.Lock()
	defer st.mu.Unlock()
	s.ExpiresAt = st.clock.Now().Add(st.ttl)
	st.entries[s.Email] = s
	return s
}

// Get returns the live entry for email.
func (st *Store) Get(email string) (Signup, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.liveLocked(email)
}

// Consume removes and returns the entry for email if it is live and its code
// equals otp. On any mismatch the store is left untouched.
func (st *Store) Consume(email, otp string) (Signup, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.liveLocked(email)
	if !ok || !codesEqual(s.OTP, otp) {
		return Signup{}, false
	}
	delete(st.entries, email)
	return s, true
}

// Reissue swaps the code of a live entry for otp and restarts its lifetime.
func (st *Store) Reissue(email, otp string) (Signup, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.liveLocked(email)
	if !ok {
		return Signup{}, false
	}
	s.OTP = otp
	s.ExpiresAt = st.clock.Now().Add(st.ttl)
	st.entries[email] = s
	return s, true
}

// Restore puts back a consumed entry unless a newer one was written for the
// same email in the meantime. The original expiry is kept.
func (st *Store) Restore(s Signup) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.liveLocked(s.Email); ok {
		return false
	}
	st.entries[s.Email] = s
	return true
}

// Discard deletes the entry for email only if it still carries otp.
func (st *Store) Discard(email, otp string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.entries[email]
	if !ok || s.OTP != otp {
		return false
	}
	delete(st.entries, email)
	return true
}

// Sweep drops expired entries and reports how many were removed.
func (st *Store) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.clock.Now()
	n := 0
	for k, s := range st.entries {
		if !now.Before(s.ExpiresAt) {
			delete(st.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired ones included.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// Run sweeps every interval until ctx is done. onSweep, if non-nil, gets
// the count of each sweep that removed something.
func (st *Store) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) error {
	t := st.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if n := st.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}

// liveLocked returns the entry for email, deleting it if expired. Callers hold mu.
func (st *Store) liveLocked(email string) (Signup, bool) {
	s, ok := st.entries[email]
	if !ok {
		return Signup{}, false
	}
	if !st.clock.Now().Before(s.ExpiresAt) {
		delete(st.entries, email)
		return Signup{}, false
	}
	return s, true
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
