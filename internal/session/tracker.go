// Package session tracks user liveness and record checkouts.
//
// A checkout is a temporary claim that a user is editing the record at a given
// index. Claims expire with the session after a period of inactivity, so a user
// who walks away never blocks a record indefinitely.
package session

import (
	"slices"
	"strings"
	"time"
)

// NoCheckout is the Checkout value of a session that holds no record.
const NoCheckout = -1

// Session is the liveness and checkout state of one user.
type Session struct {
	Username     string
	LastActivity time.Time
	// Checkout is the index of the record held by the user, or NoCheckout.
	Checkout int
}

// HasCheckout reports whether the session holds a record.
func (s *Session) HasCheckout() bool {
	return s.Checkout != NoCheckout
}

// Tracker holds the sessions of all users.
//
// Tracker is not safe for concurrent use; the owner serializes access.
type Tracker struct {
	staleAfter time.Duration
	sessions   map[string]*Session
}

// NewTracker returns a Tracker that expires sessions idle longer than staleAfter.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		staleAfter: staleAfter,
		sessions:   make(map[string]*Session),
	}
}

// RecordActivity marks username as active at now, creating the session if needed.
func (t *Tracker) RecordActivity(username string, now time.Time) *Session {
	s, ok := t.sessions[username]
	if !ok {
		s = &Session{Username: username, Checkout: NoCheckout}
		t.sessions[username] = s
	}
	s.LastActivity = now
	return s
}

// Get returns a copy of the session of username.
func (t *Tracker) Get(username string) (Session, bool) {
	s, ok := t.sessions[username]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Expire removes sessions whose last activity is older than the staleness
// window, releasing their checkouts. It returns the removed usernames, sorted.
func (t *Tracker) Expire(now time.Time) []string {
	var expired []string
	for name, s := range t.sessions {
		if now.Sub(s.LastActivity) > t.staleAfter {
			delete(t.sessions, name)
			expired = append(expired, name)
		}
	}
	slices.Sort(expired)
	return expired
}

// Release drops the checkout held by username, if any.
func (t *Tracker) Release(username string) {
	if s, ok := t.sessions[username]; ok {
		s.Checkout = NoCheckout
	}
}

// ReleaseFrom drops every checkout at index n or beyond, after the collection
// shrank to n records.
func (t *Tracker) ReleaseFrom(n int) {
	for _, s := range t.sessions {
		if s.Checkout >= n {
			s.Checkout = NoCheckout
		}
	}
}

// occupied returns the indices checked out by users other than username.
func (t *Tracker) occupied(username string) map[int]struct{} {
	out := make(map[int]struct{})
	for name, s := range t.sessions {
		if name != username && s.HasCheckout() {
			out[s.Checkout] = struct{}{}
		}
	}
	return out
}

// NextAvailable checks out the next record for username.
//
// Stale sessions are expired first. The scan starts right after the index
// `after` (at 0 when after is negative) and wraps around once over n indices,
// skipping records held by other users and those rejected by accept. The first
// acceptable index becomes the user's checkout. When none is found the user's
// previous checkout is released and false is returned.
func (t *Tracker) NextAvailable(username string, after, n int, accept func(int) bool, now time.Time) (int, bool) {
	s := t.RecordActivity(username, now)
	t.Expire(now)
	if n <= 0 {
		s.Checkout = NoCheckout
		return NoCheckout, false
	}
	start := 0
	if after >= 0 {
		start = (after + 1) % n
	}
	taken := t.occupied(username)
	for i := range n {
		idx := (start + i) % n
		if _, ok := taken[idx]; ok {
			continue
		}
		if accept != nil && !accept(idx) {
			continue
		}
		s.Checkout = idx
		return idx, true
	}
	s.Checkout = NoCheckout
	return NoCheckout, false
}

// Active returns the sessions with activity within window of now, sorted by
// username.
func (t *Tracker) Active(now time.Time, window time.Duration) []Session {
	var out []Session
	for _, s := range t.sessions {
		if now.Sub(s.LastActivity) <= window {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	return len(t.sessions)
}
