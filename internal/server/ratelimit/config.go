// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"time"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses the username as the rate limit key.
	ScopeUser
)

// Tier defines a rate limit tier with its limiter and scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Config holds the rate limiters. A nil Write limiter disables limiting.
type Config struct {
	Write Tier
}

// NewConfig creates a Config limiting mutating requests to writePerMin per
// user, with a burst of a tenth of that. 0 disables rate limiting.
func NewConfig(writePerMin int) *Config {
	c := &Config{}
	if writePerMin > 0 {
		c.Write = Tier{
			Name:    "write",
			Limiter: NewLimiter(writePerMin, time.Minute, max(writePerMin/10, 1)),
			Scope:   ScopeUser,
		}
	}
	return c
}

// Match returns the tier for a request, or nil for requests that are not
// rate limited.
func (c *Config) Match(method, path string) *Tier {
	if c == nil || c.Write.Limiter == nil {
		return nil
	}
	// Heartbeats keep sessions alive and are never limited.
	if path == "/api/heartbeat" {
		return nil
	}
	if method == http.MethodPost {
		return &c.Write
	}
	return nil
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	if c != nil && c.Write.Limiter != nil {
		c.Write.Limiter.Close()
	}
}
