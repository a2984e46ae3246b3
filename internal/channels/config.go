package channels

import "time"

// Config configures reconnection behaviour
type Config struct {
	// MaxRetries is the number of reconnection attempts before a channel
	// is marked failed. Zero selects the default; a negative value fails
	// the channel on the first error.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles each attempt
	BaseDelay time.Duration

	// ConnectTimeout bounds a single Subscribe call. Zero means no bound.
	ConnectTimeout time.Duration
}

// DefaultConfig returns MaxRetries=5, BaseDelay=1s
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  time.Second,
	}
}

// Backoff returns the delay before retry attempt n (1-indexed)
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.BaseDelay * time.Duration(1<<uint(attempt-1))
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = def.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	return c
}
