package transfer

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultAckTimeout  = 3 * time.Second
	DefaultMaxAttempts = 6
)

// Option configures Send and Receive.
type Option func(*config)

type config struct {
	ackTimeout  time.Duration
	maxAttempts int
	verifyAcks  bool
	idleTimeout time.Duration
	progress    func(bytes int64)
	log         log.Logger
}

func defaultConfig() config {
	return config{
		ackTimeout:  DefaultAckTimeout,
		maxAttempts: DefaultMaxAttempts,
		log:         log.Root(),
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// How long the sender waits for the acknowledgement of a chunk before
// transmitting it again.
func WithAckTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// Number of transmissions of a single chunk before the transfer is aborted.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAckVerification makes the sender check that an acknowledgement carries the index
// of the chunk just sent and an OK status. Without verification, any reply counts as
// the acknowledgement of the current chunk.
func WithAckVerification(enabled bool) Option {
	return func(c *config) {
		c.verifyAcks = enabled
	}
}

// WithIdleTimeout bounds the time the receiver waits for the next chunk.
// The default is to wait forever.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

// WithProgress sets a function which is called with the total number of
// payload bytes transferred after each chunk.
func WithProgress(f func(bytes int64)) Option {
	return func(c *config) {
		c.progress = f
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}
