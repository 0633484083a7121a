package fileserver

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/dgramftp/transfer"
)

// DefaultRoot is the directory served when Config.Root is empty.
const DefaultRoot = "files"

// Config is the configuration of Server and Client.
type Config struct {
	Root string // Server root directory, defaults to "files"

	// Chunk transfer parameters. Zero values select the transfer package defaults.
	AckTimeout  time.Duration
	MaxAttempts int
	VerifyAcks  bool
	IdleTimeout time.Duration

	// Progress logging of client transfers.
	ProgressInterval time.Duration
	Clock            mclock.Clock
}

var ConfigForTesting = Config{
	AckTimeout:       500 * time.Millisecond,
	IdleTimeout:      10 * time.Second,
	ProgressInterval: time.Hour,
}

func (cfg Config) withDefaults() Config {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	return cfg
}

func (cfg *Config) transferOptions(logger log.Logger, progress func(int64)) []transfer.Option {
	opts := []transfer.Option{
		transfer.WithAckTimeout(cfg.AckTimeout),
		transfer.WithMaxAttempts(cfg.MaxAttempts),
		transfer.WithAckVerification(cfg.VerifyAcks),
		transfer.WithIdleTimeout(cfg.IdleTimeout),
		transfer.WithLogger(logger),
	}
	if progress != nil {
		opts = append(opts, transfer.WithProgress(progress))
	}
	return opts
}
