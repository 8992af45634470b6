package loader

import (
	"fmt"
	"time"
)

const (
	defaultBatchSize  = 4
	defaultBatchDelay = 2 * time.Second
)

type config struct {
	batchSize  int
	batchDelay time.Duration
	resultHook ResultHook
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		batchSize:  defaultBatchSize,
		batchDelay: defaultBatchDelay,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithBatchSize sets the maximum number of sources whose requests run
// concurrently. This bounds the peak number of connections the shared backend
// sees from one Loader.
//
// Default is 4.
func WithBatchSize(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("batch size must be at least 1, got %d", n)
		}
		cfg.batchSize = n
		return nil
	}
}

// WithBatchDelay sets the time to wait from one batch's start before starting
// the next batch.
//
// Default is 2 seconds.
func WithBatchDelay(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return fmt.Errorf("batch delay cannot be negative")
		}
		cfg.batchDelay = d
		return nil
	}
}

// WithResultHook sets the function the reconciler calls with every surviving
// result. The hook runs on the reconciler goroutine; panics are recovered and
// logged.
func WithResultHook(h ResultHook) Option {
	return func(cfg *config) error {
		cfg.resultHook = h
		return nil
	}
}

type loadOpts struct {
	forceRefresh bool
}

// LoadOption modifies one load cycle.
type LoadOption func(*loadOpts)

func getLoadOpts(options []LoadOption) loadOpts {
	var opts loadOpts
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

// WithForceRefresh makes the backend bypass its cache and refetch each source
// upstream for this cycle.
func WithForceRefresh() LoadOption {
	return func(opts *loadOpts) {
		opts.forceRefresh = true
	}
}
