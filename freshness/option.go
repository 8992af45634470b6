package freshness

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultFreshnessPath = "/api/cache/data-freshness"
	defaultRetryMax      = 2
	defaultRetryWaitMin  = 500 * time.Millisecond
	defaultRetryWaitMax  = 2 * time.Second
)

type config struct {
	httpClient    *http.Client
	freshnessPath string
	retryMax      int
	retryWaitMin  time.Duration
	retryWaitMax  time.Duration
	staleAfter    time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		freshnessPath: defaultFreshnessPath,
		retryMax:      defaultRetryMax,
		retryWaitMin:  defaultRetryWaitMin,
		retryWaitMax:  defaultRetryWaitMax,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// standardClient wraps the configured HTTP client in a retrying client for
// the consolidated query. With retryMax 0 the plain client is used.
func (cfg config) standardClient() *http.Client {
	if cfg.retryMax == 0 {
		if cfg.httpClient != nil {
			return cfg.httpClient
		}
		return http.DefaultClient
	}
	rclient := &retryablehttp.Client{
		HTTPClient:   cfg.httpClient,
		RetryWaitMin: cfg.retryWaitMin,
		RetryWaitMax: cfg.retryWaitMax,
		RetryMax:     cfg.retryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	if rclient.HTTPClient == nil {
		rclient.HTTPClient = http.DefaultClient
	}
	return rclient.StandardClient()
}

// WithClient uses an existing http.Client for the consolidated query.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		cfg.httpClient = c
		return nil
	}
}

// WithFreshnessPath sets the path of the consolidated freshness endpoint.
//
// Default is /api/cache/data-freshness.
func WithFreshnessPath(path string) Option {
	return func(cfg *config) error {
		if path == "" {
			return fmt.Errorf("empty freshness path")
		}
		cfg.freshnessPath = path
		return nil
	}
}

// WithRetry configures retries of the consolidated query. Setting retryMax to
// 0 disables retries.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(cfg *config) error {
		if retryMax < 0 {
			return fmt.Errorf("negative retry bound")
		}
		cfg.retryMax = retryMax
		cfg.retryWaitMin = waitMin
		cfg.retryWaitMax = waitMax
		return nil
	}
}

// WithStaleAfter sets the staleness threshold: a source whose last update is
// older than this is classified Stale. Zero disables the Stale
// classification.
func WithStaleAfter(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return fmt.Errorf("negative staleness threshold")
		}
		cfg.staleAfter = d
		return nil
	}
}
