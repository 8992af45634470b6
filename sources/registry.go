// Package sources defines the static registry of upstream trend sources. The
// registry is built once at startup and never mutated; its order is the
// canonical processing order, so batch membership is reproducible across load
// cycles.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultTimeout is the per-attempt deadline used when a descriptor does
	// not specify one.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry bound used when a descriptor does not
	// specify one.
	DefaultMaxRetries = 2
	// DefaultBackoffBase is the linear backoff base used when a descriptor
	// does not specify one.
	DefaultBackoffBase = 500 * time.Millisecond
)

// Descriptor describes one upstream source: where to read it and how to bound
// the read. Descriptors are immutable once registered.
type Descriptor struct {
	// ID is the stable identifier of the source.
	ID string
	// DisplayName is the human-readable name. It is also the key under which
	// the consolidated freshness endpoint reports this source.
	DisplayName string
	// Endpoint is the request path, joined to the client's base URL.
	Endpoint string
	// Params are query parameters sent with every request to this source.
	Params map[string]string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BackoffBase is multiplied by the attempt number to produce the wait
	// before each retry.
	BackoffBase time.Duration
}

func (d Descriptor) validate() error {
	if d.ID == "" {
		return errors.New("descriptor missing id")
	}
	if d.Endpoint == "" {
		return fmt.Errorf("source %s: missing endpoint", d.ID)
	}
	if _, err := url.Parse(d.Endpoint); err != nil {
		return fmt.Errorf("source %s: bad endpoint: %w", d.ID, err)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("source %s: negative retry bound", d.ID)
	}
	return nil
}

// withDefaults fills in unset bounds.
func (d Descriptor) withDefaults() Descriptor {
	if d.DisplayName == "" {
		d.DisplayName = d.ID
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.BackoffBase == 0 {
		d.BackoffBase = DefaultBackoffBase
	}
	return d
}

// Registry holds the ordered set of source descriptors.
type Registry struct {
	ordered   []Descriptor
	byID      map[string]Descriptor
	byDisplay map[string]Descriptor
}

// NewRegistry creates a Registry from descriptors, preserving their order.
// Unset timeout, retry, and backoff fields receive defaults. Duplicate ids are
// rejected.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("no source descriptors")
	}
	r := &Registry{
		ordered:   make([]Descriptor, 0, len(descs)),
		byID:      make(map[string]Descriptor, len(descs)),
		byDisplay: make(map[string]Descriptor, len(descs)),
	}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		d = d.withDefaults()
		if _, ok := r.byID[d.ID]; ok {
			return nil, fmt.Errorf("duplicate source id: %s", d.ID)
		}
		r.ordered = append(r.ordered, d)
		r.byID[d.ID] = d
		r.byDisplay[d.DisplayName] = d
	}
	return r, nil
}

// List returns the descriptors in canonical processing order. The returned
// slice is a copy.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// GetByDisplayName returns the descriptor whose display name matches name.
// The consolidated freshness endpoint keys its response by display name.
func (r *Registry) GetByDisplayName(name string) (Descriptor, bool) {
	d, ok := r.byDisplay[name]
	return d, ok
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.ordered)
}
