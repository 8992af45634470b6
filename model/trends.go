package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/trendview/go-trendview/apierror"
)

// Item is one entry of a trend snapshot. Upstream sources differ in what they
// report beyond a title and rank, so source-specific fields are carried in
// Extra without interpretation.
type Item struct {
	Title string            `json:"title"`
	URL   string            `json:"url,omitempty"`
	Rank  int               `json:"rank,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Response is the JSON envelope returned by every trend endpoint.
//
// Data is kept raw until the envelope is validated: a missing or non-array
// data field is a structural error, which is distinct from a present but empty
// array.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// UnmarshalResponse decodes a trend endpoint envelope and validates its
// structure. A 2xx body with success=false, or with a data field that is
// missing or not an array, yields a malformed-payload error.
func UnmarshalResponse(b []byte) (*Response, []Item, error) {
	var rsp Response
	if err := json.Unmarshal(b, &rsp); err != nil {
		return nil, nil, apierror.New(apierror.KindMalformed, err)
	}
	if !rsp.Success {
		err := errors.New("upstream reported failure")
		if rsp.Error != "" {
			err = errors.New(rsp.Error)
		}
		return nil, nil, apierror.New(apierror.KindMalformed, err)
	}
	data := bytes.TrimSpace(rsp.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, nil, apierror.New(apierror.KindMalformed, errors.New("missing or non-array data field"))
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, apierror.New(apierror.KindMalformed, err)
	}
	return &rsp, items, nil
}

// LoadStatus is the terminal outcome of one surviving load attempt.
type LoadStatus int

const (
	// StatusSuccess means the source returned one or more items.
	StatusSuccess LoadStatus = iota
	// StatusEmpty means the source responded correctly with no items. This is
	// not an error.
	StatusEmpty
	// StatusError means the source failed terminally, either immediately on a
	// non-transient failure or after exhausting retries.
	StatusError
	// StatusTimeout means the request was cancelled or its deadline expired
	// before a usable response arrived.
	StatusTimeout
)

// String returns the name of the load status.
func (s LoadStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	}
	return "unknown"
}

// Failed reports whether the status is a terminal failure.
func (s LoadStatus) Failed() bool {
	return s == StatusError || s == StatusTimeout
}

// LoadResult is the normalized outcome of one load attempt for one source.
// It is produced exactly once per non-superseded attempt and is immutable once
// created.
type LoadResult struct {
	// SourceID identifies the source this result pertains to.
	SourceID string
	// Generation is the supersession generation that produced this result.
	Generation uint64
	// Status is the terminal outcome classification.
	Status LoadStatus
	// Items is the payload. Nil unless Status is StatusSuccess.
	Items []Item
	// CacheStatus is the upstream's own freshness report for the payload,
	// "fresh" or "cached", when provided.
	CacheStatus string
	// Err is the terminal failure. Nil unless Status is StatusError or
	// StatusTimeout. Its kind is available through apierror.Classify.
	Err error
	// Attempts is the number of attempts made, including the final one.
	Attempts int
	// CompletedAt is when the terminal outcome was determined.
	CompletedAt time.Time
}

// ErrKind returns the failure classification of a failed result, or
// apierror.KindUnknown for results that did not fail.
func (r LoadResult) ErrKind() apierror.Kind {
	if r.Err == nil {
		return apierror.KindUnknown
	}
	return apierror.Classify(r.Err)
}
