package model

import (
	"encoding/json"
	"time"
)

// FreshnessInfo is the per-source entry of the consolidated freshness
// endpoint, keyed by display name in the response body.
type FreshnessInfo struct {
	LastUpdated *string `json:"last_updated"`
	DataCount   int     `json:"data_count"`
}

// FreshnessResponse is the JSON envelope of the consolidated freshness
// endpoint.
type FreshnessResponse struct {
	Success bool                     `json:"success"`
	Data    map[string]FreshnessInfo `json:"data"`
	Error   string                   `json:"error,omitempty"`
}

// UnmarshalFreshnessResponse decodes a consolidated freshness envelope.
func UnmarshalFreshnessResponse(b []byte) (*FreshnessResponse, error) {
	var rsp FreshnessResponse
	if err := json.Unmarshal(b, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// FreshnessStatus is the derived per-source freshness classification.
type FreshnessStatus int

const (
	// Fetched means the source has cached data.
	Fetched FreshnessStatus = iota
	// Stale means the source has data but its last update exceeds the
	// configured staleness threshold.
	Stale
	// Unavailable means no data could be found for the source.
	Unavailable
)

// String returns the name of the freshness status.
func (s FreshnessStatus) String() string {
	switch s {
	case Fetched:
		return "fetched"
	case Stale:
		return "stale"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// FreshnessRecord describes how recently one source's cached data was updated
// and how many records it holds. Records are rebuilt on every freshness query
// and are not retained between cycles.
type FreshnessRecord struct {
	// SourceID identifies the source.
	SourceID string
	// LastUpdated is when the source's cache was last populated. Zero when
	// unknown.
	LastUpdated time.Time
	// RowCount is the number of cached records.
	RowCount int
	// Status is the derived classification.
	Status FreshnessStatus
	// Fallback is true when the record was produced by a direct per-source
	// query because the consolidated response did not cover the source.
	Fallback bool
}
