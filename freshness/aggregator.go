// Package freshness produces per-source "last updated / row count" summaries
// for a status view. One consolidated query covers all sources; any source the
// consolidated response does not cover degrades to a direct per-source read
// rather than failing the refresh.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/trendview/go-trendview/apierror"
	"github.com/trendview/go-trendview/fetch"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

var log = logging.Logger("freshness")

// lastUpdatedFormats are the timestamp layouts the backend is known to emit.
var lastUpdatedFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Aggregator queries the consolidated freshness endpoint and derives a
// FreshnessRecord per registered source.
type Aggregator struct {
	client     *http.Client
	freshURL   *url.URL
	registry   *sources.Registry
	fetcher    *fetch.Client
	staleAfter time.Duration
}

// New creates an Aggregator for the backend at baseURL. The fetcher is used
// for direct per-source fallback reads.
func New(baseURL string, registry *sources.Registry, fetcher *fetch.Client, options ...Option) (*Aggregator, error) {
	if registry == nil {
		return nil, errors.New("nil source registry")
	}
	if fetcher == nil {
		return nil, errors.New("nil fetch client")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", baseURL)
	}
	u.Path = ""
	u = u.JoinPath(opts.freshnessPath)

	return &Aggregator{
		client:     opts.standardClient(),
		freshURL:   u,
		registry:   registry,
		fetcher:    fetcher,
		staleAfter: opts.staleAfter,
	}, nil
}

// Refresh rebuilds the freshness view: one consolidated query, then a direct
// read for every source the consolidated response omits. Per-source failures
// are accumulated and returned alongside the records; they never abort the
// refresh. Only context cancellation returns without records.
func (a *Aggregator) Refresh(ctx context.Context) (map[string]model.FreshnessRecord, error) {
	var errs error

	consolidated, err := a.fetchConsolidated(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Errorw("Consolidated freshness query failed; falling back to direct queries", "err", err)
		errs = multierror.Append(errs, err)
	}

	records := make(map[string]model.FreshnessRecord, a.registry.Len())
	for _, desc := range a.registry.List() {
		if info, ok := consolidated[desc.DisplayName]; ok {
			records[desc.ID] = a.recordFromInfo(desc, info)
			continue
		}
		if consolidated != nil {
			// Display-name mismatch or omitted source. Treated as a normal
			// degraded case, not a configuration failure.
			log.Warnw("Source missing from consolidated freshness; querying directly", "source", desc.ID, "displayName", desc.DisplayName)
		}
		rec, ferr := a.fallback(ctx, desc)
		if ferr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = multierror.Append(errs, ferr)
		}
		records[desc.ID] = rec
	}
	return records, errs
}

// fetchConsolidated performs the single all-sources freshness query. The
// response is keyed by display name.
func (a *Aggregator) fetchConsolidated(ctx context.Context) (map[string]model.FreshnessInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.freshURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	rsp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, apierror.FromStatus(rsp.StatusCode, body)
	}

	fr, err := model.UnmarshalFreshnessResponse(body)
	if err != nil {
		return nil, apierror.New(apierror.KindMalformed, err)
	}
	if !fr.Success {
		err = errors.New("freshness endpoint reported failure")
		if fr.Error != "" {
			err = errors.New(fr.Error)
		}
		return nil, apierror.New(apierror.KindMalformed, err)
	}
	return fr.Data, nil
}

// recordFromInfo derives a record from a consolidated hit.
func (a *Aggregator) recordFromInfo(desc sources.Descriptor, info model.FreshnessInfo) model.FreshnessRecord {
	rec := model.FreshnessRecord{
		SourceID: desc.ID,
		RowCount: info.DataCount,
	}
	if info.LastUpdated != nil {
		rec.LastUpdated = parseLastUpdated(*info.LastUpdated)
	}
	switch {
	case rec.RowCount <= 0:
		rec.Status = model.Unavailable
	case a.staleAfter > 0 && !rec.LastUpdated.IsZero() && time.Since(rec.LastUpdated) > a.staleAfter:
		rec.Status = model.Stale
	default:
		rec.Status = model.Fetched
	}
	return rec
}

// fallback issues one direct per-source read to infer presence and row count.
func (a *Aggregator) fallback(ctx context.Context, desc sources.Descriptor) (model.FreshnessRecord, error) {
	rec := model.FreshnessRecord{
		SourceID: desc.ID,
		Fallback: true,
		Status:   model.Unavailable,
	}
	res := a.fetcher.Execute(ctx, desc)
	if res.Status.Failed() {
		return rec, fmt.Errorf("freshness fallback for %s: %w", desc.ID, res.Err)
	}
	rec.RowCount = len(res.Items)
	if rec.RowCount > 0 {
		rec.Status = model.Fetched
	}
	return rec, nil
}

func parseLastUpdated(s string) time.Time {
	for _, layout := range lastUpdatedFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
