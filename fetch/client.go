// Package fetch issues single idempotent reads against trend source
// endpoints, with bounded retry on transient failure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/trendview/go-trendview/apierror"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

var log = logging.Logger("fetch")

// Client executes reads described by source descriptors against one
// aggregation backend.
type Client struct {
	c         *http.Client
	baseURL   *url.URL
	userAgent string
}

// New creates a client for the aggregation backend at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
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

	return &Client{
		c:         opts.httpClient,
		baseURL:   u,
		userAgent: opts.userAgent,
	}, nil
}

// Execute performs one read for the given descriptor and returns its terminal
// outcome as a LoadResult. It never returns an error: every failure mode is
// converted into a result status.
//
// Transient failures (network failure, HTTP 5xx, attempt deadline expiry) are
// retried up to the descriptor's bound, waiting BackoffBase multiplied by the
// attempt number between attempts. Non-transient failures (4xx, structurally
// invalid payload) surface immediately. Cancellation of ctx interrupts both
// the in-flight request and any backoff sleep and surfaces as StatusTimeout
// with no further retries.
func (c *Client) Execute(ctx context.Context, desc sources.Descriptor) model.LoadResult {
	res := model.LoadResult{
		SourceID: desc.ID,
	}

	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		rsp, items, err := c.fetchOnce(ctx, desc)
		if err == nil {
			if len(items) == 0 {
				res.Status = model.StatusEmpty
			} else {
				res.Status = model.StatusSuccess
				res.Items = items
			}
			res.CacheStatus = rsp.Status
			res.CompletedAt = time.Now()
			return res
		}

		if ctx.Err() != nil {
			// The caller's deadline expired or the request was superseded.
			log.Debugw("Request cancelled", "source", desc.ID, "attempt", res.Attempts, "err", ctx.Err())
			res.Status = model.StatusTimeout
			res.Err = apierror.New(apierror.KindTimeout, ctx.Err())
			res.CompletedAt = time.Now()
			return res
		}

		kind := apierror.Classify(err)
		if !kind.Transient() {
			log.Errorw("Source request failed", "source", desc.ID, "kind", kind, "err", err)
			res.Status = model.StatusError
			res.Err = err
			res.CompletedAt = time.Now()
			return res
		}
		if attempt >= desc.MaxRetries {
			log.Errorw("Source request failed after retries", "source", desc.ID, "attempts", res.Attempts, "kind", kind, "err", err)
			if kind == apierror.KindTimeout {
				res.Status = model.StatusTimeout
			} else {
				res.Status = model.StatusError
			}
			res.Err = err
			res.CompletedAt = time.Now()
			return res
		}

		// Linear backoff, indexed by attempt number.
		wait := desc.BackoffBase * time.Duration(attempt+1)
		log.Debugw("Retrying source request", "source", desc.ID, "attempt", res.Attempts, "wait", wait, "err", err)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Status = model.StatusTimeout
			res.Err = apierror.New(apierror.KindTimeout, ctx.Err())
			res.CompletedAt = time.Now()
			return res
		}
	}
}

// fetchOnce performs a single attempt. Each attempt gets its own deadline
// from the descriptor so that one hung read does not consume the whole retry
// budget.
func (c *Client) fetchOnce(ctx context.Context, desc sources.Descriptor) (*model.Response, []model.Item, error) {
	attemptCtx := ctx
	if desc.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	u := c.requestURL(desc)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	rsp, err := c.c.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			// Attempt deadline, not caller cancellation; eligible for retry.
			return nil, nil, apierror.New(apierror.KindTimeout, errors.New("attempt deadline exceeded"))
		}
		return nil, nil, err
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, nil, err
	}

	if rsp.StatusCode/100 != 2 {
		return nil, nil, apierror.FromStatus(rsp.StatusCode, body)
	}

	return model.UnmarshalResponse(body)
}

// requestURL builds the request URL for a descriptor, merging its configured
// query parameters.
func (c *Client) requestURL(desc sources.Descriptor) string {
	u := c.baseURL.JoinPath(desc.Endpoint)
	if len(desc.Params) != 0 {
		q := u.Query()
		for k, v := range desc.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
