package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trendview/go-trendview/apierror"
	"github.com/trendview/go-trendview/fetch"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

func testDescriptor(maxRetries int, backoff time.Duration) sources.Descriptor {
	return sources.Descriptor{
		ID:          "google",
		DisplayName: "Google Trends",
		Endpoint:    "/api/google-trends",
		Params:      map[string]string{"country": "JP"},
		Timeout:     5 * time.Second,
		MaxRetries:  maxRetries,
		BackoffBase: backoff,
	}
}

func TestExecuteSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/api/google-trends", r.URL.Path)
		require.Equal(t, "JP", r.URL.Query().Get("country"))
		w.Write([]byte(`{"success":true,"data":[{"title":"summer festival","rank":1}],"status":"cached"}`))
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	res := c.Execute(context.Background(), testDescriptor(2, time.Millisecond))
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, "google", res.SourceID)
	require.Equal(t, "cached", res.CacheStatus)
	require.Len(t, res.Items, 1)
	require.Equal(t, 1, res.Attempts)
	require.NoError(t, res.Err)
	require.False(t, res.CompletedAt.IsZero())
	require.Equal(t, int32(1), calls.Load())
}

func TestExecuteAccepts2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":[{"title":"made"}]}`))
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	res := c.Execute(context.Background(), testDescriptor(2, time.Millisecond))
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Len(t, res.Items, 1)
	require.Equal(t, 1, res.Attempts)
	require.NoError(t, res.Err)
}

func TestExecuteEmptyIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[],"status":"fresh"}`))
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	res := c.Execute(context.Background(), testDescriptor(2, time.Millisecond))
	require.Equal(t, model.StatusEmpty, res.Status)
	require.Empty(t, res.Items)
	require.NoError(t, res.Err)
}

func TestRetrySequencing(t *testing.T) {
	const backoff = 50 * time.Millisecond

	var mu sync.Mutex
	var times []time.Time
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		if calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"data":[{"title":"ok"}]}`))
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	res := c.Execute(context.Background(), testDescriptor(2, backoff))
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), calls.Load())

	// First retry waits backoff*1, second waits backoff*2.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	require.GreaterOrEqual(t, times[1].Sub(times[0]), backoff)
	require.Less(t, times[1].Sub(times[0]), 2*backoff)
	require.GreaterOrEqual(t, times[2].Sub(times[1]), 2*backoff)
	require.Less(t, times[2].Sub(times[1]), 4*backoff)
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	res := c.Execute(context.Background(), testDescriptor(2, time.Millisecond))
	require.Equal(t, model.StatusError, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, apierror.KindServer, res.ErrKind())
}

func TestNonRetryableFailures(t *testing.T) {
	bodies := map[string]struct {
		status int
		body   string
		kind   apierror.Kind
	}{
		"http 404":       {http.StatusNotFound, "no such trend", apierror.KindClient},
		"missing data":   {http.StatusOK, `{"success":true}`, apierror.KindMalformed},
		"success false":  {http.StatusOK, `{"success":false,"error":"manager not initialized"}`, apierror.KindMalformed},
		"non-array data": {http.StatusOK, `{"success":true,"data":42}`, apierror.KindMalformed},
	}

	for name, tc := range bodies {
		tc := tc
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := fetch.New(srv.URL)
			require.NoError(t, err)

			res := c.Execute(context.Background(), testDescriptor(5, time.Millisecond))
			require.Equal(t, model.StatusError, res.Status)
			require.Equal(t, tc.kind, res.ErrKind())
			// Never retried.
			require.Equal(t, 1, res.Attempts)
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCancellationInterruptsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := c.Execute(ctx, testDescriptor(5, time.Second))
	require.Equal(t, model.StatusTimeout, res.Status)
	require.Equal(t, apierror.KindTimeout, res.ErrKind())
	// Cancellation did not wait out retries or backoff sleeps.
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, res.Attempts)
}

func TestAttemptDeadlineIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := fetch.New(srv.URL)
	require.NoError(t, err)

	desc := testDescriptor(1, time.Millisecond)
	desc.Timeout = 30 * time.Millisecond

	res := c.Execute(context.Background(), desc)
	require.Equal(t, model.StatusTimeout, res.Status)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, int32(2), calls.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := fetch.New("ftp://example.com")
	require.ErrorContains(t, err, "http or https")

	_, err = fetch.New("://bad")
	require.Error(t, err)
}
