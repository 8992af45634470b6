// Package loader orchestrates cache-load cycles across many independent
// trend sources. A load cycle issues the sources' requests in ordered batches,
// bounding the backend's concurrent-connection peak, while per-source
// supersession guarantees that a newer request always cancels an older one and
// that stale results never reach downstream consumers.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/channelqueue"
	logging "github.com/ipfs/go-log/v2"
	"github.com/trendview/go-trendview/fetch"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

var log = logging.Logger("loader")

// ErrClosed is returned by load operations after the Loader is closed.
var ErrClosed = errors.New("loader closed")

// ResultHook is called by the reconciler for every surviving load result.
// It is the rendering boundary: a panic inside the hook is recovered and
// logged so that one source's presentation bug cannot abort the cycle for the
// rest.
type ResultHook func(model.LoadResult)

// Loader runs load cycles against the sources of a registry.
//
// A stateful handler is maintained for each source. At most one request per
// source is in flight: issuing a new request for a source cancels the previous
// one and retires its generation, so a result from a retired generation is
// dropped even if the underlying transport ignores cancellation.
//
// Results stream to the reconciler as they complete; there is no global join,
// so one slow source never delays the delivery of the others.
type Loader struct {
	client   *fetch.Client
	registry *sources.Registry

	batchSize  int
	batchDelay time.Duration

	handlersMutex sync.Mutex
	handlers      map[string]*handler

	// slots is a counting semaphore bounding the number of concurrently
	// in-flight requests to the batch size.
	slots chan struct{}

	// inResults carries surviving results from handlers to the
	// distributeResults goroutine.
	inResults    chan model.LoadResult
	addEventChan chan chan<- model.LoadResult
	rmEventChan  chan chan<- model.LoadResult

	resultHook ResultHook

	// latest retains the last known good result per source, kept across
	// cycles for display continuity.
	latestMutex sync.Mutex
	latest      map[string]model.LoadResult

	closing   chan struct{}
	closeOnce sync.Once
	distDone  chan struct{}
	asyncWG   sync.WaitGroup

	// Track load calls in progress and allow them to complete before closing.
	loadClosed bool
	loadMutex  sync.Mutex
	loadWG     sync.WaitGroup
}

// New creates a Loader that reads the given registry's sources through the
// given client.
func New(client *fetch.Client, registry *sources.Registry, options ...Option) (*Loader, error) {
	if client == nil {
		return nil, errors.New("nil fetch client")
	}
	if registry == nil {
		return nil, errors.New("nil source registry")
	}
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		client:   client,
		registry: registry,

		batchSize:  opts.batchSize,
		batchDelay: opts.batchDelay,
		resultHook: opts.resultHook,

		handlers: make(map[string]*handler),
		slots:    make(chan struct{}, opts.batchSize),

		inResults:    make(chan model.LoadResult, 1),
		addEventChan: make(chan chan<- model.LoadResult),
		rmEventChan:  make(chan chan<- model.LoadResult),

		latest: make(map[string]model.LoadResult),

		closing:  make(chan struct{}),
		distDone: make(chan struct{}),
	}

	// Start reconciler to retain and distribute results.
	go l.distributeResults()

	return l, nil
}

// Load runs one load cycle: all registry sources, in canonical order, split
// into consecutive batches of at most the configured batch size. Requests
// within a batch start concurrently. Load waits the configured inter-batch
// delay from one group's start before starting the next, but does not wait for
// any group to finish; it returns once the last group has been started.
//
// Results are delivered through OnResult channels and the result hook. A
// source that fails terminally is reported like any other result and never
// halts the cycle.
func (l *Loader) Load(ctx context.Context, options ...LoadOption) error {
	opts := getLoadOpts(options)
	return l.run(ctx, l.registry.List(), opts)
}

// LoadSource issues a request for a single source, going through the same
// supersession guard as full cycles. It is the entry point for per-source
// triggers such as tab re-entry.
func (l *Loader) LoadSource(ctx context.Context, sourceID string, options ...LoadOption) error {
	desc, ok := l.registry.Get(sourceID)
	if !ok {
		return fmt.Errorf("unknown source: %s", sourceID)
	}
	opts := getLoadOpts(options)
	return l.run(ctx, []sources.Descriptor{desc}, opts)
}

func (l *Loader) run(ctx context.Context, descs []sources.Descriptor, opts loadOpts) error {
	l.loadMutex.Lock()
	if l.loadClosed {
		l.loadMutex.Unlock()
		return ErrClosed
	}
	l.loadWG.Add(1)
	l.loadMutex.Unlock()
	defer l.loadWG.Done()

	if len(descs) == 0 {
		return nil
	}
	if opts.forceRefresh {
		descs = withForceRefresh(descs)
	}

	batches := partition(descs, l.batchSize)
	for i, batch := range batches {
		if i != 0 {
			timer := time.NewTimer(l.batchDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-l.closing:
				timer.Stop()
				return ErrClosed
			}
		}
		for _, desc := range batch {
			l.getOrCreateHandler(desc.ID).issue(ctx, desc)
		}
	}
	return nil
}

// partition splits descs into consecutive groups of at most size.
func partition(descs []sources.Descriptor, size int) [][]sources.Descriptor {
	if len(descs) == 0 {
		return nil
	}
	batches := make([][]sources.Descriptor, 0, (len(descs)+size-1)/size)
	for start := 0; start < len(descs); start += size {
		end := start + size
		if end > len(descs) {
			end = len(descs)
		}
		batches = append(batches, descs[start:end])
	}
	return batches
}

// withForceRefresh copies descriptors, adding the parameter that makes the
// backend bypass its cache and refetch upstream.
func withForceRefresh(descs []sources.Descriptor) []sources.Descriptor {
	out := make([]sources.Descriptor, len(descs))
	for i, desc := range descs {
		params := make(map[string]string, len(desc.Params)+1)
		for k, v := range desc.Params {
			params[k] = v
		}
		params["force_refresh"] = "true"
		desc.Params = params
		out[i] = desc
	}
	return out
}

// getOrCreateHandler returns the existing handler for a source or creates one.
func (l *Loader) getOrCreateHandler(sourceID string) *handler {
	l.handlersMutex.Lock()
	defer l.handlersMutex.Unlock()

	hnd, ok := l.handlers[sourceID]
	if !ok {
		hnd = &handler{
			loader:   l,
			sourceID: sourceID,
		}
		l.handlers[sourceID] = hnd
	}
	return hnd
}

// OnResult creates a channel that receives every surviving load result, and
// adds it to the set of notification channels. The channel is buffered by a
// queue so the reconciler never blocks on a slow reader.
//
// Calling the returned cancel function removes the channel from the set and
// closes it, allowing reading goroutines to stop waiting.
func (l *Loader) OnResult() (<-chan model.LoadResult, context.CancelFunc) {
	cq := channelqueue.New[model.LoadResult](-1)
	ch := cq.In()
	select {
	case l.addEventChan <- ch:
	case <-l.closing:
		// Already shut down; terminate the channel so readers stop.
		close(ch)
		return cq.Out(), func() {}
	}

	cncl := func() {
		if ch == nil {
			return
		}
		select {
		case l.rmEventChan <- ch:
		case <-l.closing:
		}
		ch = nil
	}
	return cq.Out(), cncl
}

// Latest returns the retained last known good result for a source, if one has
// been produced since the Loader was created. Failed results never overwrite
// it, so a failing source keeps showing its previous data.
func (l *Loader) Latest(sourceID string) (model.LoadResult, bool) {
	l.latestMutex.Lock()
	defer l.latestMutex.Unlock()
	res, ok := l.latest[sourceID]
	return res, ok
}

// LatestAll returns a copy of all retained last known good results, keyed by
// source id.
func (l *Loader) LatestAll() map[string]model.LoadResult {
	l.latestMutex.Lock()
	defer l.latestMutex.Unlock()
	out := make(map[string]model.LoadResult, len(l.latest))
	for id, res := range l.latest {
		out[id] = res
	}
	return out
}

// Close shuts down the Loader. In-flight requests are cancelled, load calls
// in progress are allowed to return, and result channels are closed.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		// Block any additional load calls.
		l.loadMutex.Lock()
		l.loadClosed = true
		l.loadMutex.Unlock()

		close(l.closing)

		// Cancel whatever is still in flight so shutdown does not wait out
		// source timeouts.
		l.handlersMutex.Lock()
		for _, hnd := range l.handlers {
			hnd.cancelCurrent()
		}
		l.handlersMutex.Unlock()

		// Wait for load calls, then request goroutines, then stop the
		// reconciler.
		l.loadWG.Wait()
		l.asyncWG.Wait()
		close(l.inResults)
		<-l.distDone
	})
	return nil
}

// distributeResults reads surviving results from the handlers, updates the
// retained state, invokes the result hook, and copies each result to every
// OnResult channel.
func (l *Loader) distributeResults() {
	defer close(l.distDone)
	var outChans []chan<- model.LoadResult

	for {
		select {
		case res, ok := <-l.inResults:
			if !ok {
				for _, ch := range outChans {
					close(ch)
				}
				return
			}
			if !l.reconcile(res) {
				continue
			}
			for _, ch := range outChans {
				ch <- res
			}
		case ch := <-l.addEventChan:
			outChans = append(outChans, ch)
		case ch := <-l.rmEventChan:
			for i, ca := range outChans {
				if ca == ch {
					outChans[i] = outChans[len(outChans)-1]
					outChans[len(outChans)-1] = nil
					outChans = outChans[:len(outChans)-1]
					close(ch)
					break
				}
			}
		}
	}
}

// reconcile re-checks the result's generation against its source's current
// one and drops mismatches. A producer's own check is not atomic with its
// channel send, so a retired generation can still enter inResults behind the
// result that superseded it; this is the last gate before results become
// visible downstream. Surviving results update the retained state and reach
// the result hook.
func (l *Loader) reconcile(res model.LoadResult) bool {
	l.handlersMutex.Lock()
	hnd := l.handlers[res.SourceID]
	l.handlersMutex.Unlock()
	if hnd != nil {
		if current := hnd.currentGeneration(); res.Generation != current {
			log.Debugw("Discarding superseded result", "source", res.SourceID, "generation", res.Generation, "current", current)
			return false
		}
	}

	if !res.Status.Failed() {
		l.latestMutex.Lock()
		l.latest[res.SourceID] = res
		l.latestMutex.Unlock()
	} else {
		log.Warnw("Source load failed", "source", res.SourceID, "status", res.Status, "kind", res.ErrKind(), "attempts", res.Attempts, "err", res.Err)
	}
	if l.resultHook != nil {
		l.dispatch(res)
	}
	return true
}

// dispatch invokes the result hook, isolating the cycle from panics at the
// rendering boundary.
func (l *Loader) dispatch(res model.LoadResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorw("Result hook panicked", "source", res.SourceID, "panic", p)
		}
	}()
	l.resultHook(res)
}
