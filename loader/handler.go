package loader

import (
	"context"
	"sync"
	"time"

	"github.com/trendview/go-trendview/apierror"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

// handler holds the supersession state for one source. The generation counter
// and the cancel function for the current request are read and updated only
// under the handler lock, so two concurrent issuances can never both believe
// they are current.
type handler struct {
	loader   *Loader
	sourceID string

	mutex      sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// issue starts a new request for the handler's source. Any request already in
// flight is cancelled and its generation retired before the new attempt
// starts.
func (h *handler) issue(ctx context.Context, desc sources.Descriptor) {
	h.mutex.Lock()
	if h.cancel != nil {
		// Supersede the in-flight request.
		h.cancel()
		log.Debugw("Superseding in-flight request", "source", h.sourceID, "generation", h.generation)
	}
	h.generation++
	gen := h.generation
	reqCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mutex.Unlock()

	l := h.loader
	l.asyncWG.Add(1)
	go func() {
		defer l.asyncWG.Done()
		defer cancel()

		// Take a concurrency slot. A request superseded while waiting for a
		// slot never consumed connection budget; it resolves as Timeout and
		// is dropped by the generation check.
		select {
		case l.slots <- struct{}{}:
			defer func() {
				<-l.slots
			}()
		case <-reqCtx.Done():
			h.deliver(gen, model.LoadResult{
				SourceID:    h.sourceID,
				Status:      model.StatusTimeout,
				Err:         apierror.New(apierror.KindTimeout, reqCtx.Err()),
				CompletedAt: time.Now(),
			})
			return
		case <-l.closing:
			return
		}

		res := l.client.Execute(reqCtx, desc)
		res.Generation = gen
		h.deliver(gen, res)
	}()
}

// deliver forwards a completed result to the reconciler unless its generation
// has been retired. The generation check catches transports that do not honor
// cancellation: even a late-arriving result from a cancelled request cannot
// overwrite a newer one.
func (h *handler) deliver(gen uint64, res model.LoadResult) {
	current := h.currentGeneration()
	if gen != current {
		log.Debugw("Discarding superseded result", "source", h.sourceID, "generation", gen, "current", current)
		return
	}
	res.Generation = gen
	select {
	case h.loader.inResults <- res:
	case <-h.loader.closing:
	}
}

func (h *handler) currentGeneration() uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.generation
}

// cancelCurrent cancels the in-flight request, if any, without retiring its
// generation. Used at shutdown.
func (h *handler) cancelCurrent() {
	h.mutex.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mutex.Unlock()
}
