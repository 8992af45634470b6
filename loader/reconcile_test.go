package loader

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trendview/go-trendview/fetch"
	"github.com/trendview/go-trendview/model"
	"github.com/trendview/go-trendview/sources"
)

// A producer's generation check and its channel send are not atomic: a
// goroutine can pass the check, lose the CPU, and enqueue its retired result
// after the superseding generation's result. The reconciler must drop such a
// result instead of overwriting the newer one.
func TestReconcileDropsRetiredGeneration(t *testing.T) {
	client, err := fetch.New("http://127.0.0.1:0")
	require.NoError(t, err)
	reg, err := sources.NewRegistry([]sources.Descriptor{
		{ID: "src0", Endpoint: "/api/src0"},
	})
	require.NoError(t, err)

	l, err := New(client, reg)
	require.NoError(t, err)
	defer l.Close()

	hnd := l.getOrCreateHandler("src0")
	hnd.mutex.Lock()
	hnd.generation = 2
	hnd.mutex.Unlock()

	ch, cancel := l.OnResult()
	defer cancel()

	current := model.LoadResult{
		SourceID:   "src0",
		Generation: 2,
		Status:     model.StatusSuccess,
		Items:      []model.Item{{Title: "now"}},
	}
	stale := model.LoadResult{
		SourceID:   "src0",
		Generation: 1,
		Status:     model.StatusSuccess,
		Items:      []model.Item{{Title: "old"}},
	}

	l.inResults <- current
	res := <-ch
	require.Equal(t, uint64(2), res.Generation)

	// The stale result arrives after the current one. The next result the
	// subscriber sees must be the flush, not the retired generation.
	l.inResults <- stale
	l.inResults <- current
	res = <-ch
	require.Equal(t, uint64(2), res.Generation)
	require.Equal(t, "now", res.Items[0].Title)

	retained, ok := l.Latest("src0")
	require.True(t, ok)
	require.Equal(t, uint64(2), retained.Generation)
	require.Equal(t, "now", retained.Items[0].Title)
}
