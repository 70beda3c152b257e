package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/cache"
)

type items []string

func (l items) Clone() items {
	if l == nil {
		return nil
	}
	return append(items(nil), l...)
}

var k = cache.Key{Resource: "items", Scope: "owner-1"}

func newStore(t *testing.T, opts ...cache.Option) *cache.Store {
	t.Helper()
	s := cache.New(opts...)
	t.Cleanup(s.Close)
	return s
}

func TestStore_CopiesOnWriteAndRead(t *testing.T) {
	s := newStore(t)
	v := items{"a", "b"}
	cache.Write(s, k, v)
	v[0] = "changed"

	got, ok := cache.Read[items](s, k)
	require.True(t, ok)
	assert.Equal(t, items{"a", "b"}, got)

	got[1] = "changed"
	again, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"a", "b"}, again)
}

func TestStore_ReadWrongTypeMisses(t *testing.T) {
	s := newStore(t)
	cache.Write(s, k, items{"a"})
	_, ok := cache.Read[other](s, k)
	assert.False(t, ok)
}

type other struct{ n int }

func (o other) Clone() other { return o }

func TestStore_PatchOnlyTouchesPresentKeys(t *testing.T) {
	s := newStore(t)
	_, ok := cache.Patch(s, k, func(prev items) items { return append(prev, "x") })
	assert.False(t, ok)
	assert.False(t, s.Has(k))

	cache.Write(s, k, items{"a"})
	next, ok := cache.Patch(s, k, func(prev items) items { return append(prev, "b") })
	require.True(t, ok)
	assert.Equal(t, items{"a", "b"}, next)
	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"a", "b"}, got)
}

func TestStore_SubscribersSeeEveryWriteWithoutHoldingTheLock(t *testing.T) {
	s := newStore(t)
	var seen []cache.Event
	unsub := s.Subscribe(k, func(ev cache.Event) {
		// reading back from inside the callback must not deadlock
		_, _ = cache.Read[items](s, k)
		seen = append(seen, ev)
	})
	var all int
	s.SubscribeAll(func(cache.Event) { all++ })

	cache.Write(s, k, items{"a"})
	cache.Write(s, cache.Key{Resource: "items", Scope: "owner-2"}, items{"z"})
	s.Delete(k)
	unsub()
	cache.Write(s, k, items{"b"})

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Present)
	assert.Equal(t, items{"a"}, seen[0].Value)
	assert.False(t, seen[1].Present)
	assert.Nil(t, seen[1].Value)
	assert.Equal(t, 4, all)
}

func TestStore_SubscriberGetsItsOwnCopy(t *testing.T) {
	s := newStore(t)
	s.Subscribe(k, func(ev cache.Event) {
		v := ev.Value.(items)
		v[0] = "scribbled"
	})
	cache.Write(s, k, items{"a"})
	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"a"}, got)
}

type recMirror struct {
	mu     sync.Mutex
	writes []string
}

func (m *recMirror) Mirror(key cache.Key, value any, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !present {
		m.writes = append(m.writes, "delete "+key.String())
		return
	}
	m.writes = append(m.writes, key.String()+"="+value.(items)[0])
}

func TestStore_MirrorReceivesWritesAndDeletes(t *testing.T) {
	m := &recMirror{}
	s := newStore(t, cache.WithMirror(m))
	cache.Write(s, k, items{"a"})
	s.Delete(k)
	s.Delete(k) // already gone, no event
	assert.Equal(t, []string{"items:owner-1=a", "delete items:owner-1"}, m.writes)
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := newStore(t)
	absent := s.Snapshot(k)
	assert.False(t, absent.Present())

	cache.Write(s, k, items{"a"})
	snap := s.Snapshot(k)
	cache.Write(s, k, items{"b"})
	s.Restore(snap)
	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"a"}, got)

	cache.Write(s, k, items{"c"})
	s.Restore(snap)
	got, _ = cache.Read[items](s, k)
	assert.Equal(t, items{"a"}, got, "a snapshot can be restored twice")

	s.Restore(absent)
	assert.False(t, s.Has(k))
}

func TestStore_RestoreIfOnlyWhileUnchanged(t *testing.T) {
	s := newStore(t)
	cache.Write(s, k, items{"a"})
	snap := s.Snapshot(k)
	own := cache.WriteVersion(s, k, items{"a", "mine"})
	assert.Equal(t, snap.Version()+1, own)

	cache.Write(s, k, items{"a", "mine", "theirs"})
	assert.False(t, s.RestoreIf(snap, own), "a later write must not be overwritten")
	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"a", "mine", "theirs"}, got)

	_, own, ok := cache.PatchVersion(s, k, func(l items) items { return l[:1] })
	require.True(t, ok)
	assert.Equal(t, s.Version(k), own)
	assert.True(t, s.RestoreIf(snap, own))
	got, _ = cache.Read[items](s, k)
	assert.Equal(t, items{"a"}, got)
}

func TestStore_RestoreIfAbsentSnapshotDeletes(t *testing.T) {
	s := newStore(t)
	absent := s.Snapshot(k)
	own := cache.WriteVersion(s, k, items{"x"})
	assert.True(t, s.RestoreIf(absent, own))
	assert.False(t, s.Has(k))
	assert.True(t, s.RestoreIf(absent, s.Version(k)), "restoring absent onto absent is a no-op")
}

func TestStore_FetchSharesOneLoad(t *testing.T) {
	s := newStore(t)
	var calls atomic.Int32
	gate := make(chan struct{})
	cache.Register(s, "items", func(ctx context.Context, key cache.Key) (items, error) {
		calls.Add(1)
		<-gate
		return items{key.Scope}, nil
	})

	var wg sync.WaitGroup
	results := make([]items, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := cache.Fetch[items](context.Background(), s, k)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, items{"owner-1"}, r)
	}

	_, err := cache.Fetch[items](context.Background(), s, k)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "fresh values are served from memory")
}

func TestStore_FetchWithoutFetcher(t *testing.T) {
	s := newStore(t)
	_, err := cache.Fetch[items](context.Background(), s, k)
	assert.ErrorIs(t, err, cache.ErrNoFetcher)

	cache.Write(s, k, items{"a"})
	s.Invalidate(k)
	assert.True(t, s.IsStale(k))
	got, err := cache.Fetch[items](context.Background(), s, k)
	require.NoError(t, err)
	assert.Equal(t, items{"a"}, got, "stale value is served when nothing can reload it")
}

func TestStore_FetchErrorIsReturned(t *testing.T) {
	s := newStore(t)
	boom := errors.New("boom")
	cache.Register(s, "items", func(context.Context, cache.Key) (items, error) { return nil, boom })
	_, err := cache.Fetch[items](context.Background(), s, k)
	assert.ErrorIs(t, err, boom)
}

func TestStore_LoadFinishingAfterAWriteIsDropped(t *testing.T) {
	s := newStore(t)
	started, gate := make(chan struct{}), make(chan struct{})
	cache.Register(s, "items", func(context.Context, cache.Key) (items, error) {
		close(started)
		<-gate
		return items{"old"}, nil
	})

	done := make(chan items)
	go func() {
		v, _ := cache.Fetch[items](context.Background(), s, k)
		done <- v
	}()
	<-started
	cache.Write(s, k, items{"new"})
	close(gate)

	assert.Equal(t, items{"new"}, <-done)
	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"new"}, got)
}

func TestStore_InvalidateRefetchesInBackground(t *testing.T) {
	s := newStore(t)
	var n atomic.Int32
	cache.Register(s, "items", func(context.Context, cache.Key) (items, error) {
		n.Add(1)
		return items{"fresh"}, nil
	})
	cache.Write(s, k, items{"old"})

	written := make(chan cache.Event, 1)
	s.Subscribe(k, func(ev cache.Event) { written <- ev })
	s.Invalidate(k)

	select {
	case ev := <-written:
		assert.Equal(t, items{"fresh"}, ev.Value)
	case <-time.After(time.Second):
		t.Fatal("refetch did not happen")
	}
	assert.False(t, s.IsStale(k))
	assert.Equal(t, int32(1), n.Load())
}

func TestStore_CancelPendingStopsTheRefetch(t *testing.T) {
	s := newStore(t)
	started := make(chan struct{})
	var exited atomic.Bool
	cache.Register(s, "items", func(ctx context.Context, _ cache.Key) (items, error) {
		close(started)
		<-ctx.Done()
		exited.Store(true)
		return items{"late"}, nil
	})
	cache.Write(s, k, items{"a"})
	s.Invalidate(k)
	<-started

	require.NoError(t, s.CancelPending(context.Background(), k))
	assert.True(t, exited.Load(), "CancelPending waits for the refetch to exit")
	cache.Write(s, k, items{"optimistic"})

	got, _ := cache.Read[items](s, k)
	assert.Equal(t, items{"optimistic"}, got)
	assert.NoError(t, s.CancelPending(context.Background(), k), "nothing pending is fine")
}

func TestStore_KeysFiltersAndSorts(t *testing.T) {
	s := newStore(t)
	cache.Write(s, cache.ReviewListKey("p1", "sort=new"), items{"x"})
	cache.Write(s, cache.ReviewListKey("p1", ""), items{"x"})
	cache.Write(s, cache.ReviewListKey("p2", ""), items{"x"})
	cache.Write(s, cache.ReviewStatsKey("p1"), items{"x"})
	s.Delete(cache.ReviewListKey("p2", ""))

	got := s.Keys(cache.ResourceReviewList, "p1")
	assert.Equal(t, []cache.Key{cache.ReviewListKey("p1", ""), cache.ReviewListKey("p1", "sort=new")}, got)
	assert.Empty(t, s.Keys(cache.ResourceReviewList, "p2"))
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "cart:c1", cache.CartKey("c1").String())
	assert.Equal(t, "reviews:list:p1:page=2", cache.ReviewListKey("p1", "page=2").String())
	assert.Equal(t, cache.PromoPreviewKey("c1", " save10"), cache.PromoPreviewKey("c1", "SAVE10"))
}
