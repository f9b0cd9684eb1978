package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var epoch = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newRun(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateRun(context.Background(), news.Run{
		ID:        id,
		Kind:      news.RunKindDiscovery,
		Status:    news.RunStatusQueued,
		CreatedAt: epoch,
	}))
}

func finishRun(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.ClaimNextRun(ctx, epoch)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, id, news.RunStatusSucceeded, news.RunCounters{}, "", epoch))
}

func TestEmitAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, log.Emit(ctx, "r1", news.LevelInfo, news.EventDiscover, "found 2", map[string]any{"count": 2}))
	require.NoError(t, log.Emit(ctx, "r1", news.LevelDebug, news.EventFetch, "fetching", nil))

	page, err := log.Poll(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Less(t, page.Events[0].ID, page.Events[1].ID)
	require.Equal(t, epoch, page.Events[0].CreatedAt)
	require.Equal(t, news.RunStatusQueued, page.Status)
	require.False(t, page.IsComplete)
	require.Equal(t, page.Events[1].ID, page.NextCursor)
}

func TestPollPagesConcatenateToFullHistory(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	newRun(t, store, "other")
	log := New(store, fixedClock{now: epoch}, Config{PageSize: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, log.Emit(ctx, "r1", news.LevelDebug, news.EventFetch, "step", nil))
		require.NoError(t, log.Emit(ctx, "other", news.LevelDebug, news.EventFetch, "noise", nil))
	}
	finishRun(t, store, "r1")

	var (
		all    []news.RunEvent
		cursor int64
		polls  int
	)
	for {
		page, err := log.Poll(ctx, "r1", cursor)
		require.NoError(t, err)
		all = append(all, page.Events...)
		cursor = page.NextCursor
		polls++
		if page.IsComplete {
			break
		}
		require.Less(t, polls, 10)
	}

	full, err := store.ListEvents(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, full, all)
	require.Len(t, all, 10)
}

func TestPollUnknownRun(t *testing.T) {
	t.Parallel()

	log := New(memory.NewStore(), fixedClock{now: epoch}, Config{}, nil)
	_, err := log.Poll(context.Background(), "ghost", 0)
	require.ErrorIs(t, err, news.ErrNotFound)
}

func TestSummaryCountsByType(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{}, nil)
	ctx := context.Background()
	require.NoError(t, log.Emit(ctx, "r1", news.LevelDebug, news.EventFetch, "a", nil))
	require.NoError(t, log.Emit(ctx, "r1", news.LevelDebug, news.EventFetch, "b", nil))
	require.NoError(t, log.Emit(ctx, "r1", news.LevelError, news.EventError, "c", nil))

	counts, err := log.Summary(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 2, counts[news.EventFetch])
	require.Equal(t, 1, counts[news.EventError])
}

func TestStreamFinishedRunReplaysThenEnds(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{PageSize: 2, StreamInterval: time.Hour}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Emit(ctx, "r1", news.LevelInfo, news.EventFetch, "x", nil))
	}
	finishRun(t, store, "r1")

	var messages []Message
	err := log.Stream(ctx, "r1", func(m Message) error {
		messages = append(messages, m)
		return nil
	})
	require.NoError(t, err)

	var events int
	for _, m := range messages[:len(messages)-1] {
		require.Equal(t, MessageEvents, m.Kind)
		events += len(m.Events)
	}
	require.Equal(t, 5, events)
	last := messages[len(messages)-1]
	require.Equal(t, MessageEnd, last.Kind)
	require.Equal(t, news.RunStatusSucceeded, last.Status)
}

func TestStreamLiveRunEndsAfterFinish(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{StreamInterval: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		received []news.RunEvent
		ended    bool
	)
	done := make(chan error, 1)
	go func() {
		done <- log.Stream(ctx, "r1", func(m Message) error {
			mu.Lock()
			defer mu.Unlock()
			if m.Kind == MessageEnd {
				ended = true
			}
			received = append(received, m.Events...)
			return nil
		})
	}()

	require.NoError(t, log.Emit(ctx, "r1", news.LevelInfo, news.EventDiscover, "first", nil))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, log.Emit(ctx, "r1", news.LevelInfo, news.EventDone, "done", nil))
	finishRun(t, store, "r1")

	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	require.True(t, ended)
	require.Len(t, received, 2)
	require.Equal(t, news.EventDone, received[1].Type)
}

func TestStreamStopsOnSendError(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{StreamInterval: time.Millisecond}, nil)
	ctx := context.Background()
	require.NoError(t, log.Emit(ctx, "r1", news.LevelInfo, news.EventDiscover, "first", nil))

	boom := errors.New("client gone")
	err := log.Stream(ctx, "r1", func(Message) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestStreamHonorsCancel(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	newRun(t, store, "r1")
	log := New(store, fixedClock{now: epoch}, Config{StreamInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := log.Stream(ctx, "r1", func(Message) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
