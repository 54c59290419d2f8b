package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubiqsecurity/ubiq-go/internal/events"
)

type fakePoster struct {
	mu     sync.Mutex
	batches [][]map[string]any
	err    error
}

func (f *fakePoster) PostEvents(ctx context.Context, batch []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakePoster) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestAddEventCoalescesByDimensions(t *testing.T) {
	agg := events.NewAggregator(&fakePoster{}, events.Seconds, false, false)

	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 3)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 2)
	agg.AddEvent("papi", "SSN", "", "decrypt", "structured", 0, 1)

	require.Equal(t, 6, agg.Count())
	list := agg.ListEvents()
	require.Len(t, list, 2)
}

func TestUserDefinedMetadataIsPartOfCoalescingKeyAndPayload(t *testing.T) {
	agg := events.NewAggregator(&fakePoster{}, events.Seconds, false, false)

	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)
	agg.SetUserDefinedMetadata(`{"order":1}`)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	list := agg.ListEvents()
	require.Len(t, list, 2, "differing user_defined blobs must not coalesce")

	var sawBlob bool
	for _, e := range list {
		if e["user_defined"] == `{"order":1}` {
			sawBlob = true
		}
	}
	require.True(t, sawBlob)
}

func TestFlushClearsAndPosts(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 5)

	err := agg.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, agg.Count())
	require.Equal(t, 1, poster.batchCount())
}

func TestFlushWithNoEventsSkipsPost(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)

	err := agg.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, poster.batchCount())
}

func TestFlushTrapsErrorsWhenConfigured(t *testing.T) {
	poster := &fakePoster{err: context.DeadlineExceeded}
	agg := events.NewAggregator(poster, events.Seconds, false, true)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	err := agg.Flush(context.Background())
	require.NoError(t, err)
}

func TestFlushPropagatesErrorsWhenNotTrapped(t *testing.T) {
	poster := &fakePoster{err: context.DeadlineExceeded}
	agg := events.NewAggregator(poster, events.Seconds, false, false)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	err := agg.Flush(context.Background())
	require.Error(t, err)
}

func TestAsyncProcessorFlushesOnClose(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	proc := events.NewAsyncProcessor(agg, time.Hour, time.Hour, 1000, false)
	proc.Start(context.Background())
	proc.Close()

	require.Equal(t, 0, agg.Count())
	require.Equal(t, 1, poster.batchCount())
}

func TestAsyncProcessorFlushesOnMinimumCount(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)

	proc := events.NewAsyncProcessor(agg, 10*time.Millisecond, time.Hour, 1, false)
	ctx, cancel := context.WithCancel(context.Background())
	proc.Start(ctx)

	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	require.Eventually(t, func() bool {
		return poster.batchCount() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	proc.Close()
}

func TestSyncProcessorDoesNotFlushBelowThresholdOrDeadline(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)

	proc := events.NewSyncProcessor(agg, time.Hour, 1000)
	err := proc.ProcessNow(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, poster.batchCount())
	require.Equal(t, 1, agg.Count())
}

func TestSyncProcessorFlushesOnMinimumCount(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)
	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 5)

	proc := events.NewSyncProcessor(agg, time.Hour, 5)
	err := proc.ProcessNow(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, poster.batchCount())
	require.Equal(t, 0, agg.Count())
}

func TestSyncProcessorFlushesOnDeadline(t *testing.T) {
	poster := &fakePoster{}
	agg := events.NewAggregator(poster, events.Seconds, false, false)

	proc := events.NewSyncProcessor(agg, time.Millisecond, 1000)
	time.Sleep(5 * time.Millisecond)

	agg.AddEvent("papi", "SSN", "", "encrypt", "structured", 0, 1)
	err := proc.ProcessNow(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, poster.batchCount())
}
