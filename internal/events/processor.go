package events

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// AsyncProcessor wakes on WakeInterval and flushes the aggregator whenever
// either MinimumCount events are pending or FlushInterval has elapsed since
// the last flush, mirroring events.py's eventsProcessor loop but driven by
// context cancellation instead of a daemon thread plus atexit hook.
type AsyncProcessor struct {
	agg           *Aggregator
	wakeInterval  time.Duration
	flushInterval time.Duration
	minimumCount  int
	verbose       bool

	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewAsyncProcessor(agg *Aggregator, wakeInterval, flushInterval time.Duration, minimumCount int, verbose bool) *AsyncProcessor {
	return &AsyncProcessor{
		agg:           agg,
		wakeInterval:  wakeInterval,
		flushInterval: flushInterval,
		minimumCount:  minimumCount,
		verbose:       verbose,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the wake/flush loop in a background goroutine.
func (p *AsyncProcessor) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *AsyncProcessor) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.wakeInterval)
	defer ticker.Stop()

	nextFlush := time.Now().Add(p.flushInterval)

	for {
		select {
		case <-ctx.Done():
			p.flushFinal(context.Background())
			return
		case <-p.stop:
			p.flushFinal(context.Background())
			return
		case <-ticker.C:
			if p.agg.Count() >= p.minimumCount || time.Now().After(nextFlush) {
				if err := p.agg.Flush(ctx); err != nil && p.verbose {
					log.Warn("periodic event flush failed", "err", err)
				}
				nextFlush = time.Now().Add(p.flushInterval)
			}
		}
	}
}

func (p *AsyncProcessor) flushFinal(ctx context.Context) {
	if p.verbose {
		log.Debug("closing event processor")
	}
	if err := p.agg.Flush(ctx); err != nil && p.verbose {
		log.Warn("final event flush failed", "err", err)
	}
}

// Close stops the wake/flush loop and performs one last flush, blocking
// until both have completed. Safe to call more than once.
func (p *AsyncProcessor) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
	<-p.done
}

// SyncProcessor flushes the aggregator from inside the caller's own
// encrypt/decrypt call rather than on a background schedule, for
// event_reporting.synchronous=true (spec §3). ProcessNow only actually
// flushes once MinimumCount events are pending or FlushInterval has
// elapsed since the last flush (spec §4.6, §8's "flush triggers" invariant:
// "never otherwise"), the same two triggers AsyncProcessor.run gates on.
type SyncProcessor struct {
	agg           *Aggregator
	flushInterval time.Duration
	minimumCount  int

	mu        sync.Mutex
	nextFlush time.Time
}

func NewSyncProcessor(agg *Aggregator, flushInterval time.Duration, minimumCount int) *SyncProcessor {
	return &SyncProcessor{
		agg:           agg,
		flushInterval: flushInterval,
		minimumCount:  minimumCount,
		nextFlush:     time.Now().Add(flushInterval),
	}
}

// ProcessNow flushes the aggregator iff its pending count has reached
// minimumCount or the flush deadline has passed, then pushes the deadline
// forward by flushInterval (matching AsyncProcessor.run's gating at the
// ticker case).
func (p *SyncProcessor) ProcessNow(ctx context.Context) error {
	p.mu.Lock()
	due := p.agg.Count() >= p.minimumCount || time.Now().After(p.nextFlush)
	if !due {
		p.mu.Unlock()
		return nil
	}
	p.nextFlush = time.Now().Add(p.flushInterval)
	p.mu.Unlock()

	return p.agg.Flush(ctx)
}
