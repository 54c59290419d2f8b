// Package events implements the usage/billing event aggregator from
// spec §4.6: calls coalesce into an in-memory map keyed by the dimensions
// the billing backend groups on, and are periodically flushed to the V3
// tracking endpoint. Grounded on
// original_source/ubiq_security/events.py's events/eventsProcessor classes,
// replacing its daemon-thread-plus-atexit shutdown with a context-cancelled
// goroutine in the style of
// chirino-memory-service/internal/service/eviction.go.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ubiqsecurity/ubiq-go/internal/metrics"
)

const productVersion = "0.1.0"

// Event is one coalesced usage record: count encryptions/decryptions for one
// (api key, dataset, dataset group, billing action, dataset type, key
// number) tuple, between its first and most recent observation.
type Event struct {
	APIKey           string
	DatasetName      string
	DatasetGroupName string
	BillingAction    string
	DatasetType      string
	KeyNumber        int
	UserDefined      string
	Count            int
	FirstCallAt      time.Time
	LastCallAt       time.Time
}

func coalesceKey(e Event) string {
	return fmt.Sprintf(
		"api_key=%q datasets=%q billing_action=%q dataset_groups=%q key_number=%d dataset_type=%q user_defined=%q",
		e.APIKey, e.DatasetName, e.BillingAction, e.DatasetGroupName, e.KeyNumber, e.DatasetType, e.UserDefined,
	)
}

// Serialize renders e in the shape the V3 tracking endpoint expects,
// bucketing its timestamps to granularity.
func (e Event) Serialize(granularity TimestampGranularity) map[string]any {
	m := map[string]any{
		"datasets":              e.DatasetName,
		"dataset_groups":        e.DatasetGroupName,
		"dataset_type":          e.DatasetType,
		"api_key":               e.APIKey,
		"count":                 e.Count,
		"key_number":            e.KeyNumber,
		"action":                e.BillingAction,
		"product":               "ubiq-go",
		"product_version":       productVersion,
		"user-agent":            "ubiq-go/" + productVersion,
		"api_version":           "V3",
		"first_call_timestamp":  bucketTimestamp(e.FirstCallAt, granularity),
		"last_call_timestamp":   bucketTimestamp(e.LastCallAt, granularity),
	}
	if e.UserDefined != "" {
		m["user_defined"] = e.UserDefined
	}
	return m
}

// TimestampGranularity controls how finely event timestamps are rounded
// before being reported, per spec §4.6.
type TimestampGranularity int

const (
	Micros TimestampGranularity = iota
	Millis
	Seconds
	Minutes
	Hours
	HalfDays
	Days
)

func bucketTimestamp(t time.Time, g TimestampGranularity) string {
	t = t.UTC()
	switch g {
	case Millis:
		return t.Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z07:00")
	case Seconds:
		return t.Truncate(time.Second).Format(time.RFC3339)
	case Minutes:
		return t.Truncate(time.Minute).Format(time.RFC3339)
	case Hours:
		return t.Truncate(time.Hour).Format(time.RFC3339)
	case HalfDays:
		return t.Truncate(12 * time.Hour).Format(time.RFC3339)
	case Days:
		return t.Truncate(24 * time.Hour).Format(time.RFC3339)
	default: // Micros
		return t.Format("2006-01-02T15:04:05.000000Z07:00")
	}
}

// Poster submits a batch of serialized events to the billing backend.
// internal/kmsclient.Client.PostEvents satisfies this.
type Poster interface {
	PostEvents(ctx context.Context, events []map[string]any) error
}

// Aggregator coalesces AddEvent calls into a map, and flushes them to a
// Poster on demand or via a background AsyncProcessor.
type Aggregator struct {
	mu          sync.Mutex
	byKey       map[string]*Event
	count       int
	poster      Poster
	granularity TimestampGranularity
	verbose     bool
	trap        bool
	userDefined string
}

func NewAggregator(poster Poster, granularity TimestampGranularity, verbose, trapExceptions bool) *Aggregator {
	return &Aggregator{
		byKey:       make(map[string]*Event),
		poster:      poster,
		granularity: granularity,
		verbose:     verbose,
		trap:        trapExceptions,
	}
}

// SetUserDefinedMetadata attaches blob to every event this aggregator
// records from this point on; it becomes part of the coalescing key and of
// each serialized event (spec §4.6). Validation of blob (JSON, <=1024
// characters) is the caller's responsibility — see the public
// Credentials.SetUserDefinedMetadata, which validates before calling this.
func (a *Aggregator) SetUserDefinedMetadata(blob string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userDefined = blob
}

// AddEvent records count occurrences of one billing dimension tuple,
// coalescing with any existing entry for the same key.
func (a *Aggregator) AddEvent(apiKey, datasetName, datasetGroupName, billingAction, datasetType string, keyNumber, count int) {
	now := time.Now()
	a.mu.Lock()
	userDefined := a.userDefined
	a.mu.Unlock()
	e := Event{
		APIKey: apiKey, DatasetName: datasetName, DatasetGroupName: datasetGroupName,
		BillingAction: billingAction, DatasetType: datasetType, KeyNumber: keyNumber,
		UserDefined: userDefined,
	}
	key := coalesceKey(e)

	a.mu.Lock()
	defer a.mu.Unlock()
	existing, ok := a.byKey[key]
	if !ok {
		e.Count = count
		e.FirstCallAt = now
		e.LastCallAt = now
		a.byKey[key] = &e
	} else {
		existing.Count += count
		existing.LastCallAt = now
	}
	a.count += count
}

// Count returns the number of not-yet-flushed occurrences.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// ListEvents returns a serialized snapshot of the current event set without
// clearing it.
func (a *Aggregator) ListEvents() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]map[string]any, 0, len(a.byKey))
	for _, e := range a.byKey {
		out = append(out, e.Serialize(a.granularity))
	}
	return out
}

// Flush drains the aggregator and posts the batch. If posting fails and
// trapExceptions is set, the error is logged and swallowed (spec §4.6);
// otherwise it is returned to the caller.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.count == 0 {
		a.mu.Unlock()
		if a.verbose {
			log.Debug("no events, skipping flush")
		}
		return nil
	}
	batch := make([]map[string]any, 0, len(a.byKey))
	for _, e := range a.byKey {
		batch = append(batch, e.Serialize(a.granularity))
	}
	flushed := a.count
	a.byKey = make(map[string]*Event)
	a.count = 0
	a.mu.Unlock()

	if a.verbose {
		log.Debug("flushing events", "count", flushed)
	}

	if metrics.EventsFlushedTotal != nil {
		metrics.EventsFlushedTotal.Inc()
	}
	err := a.poster.PostEvents(ctx, batch)
	if err != nil {
		if a.trap {
			log.Warn("event flush failed, dropping batch", "err", err)
			return nil
		}
		return err
	}
	if metrics.EventsPostedTotal != nil {
		metrics.EventsPostedTotal.Add(float64(flushed))
	}
	return nil
}
