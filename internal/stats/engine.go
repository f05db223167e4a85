// Package stats implements StatsEngine (§4.I) and StatsBootstrap (§4.J):
// event/transaction ingestion into per-row aggregates and a heatmap, and a
// read surface assembling a summary report from them.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
	"github.com/arbengine/arbengine/internal/utils"
)

// maxRetries is the optimistic-concurrency retry ceiling before a conflicted
// update is dropped for that event (§4.I, §5, §7: "never fatal").
const maxRetries = 5

// retryBaseDelay is the §5 backoff formula's base: 10·2ⁿ ms.
const retryBaseDelay = 10 * time.Millisecond

// Engine is the StatsEngine: it owns the events, stats (aggregates +
// heatmap) databases and consumes bus.EventCh / bus.TransactionCh
// concurrently (§4.I, §9: "each StatsEngine processor acquires a short-lived
// transaction/connection per event; the engine owns no long-lived DB
// handle" — here that means every call opens its own statement against the
// shared *sql.DB pool rather than holding a dedicated connection).
type Engine struct {
	eventsDB *sql.DB
	statsDB  *sql.DB
	ledgerDB *sql.DB
	bus      *bus.Bus
	log      zerolog.Logger
}

// New builds an Engine over the given database handles.
func New(eventsDB, statsDB, ledgerDB *sql.DB, b *bus.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		eventsDB: eventsDB,
		statsDB:  statsDB,
		ledgerDB: ledgerDB,
		bus:      b,
		log:      log.With().Str("component", "stats_engine").Logger(),
	}
}

// Run consumes EventCh and TransactionCh concurrently until ctx is
// cancelled or both channels close.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.consumeEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		e.consumeTransactions(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-e.bus.EventCh:
			if !ok {
				return
			}
			e.ProcessEvent(ctx, event)
		}
	}
}

func (e *Engine) consumeTransactions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case txn, ok := <-e.bus.TransactionCh:
			if !ok {
				return
			}
			if err := insertTransaction(ctx, e.ledgerDB, txn); err != nil {
				e.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("failed to persist transaction")
			}
		}
	}
}

// ProcessEvent normalizes event and fans out to persistence, heatmap and
// aggregate processors in parallel (§4.I). Each processor is independently
// idempotent; a cancellation is respected at entry and propagated.
func (e *Engine) ProcessEvent(ctx context.Context, event model.ArbitrageEvent) {
	defer utils.OperationTimer("stats_process_event", e.log)()
	event.Timestamp = event.Timestamp.UTC()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if ctx.Err() != nil {
			return
		}
		if err := insertEvent(ctx, e.eventsDB, event); err != nil {
			e.log.Error().Err(err).Str("event_id", event.ID).Msg("failed to persist event")
		}
	}()

	go func() {
		defer wg.Done()
		if ctx.Err() != nil {
			return
		}
		if err := e.upsertHeatmapWithRetry(ctx, event); err != nil {
			e.log.Warn().Err(err).Str("event_id", event.ID).Msg("heatmap upsert dropped after retries")
		}
	}()

	go func() {
		defer wg.Done()
		if ctx.Err() != nil {
			return
		}
		for _, key := range categoryKeys(event) {
			if err := e.upsertAggregateWithRetry(ctx, key.category, key.key, event); err != nil {
				e.log.Warn().Err(err).Str("event_id", event.ID).Str("category_key", key.key).Msg("aggregate upsert dropped after retries")
			}
		}
	}()

	wg.Wait()
}

type categoryKey struct {
	category model.MetricCategory
	key      string
}

func categoryKeys(event model.ArbitrageEvent) []categoryKey {
	return []categoryKey{
		{model.CategoryPair, event.Pair},
		{model.CategoryHour, heatmapID(event)},
		{model.CategoryDay, dayLong(event.DayOfWeek)},
		{model.CategoryDirection, event.Direction},
		{model.CategoryGlobal, model.GlobalKey},
	}
}

func heatmapID(event model.ArbitrageEvent) string {
	return fmt.Sprintf("%s-%02d", event.DayOfWeek, event.Hour)
}

var dayLongNames = map[string]string{
	"Mon": "Monday", "Tue": "Tuesday", "Wed": "Wednesday", "Thu": "Thursday",
	"Fri": "Friday", "Sat": "Saturday", "Sun": "Sunday",
}

func dayLong(short string) string {
	if long, ok := dayLongNames[short]; ok {
		return long
	}
	return short
}

// withRetry retries fn up to maxRetries times with the §5 exponential
// backoff (10·2ⁿ ms) whenever fn returns errConflict.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if err != errConflict {
			return err
		}
		delay := retryBaseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
