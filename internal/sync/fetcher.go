package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize    = 50
	DefaultMaxBatches   = 20
	DefaultBatchDelay   = 400 * time.Millisecond
	DefaultFetchTimeout = 30 * time.Second
	DefaultFetchRetries = 3
)

// HistorySource is the remote paginated history capability.
// Implementations return records in the order they page through history;
// the last record of a batch anchors the next call.
type HistorySource interface {
	FetchHistory(ctx context.Context, conversationID string, cursor *Cursor, count int) ([]store.FetchedRecord, error)
}

// Merger receives fetched batches. *store.Store implements it.
type Merger interface {
	Merge(conversationID string, records []store.FetchedRecord) []store.FetchedRecord
}

// Options tunes the fetch loop.
type Options struct {
	BatchSize  int
	MaxBatches int
	// MediaOnly drops non-media records before they reach the Merger.
	MediaOnly    bool
	FetchTimeout time.Duration
	// FetchRetries is the number of attempts per batch, including the first.
	FetchRetries int
	RetryBackoff time.Duration
}

// DefaultOptions returns the standard fetch options.
func DefaultOptions() Options {
	return Options{
		BatchSize:    DefaultBatchSize,
		MaxBatches:   DefaultMaxBatches,
		FetchTimeout: DefaultFetchTimeout,
		FetchRetries: DefaultFetchRetries,
		RetryBackoff: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxBatches <= 0 {
		o.MaxBatches = d.MaxBatches
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	if o.FetchRetries <= 0 {
		o.FetchRetries = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	return o
}

// Batch is the result of one page fetch.
type Batch struct {
	Records []store.FetchedRecord
	Next    *Cursor
	HasMore bool
}

// Outcome summarizes one conversation's fetch loop.
type Outcome struct {
	ConversationID string
	Cursor         *Cursor
	HasMore        bool
	// Batches counts successful remote calls, including a final empty one.
	Batches    int
	Fetched    int
	Merged     int
	CapReached bool
	Cancelled  bool
	Err        error
}

// Fetcher drives batched retrieval of a conversation's remote history.
type Fetcher struct {
	source      HistorySource
	pacer       Pacer
	checkpoints Checkpointer
	bus         *bus.Bus
	logger      *zap.Logger
	opts        Options
}

// NewFetcher creates a fetcher. A nil pacer means no delay between batches.
func NewFetcher(source HistorySource, pacer Pacer, opts Options, b *bus.Bus, logger *zap.Logger) *Fetcher {
	if pacer == nil {
		pacer = NoDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		source: source,
		pacer:  pacer,
		bus:    b,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// WithCheckpoints makes the fetcher persist the cursor after every merged batch.
func (f *Fetcher) WithCheckpoints(c Checkpointer) *Fetcher {
	f.checkpoints = c
	return f
}

// Options returns the effective options.
func (f *Fetcher) Options() Options {
	return f.opts
}

// FetchBatch fetches one page of history after cursor. The remote call is
// shielded from cancellation of ctx so an in-flight batch completes; it is
// bounded by the fetch timeout instead. Retries only happen while ctx is live.
func (f *Fetcher) FetchBatch(ctx context.Context, conversationID string, cursor *Cursor, batchSize int) (Batch, error) {
	if batchSize <= 0 {
		batchSize = f.opts.BatchSize
	}

	op := func() ([]store.FetchedRecord, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.FetchTimeout)
		defer cancel()
		return f.source.FetchHistory(callCtx, conversationID, cursor, batchSize)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.RetryBackoff
	records, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.opts.FetchRetries)),
	)
	if err != nil {
		return Batch{Next: cursor, HasMore: true}, err
	}

	if len(records) == 0 {
		return Batch{Next: cursor, HasMore: false}, nil
	}
	return Batch{
		Records: records,
		Next:    cursor.Advance(conversationID, records[len(records)-1]),
		HasMore: true,
	}, nil
}

// Run pages through history starting at start (nil for the beginning) and
// merges every batch into dst. It never returns an error: failures are
// recorded in Outcome.Err and everything merged before them stays merged.
func (f *Fetcher) Run(ctx context.Context, conversationID string, start *Cursor, dst Merger) Outcome {
	out := Outcome{ConversationID: conversationID, Cursor: start, HasMore: true}
	log := f.logger.With(zap.String("conversation", conversationID))

	seen := make(map[string]bool)
	if start != nil {
		seen[start.LastMessageID] = true
	}
	cursor := start

	for out.Batches < f.opts.MaxBatches {
		if out.Batches > 0 {
			if err := f.pacer.Wait(ctx); err != nil {
				out.Cancelled = ctx.Err() != nil
				if !out.Cancelled {
					out.Err = fmt.Errorf("pace: %w", err)
				}
				break
			}
		}
		if ctx.Err() != nil {
			out.Cancelled = true
			break
		}

		batch, err := f.FetchBatch(ctx, conversationID, cursor, f.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				out.Cancelled = true
				break
			}
			out.Err = &TransientFetchError{ConversationID: conversationID, Batch: out.Batches + 1, Err: err}
			log.Error("history fetch failed", zap.Error(err), zap.Int("batch", out.Batches+1))
			f.publish("sync.fetch_failed", out)
			break
		}
		out.Batches++

		if len(batch.Records) == 0 {
			out.HasMore = false
			break
		}

		last := batch.Next.LastMessageID
		if seen[last] {
			out.Err = fmt.Errorf("%w: batch %d ended on %q again", ErrCursorStalled, out.Batches, last)
			log.Warn("history cursor stalled", zap.String("msg_id", last))
			f.publish("sync.fetch_failed", out)
			break
		}
		seen[last] = true

		records := batch.Records
		if f.opts.MediaOnly {
			records = mediaOnly(records)
		}
		inserted := dst.Merge(conversationID, records)
		out.Fetched += len(batch.Records)
		out.Merged += len(inserted)
		cursor = batch.Next
		out.Cursor = cursor

		if f.checkpoints != nil {
			if err := f.checkpoints.SaveCursor(cursor); err != nil {
				log.Warn("failed to save cursor checkpoint", zap.Error(err))
			}
		}

		log.Debug("history batch merged",
			zap.Int("batch", out.Batches),
			zap.Int("fetched", len(batch.Records)),
			zap.Int("merged", len(inserted)))
		f.publish("sync.batch_merged", out)
	}

	if out.HasMore && out.Err == nil && !out.Cancelled && out.Batches >= f.opts.MaxBatches {
		out.CapReached = true
		log.Warn("history fetch stopped at safety cap; sync is incomplete",
			zap.Int("max_batches", f.opts.MaxBatches))
	}

	log.Info("history fetch finished",
		zap.Int("batches", out.Batches),
		zap.Int("fetched", out.Fetched),
		zap.Int("merged", out.Merged),
		zap.Bool("has_more", out.HasMore),
		zap.Bool("cancelled", out.Cancelled))
	f.publish("sync.fetch_completed", out)
	return out
}

func (f *Fetcher) publish(kind string, out Outcome) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: out})
}

func mediaOnly(records []store.FetchedRecord) []store.FetchedRecord {
	out := make([]store.FetchedRecord, 0, len(records))
	for _, r := range records {
		if r.IsMedia() {
			out = append(out, r)
		}
	}
	return out
}
