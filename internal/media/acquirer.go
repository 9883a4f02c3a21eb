// Package media downloads the payloads of correlated messages, stores them
// under stable file names and keeps the manifest of what was acquired.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/correlate"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"go.uber.org/zap"
)

const (
	DefaultDownloadDelay   = 300 * time.Millisecond
	DefaultDownloadTimeout = 60 * time.Second
)

// Downloader is the remote payload capability. A nil or empty result means
// the payload is unavailable.
type Downloader interface {
	DownloadPayload(ctx context.Context, rawPayloadRef []byte) ([]byte, error)
}

// Outcome summarizes an acquisition pass over one conversation.
type Outcome struct {
	Entries    []ManifestEntry
	Attempted  int
	Downloaded int
	Errors     int
	Cancelled  bool
}

// Acquirer downloads and persists media for correlated results, one at a
// time. Acquisitions of a conversation are sequential so the manifest list
// has a single writer.
type Acquirer struct {
	downloader Downloader
	sink       Sink
	pacer      intsync.Pacer
	timeout    time.Duration
	bus        *bus.Bus
	logger     *zap.Logger
	now        func() time.Time
}

// NewAcquirer creates an acquirer. A nil pacer means no delay between downloads.
func NewAcquirer(d Downloader, sink Sink, pacer intsync.Pacer, timeout time.Duration, b *bus.Bus, logger *zap.Logger) *Acquirer {
	if pacer == nil {
		pacer = intsync.NoDelay
	}
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		downloader: d,
		sink:       sink,
		pacer:      pacer,
		timeout:    timeout,
		bus:        b,
		logger:     logger,
		now:        time.Now,
	}
}

// Acquire downloads the payload of res.Matched and persists it under label.
// It does not retry.
func (a *Acquirer) Acquire(ctx context.Context, res correlate.Result, label string) (*ManifestEntry, error) {
	m := res.Matched
	if m == nil {
		return nil, ErrNotCorrelated
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	data, err := a.downloader.DownloadPayload(callCtx, m.RawPayloadRef)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", m.MessageID, err)
	}
	if len(data) == 0 {
		return nil, &EmptyPayloadError{MessageID: m.MessageID}
	}

	name := FileName(label, m.Timestamp, m.MessageID, m.MimeType())
	storagePath, err := a.sink.Put(ctx, label, name, data)
	if err != nil {
		return nil, &PersistenceError{Path: name, Err: err}
	}

	return &ManifestEntry{
		FileName:        name,
		StoragePath:     storagePath,
		SourceMessageID: m.MessageID,
		MimeType:        m.MimeType(),
		Caption:         m.Caption(),
		ByteSize:        int64(len(data)),
		DownloadedAt:    a.now().UTC(),
	}, nil
}

// AcquireAll runs Acquire for every matched result in order. A fetched
// message matched by several results is downloaded once; later results
// share its manifest entry. Failures are counted and skipped. On
// cancellation it stops before the next download and returns what was
// acquired so far.
func (a *Acquirer) AcquireAll(ctx context.Context, results []correlate.Result, label string) Outcome {
	var out Outcome
	log := a.logger.With(zap.String("label", label))
	attempted := make(map[string]struct{})

	for _, res := range results {
		if res.Matched == nil {
			continue
		}
		if _, dup := attempted[res.Matched.MessageID]; dup {
			continue
		}
		if out.Attempted > 0 {
			if err := a.pacer.Wait(ctx); err != nil {
				out.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			out.Cancelled = true
			break
		}

		out.Attempted++
		attempted[res.Matched.MessageID] = struct{}{}
		entry, err := a.Acquire(ctx, res, label)
		if err != nil {
			out.Errors++
			log.Warn("media acquisition failed",
				zap.String("msg_id", res.Matched.MessageID),
				zap.String("confidence", string(res.Confidence)),
				zap.Error(err))
			a.publish("media.failed", map[string]string{
				"label":  label,
				"msg_id": res.Matched.MessageID,
				"error":  err.Error(),
			})
			continue
		}

		out.Downloaded++
		out.Entries = append(out.Entries, *entry)
		log.Info("media downloaded",
			zap.String("msg_id", entry.SourceMessageID),
			zap.String("file", entry.FileName),
			zap.Int64("bytes", entry.ByteSize))
		a.publish("media.downloaded", *entry)
	}
	return out
}

func (a *Acquirer) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
