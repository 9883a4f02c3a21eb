// Package pipeline runs a conversation sync end to end: fetch history,
// correlate it with the scraped transcript, acquire media and persist the
// manifest and report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/correlate"
	"github.com/matheus3301/wppsync/internal/media"
	"github.com/matheus3301/wppsync/internal/report"
	"github.com/matheus3301/wppsync/internal/scrape"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"go.uber.org/zap"
)

const (
	ManifestFile = "manifest.json"
	ReportFile   = "report.json"
)

// ErrInvalidJob is returned for jobs that cannot be run at all.
var ErrInvalidJob = errors.New("invalid sync job")

// Job is one conversation to sync.
type Job struct {
	ConversationID string
	// Label names the output directory and prefixes media file names.
	// Defaults to the conversation id.
	Label   string
	Scraped []scrape.Record
}

// Options are the per-run knobs. Zero values fall back to the runner's
// fetch options.
type Options struct {
	BatchSize  int
	MaxBatches int
	MediaOnly  bool
	// ManifestPath and ReportPath default to <output>/<label>/manifest.json
	// and <output>/<label>/report.json.
	ManifestPath string
	ReportPath   string
	// Resume starts from the stored cursor and the mirrored records of a
	// previous incomplete run. Needs a database.
	Resume bool
}

// Runner wires the sync components together.
type Runner struct {
	source      intsync.HistorySource
	pacer       intsync.Pacer
	fetchOpts   intsync.Options
	correlator  *correlate.Correlator
	acquirer    *media.Acquirer
	db          *store.DB
	checkpoints intsync.Checkpointer
	outputDir   string
	concurrency int
	bus         *bus.Bus
	logger      *zap.Logger
	newRunID    func() string
}

// NewRunner creates a runner that writes artifacts under the working
// directory until WithOutputDir is called.
func NewRunner(source intsync.HistorySource, pacer intsync.Pacer, fetchOpts intsync.Options, c *correlate.Correlator, a *media.Acquirer, b *bus.Bus, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = correlate.New(correlate.Options{}, logger)
	}
	return &Runner{
		source:      source,
		pacer:       pacer,
		fetchOpts:   fetchOpts,
		correlator:  c,
		acquirer:    a,
		outputDir:   ".",
		concurrency: 1,
		bus:         b,
		logger:      logger,
		newRunID:    uuid.NewString,
	}
}

// WithDB mirrors fetched records and manifest rows into db and stores
// resumable cursors in it.
func (r *Runner) WithDB(db *store.DB) *Runner {
	r.db = db
	if db != nil {
		r.checkpoints = intsync.NewDBCheckpointer(db)
	}
	return r
}

// WithOutputDir sets the root of the default artifact paths.
func (r *Runner) WithOutputDir(dir string) *Runner {
	if dir != "" {
		r.outputDir = dir
	}
	return r
}

// WithConcurrency sets how many conversations RunAll syncs at once.
func (r *Runner) WithConcurrency(n int) *Runner {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

// RunSync syncs one conversation. Expected failures end up in the report
// statistics. The report is returned even when writing an artifact fails;
// the error then wraps a *media.PersistenceError. Only a job without a
// conversation id fails outright.
func (r *Runner) RunSync(ctx context.Context, job Job, opts Options) (*report.SyncReport, error) {
	if job.ConversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrInvalidJob)
	}
	label := media.SanitizeLabel(job.Label)
	if job.Label == "" {
		label = media.SanitizeLabel(job.ConversationID)
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(r.outputDir, label, ManifestFile)
	}
	reportPath := opts.ReportPath
	if reportPath == "" {
		reportPath = filepath.Join(r.outputDir, label, ReportFile)
	}

	started := time.Now()
	runID := r.newRunID()
	log := r.logger.With(
		zap.String("run_id", runID),
		zap.String("conversation", job.ConversationID),
		zap.String("label", label))
	log.Info("sync started", zap.Int("scraped", len(job.Scraped)), zap.Bool("resume", opts.Resume))
	r.publish("pipeline.started", map[string]string{"run_id": runID, "conversation": job.ConversationID, "label": label})

	var counters report.Counters
	st := store.New()
	mirror := &mirrorMerger{store: st, db: r.db, logger: log}

	start := r.resumePoint(job.ConversationID, opts.Resume, st, log)

	fetchOpts := r.fetchOpts
	if opts.BatchSize > 0 {
		fetchOpts.BatchSize = opts.BatchSize
	}
	if opts.MaxBatches > 0 {
		fetchOpts.MaxBatches = opts.MaxBatches
	}
	fetchOpts.MediaOnly = fetchOpts.MediaOnly || opts.MediaOnly

	fetcher := intsync.NewFetcher(r.source, r.pacer, fetchOpts, r.bus, log)
	if r.checkpoints != nil {
		fetcher.WithCheckpoints(r.checkpoints)
	}
	fetched := fetcher.Run(ctx, job.ConversationID, start, mirror)
	counters.Fetched = fetched.Fetched
	counters.Batches = fetched.Batches
	if fetched.Err != nil {
		counters.FetchErrors++
	}
	counters.PersistErrors += mirror.errors

	results := r.correlator.Correlate(job.Scraped, st.All(job.ConversationID))

	var acquired media.Outcome
	if r.acquirer != nil {
		acquired = r.acquirer.AcquireAll(ctx, results, label)
	}
	counters.Downloaded = acquired.Downloaded
	counters.DownloadErrors = acquired.Errors

	var persistErrs []error
	if err := media.WriteManifest(manifestPath, acquired.Entries); err != nil {
		log.Error("failed to write manifest", zap.String("path", manifestPath), zap.Error(err))
		persistErrs = append(persistErrs, err)
		counters.PersistErrors++
	}
	if err := r.mirrorManifest(runID, job.ConversationID, acquired.Entries); err != nil {
		log.Warn("failed to mirror manifest", zap.Error(err))
		counters.PersistErrors++
	}

	rep, err := report.Generate(job.Scraped, results, acquired.Entries, counters)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	rep.RunID = runID
	rep.ConversationID = job.ConversationID
	rep.Label = label
	rep.Complete = !fetched.HasMore && fetched.Err == nil
	rep.Cancelled = fetched.Cancelled || acquired.Cancelled

	if rep.Complete && r.checkpoints != nil {
		if err := r.checkpoints.ClearCursor(job.ConversationID); err != nil {
			log.Warn("failed to clear cursor checkpoint", zap.Error(err))
		}
	}

	if err := report.Write(reportPath, rep); err != nil {
		log.Error("failed to write report", zap.String("path", reportPath), zap.Error(err))
		persistErrs = append(persistErrs, err)
		rep.Stats.Errors++
	}

	log.Info("sync finished",
		zap.Bool("complete", rep.Complete),
		zap.Bool("cancelled", rep.Cancelled),
		zap.Int("correlated", rep.Stats.Correlated),
		zap.Int("downloaded", rep.Stats.Downloaded),
		zap.Int("errors", rep.Stats.Errors),
		zap.Duration("elapsed", time.Since(started)))
	r.publish("pipeline.completed", rep.Stats)

	return rep, errors.Join(persistErrs...)
}

// resumePoint loads the stored cursor and refills st with the records a
// previous run mirrored. It returns nil to start from the newest message.
func (r *Runner) resumePoint(conversationID string, resume bool, st *store.Store, log *zap.Logger) *intsync.Cursor {
	if !resume {
		return nil
	}
	if r.checkpoints == nil || r.db == nil {
		log.Warn("resume requested without a database; starting from the newest message")
		return nil
	}
	cur, err := r.checkpoints.LoadCursor(conversationID)
	if err != nil {
		log.Warn("failed to load cursor checkpoint", zap.Error(err))
		return nil
	}
	if cur == nil {
		return nil
	}
	batches, err := r.db.ListFetched(conversationID)
	if err != nil {
		log.Warn("failed to load mirrored records", zap.Error(err))
		return nil
	}
	restored := 0
	for _, batch := range batches {
		restored += len(st.Merge(conversationID, batch))
	}
	log.Info("resuming sync",
		zap.String("after", cur.LastMessageID),
		zap.Int("batches_consumed", cur.BatchesConsumed),
		zap.Int("restored", restored))
	return cur
}

func (r *Runner) mirrorManifest(runID, conversationID string, entries []media.ManifestEntry) error {
	if r.db == nil || len(entries) == 0 {
		return nil
	}
	rows := make([]store.ManifestRow, len(entries))
	for i, e := range entries {
		rows[i] = store.ManifestRow{
			RunID:           runID,
			ConversationID:  conversationID,
			FileName:        e.FileName,
			StoragePath:     e.StoragePath,
			SourceMessageID: e.SourceMessageID,
			MimeType:        e.MimeType,
			ByteSize:        e.ByteSize,
			DownloadedAt:    e.DownloadedAt.UnixMilli(),
		}
	}
	return r.db.RecordManifest(rows)
}

func (r *Runner) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// mirrorMerger merges into the in-memory store and copies every newly
// inserted record into the database.
type mirrorMerger struct {
	store  *store.Store
	db     *store.DB
	logger *zap.Logger
	errors int
}

func (m *mirrorMerger) Merge(conversationID string, records []store.FetchedRecord) []store.FetchedRecord {
	inserted := m.store.Merge(conversationID, records)
	if m.db == nil || len(inserted) == 0 {
		return inserted
	}
	if _, err := m.db.UpsertFetched(inserted); err != nil {
		m.errors++
		m.logger.Warn("failed to mirror fetched records", zap.Int("count", len(inserted)), zap.Error(err))
	}
	return inserted
}
