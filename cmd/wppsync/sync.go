package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/media"
	"github.com/matheus3301/wppsync/internal/pipeline"
	"github.com/matheus3301/wppsync/internal/report"
	"github.com/matheus3301/wppsync/internal/scrape"
	intsync "github.com/matheus3301/wppsync/internal/sync"
)

type syncFlags struct {
	jobs         string
	chat         string
	label        string
	scraped      string
	manifest     string
	report       string
	batchSize    int
	maxBatches   int
	mediaOnly    bool
	resume       bool
	readyTimeout time.Duration
	quiet        bool
}

func cmdSync(ctx context.Context, p app.Params, args []string) int {
	var f syncFlags
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.StringVar(&f.jobs, "jobs", "", "TOML jobs file listing [[conversation]] entries")
	fs.StringVar(&f.chat, "chat", "", "conversation JID to sync")
	fs.StringVar(&f.label, "label", "", "output label for --chat (defaults to the JID)")
	fs.StringVar(&f.scraped, "scraped", "", "scraped transcript JSON for --chat")
	fs.StringVar(&f.manifest, "manifest", "", "manifest path for --chat")
	fs.StringVar(&f.report, "report", "", "report path for --chat")
	fs.IntVar(&f.batchSize, "batch-size", 0, "messages per history request")
	fs.IntVar(&f.maxBatches, "max-batches", 0, "history requests per conversation before giving up")
	fs.BoolVar(&f.mediaOnly, "media-only", false, "keep only media messages")
	fs.BoolVar(&f.resume, "resume", false, "continue from where an incomplete run stopped")
	fs.DurationVar(&f.readyTimeout, "ready-timeout", time.Minute, "how long to wait for the connection")
	fs.BoolVar(&f.quiet, "quiet", false, "do not print progress")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobs, err := buildJobs(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	p.Connect = true
	s, err := start(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.stop()

	if err := s.waitConnected(ctx, f.readyTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if !f.quiet {
		events, unsub := s.bus.Subscribe("", 64)
		defer unsub()
		go printProgress(events)
	}

	opts := pipeline.Options{
		BatchSize:  f.batchSize,
		MaxBatches: f.maxBatches,
		MediaOnly:  f.mediaOnly,
		Resume:     f.resume,
	}
	var reports []*report.SyncReport
	if len(jobs) == 1 {
		opts.ManifestPath = f.manifest
		opts.ReportPath = f.report
		var rep *report.SyncReport
		rep, err = s.runner.RunSync(ctx, jobs[0], opts)
		reports = append(reports, rep)
	} else {
		reports, err = s.runner.RunAll(ctx, jobs, opts)
	}

	for _, rep := range reports {
		if rep != nil {
			printSummary(rep, reportPath(p, rep, f.report, len(jobs)))
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "interrupted; rerun with --resume to continue")
		return 130
	}
	return 0
}

func buildJobs(f syncFlags) ([]pipeline.Job, error) {
	if f.jobs != "" && f.chat != "" {
		return nil, errors.New("use either --jobs or --chat")
	}
	if f.jobs == "" {
		if f.chat == "" {
			return nil, errors.New("--chat or --jobs is required")
		}
		job := pipeline.Job{ConversationID: f.chat, Label: f.label}
		if err := loadScraped(&job, f.scraped); err != nil {
			return nil, err
		}
		return []pipeline.Job{job}, nil
	}

	specs, err := config.LoadJobs(f.jobs)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s lists no conversations", f.jobs)
	}
	jobs := make([]pipeline.Job, len(specs))
	for i, spec := range specs {
		jobs[i] = pipeline.Job{ConversationID: spec.ID, Label: spec.Label}
		if err := loadScraped(&jobs[i], spec.Scraped); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func loadScraped(job *pipeline.Job, path string) error {
	if path == "" {
		return nil
	}
	recs, err := scrape.Load(path)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", job.ConversationID, err)
	}
	job.Scraped = recs
	return nil
}

func reportPath(p app.Params, rep *report.SyncReport, explicit string, jobs int) string {
	if explicit != "" && jobs == 1 {
		return explicit
	}
	return filepath.Join(app.OutputDir(p), rep.Label, pipeline.ReportFile)
}

func printSummary(rep *report.SyncReport, path string) {
	s := rep.Stats
	var byConf []string
	for c, n := range s.ByConfidence {
		byConf = append(byConf, fmt.Sprintf("%s %d", c, n))
	}
	sort.Strings(byConf)

	state := "complete"
	switch {
	case rep.Cancelled:
		state = "cancelled"
	case !rep.Complete:
		state = "incomplete"
	}
	fmt.Printf("%s: %d fetched in %d batches, %d/%d correlated (%s), %d downloaded, %d errors [%s]\n",
		rep.Label, s.Fetched, s.Batches, s.Correlated, s.TotalMessages, strings.Join(byConf, ", "),
		s.Downloaded, s.Errors, state)
	fmt.Printf("  report: %s\n", path)
}

func printProgress(events <-chan bus.Event) {
	for evt := range events {
		switch evt.Kind {
		case "sync.batch_merged":
			if out, ok := evt.Payload.(intsync.Outcome); ok {
				fmt.Fprintf(os.Stderr, "  %s: batch %d, %d messages\n", out.ConversationID, out.Batches, out.Merged)
			}
		case "media.downloaded":
			if e, ok := evt.Payload.(media.ManifestEntry); ok {
				fmt.Fprintf(os.Stderr, "  saved %s (%d bytes)\n", e.FileName, e.ByteSize)
			}
		case "media.failed":
			if m, ok := evt.Payload.(map[string]string); ok {
				fmt.Fprintf(os.Stderr, "  failed %s: %s\n", m["msg_id"], m["error"])
			}
		case "wa.disconnected":
			fmt.Fprintln(os.Stderr, "  connection lost, waiting for reconnect")
		}
	}
}
