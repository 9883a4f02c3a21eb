// Package report joins scraped records, correlation outcomes and the media
// manifest into the enriched per-conversation sync report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wppsync/internal/correlate"
	"github.com/matheus3301/wppsync/internal/media"
	"github.com/matheus3301/wppsync/internal/scrape"
)

// Correlation is the per-entry view of a correlation result.
type Correlation struct {
	MessageID  string               `json:"message_id,omitempty"`
	Confidence correlate.Confidence `json:"confidence"`
}

// Entry is a scraped record enriched with its match and downloaded media.
// DownloadedMedia is nil when nothing was matched or acquisition failed.
type Entry struct {
	scrape.Record
	Correlation     Correlation          `json:"correlation"`
	DownloadedMedia *media.ManifestEntry `json:"downloaded_media"`
}

// Stats are the run statistics of one conversation.
type Stats struct {
	TotalMessages int                          `json:"total_messages"`
	Correlated    int                          `json:"correlated"`
	Downloaded    int                          `json:"downloaded"`
	Errors        int                          `json:"errors"`
	Fetched       int                          `json:"fetched"`
	Batches       int                          `json:"batches"`
	ByConfidence  map[correlate.Confidence]int `json:"by_confidence"`
}

// Counters carries the tallies kept by the fetch loop and the acquirer.
type Counters struct {
	Fetched        int
	Batches        int
	FetchErrors    int
	Downloaded     int
	DownloadErrors int
	// PersistErrors counts failed mirror or artifact writes.
	PersistErrors int
}

// SyncReport is the serializable result of a conversation sync.
type SyncReport struct {
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id"`
	Label          string    `json:"label"`
	GeneratedAt    time.Time `json:"generated_at"`
	// Complete is false when the fetch loop stopped before the end of history.
	Complete  bool    `json:"complete"`
	Cancelled bool    `json:"cancelled"`
	Entries   []Entry `json:"entries"`
	Stats     Stats   `json:"stats"`
}

// Generate builds the report body. results must be aligned with scraped,
// one result per record in the same order.
func Generate(scraped []scrape.Record, results []correlate.Result, manifest []media.ManifestEntry, c Counters) (*SyncReport, error) {
	if len(results) != len(scraped) {
		return nil, fmt.Errorf("generate report: %d results for %d scraped records", len(results), len(scraped))
	}

	byMessage := make(map[string]*media.ManifestEntry, len(manifest))
	for i := range manifest {
		byMessage[manifest[i].SourceMessageID] = &manifest[i]
	}

	summary := correlate.Summarize(results)
	rep := &SyncReport{
		GeneratedAt: time.Now().UTC(),
		Entries:     make([]Entry, len(scraped)),
		Stats: Stats{
			TotalMessages: len(scraped),
			Correlated:    summary.Correlated,
			Downloaded:    c.Downloaded,
			Errors:        c.FetchErrors + c.DownloadErrors + c.PersistErrors,
			Fetched:       c.Fetched,
			Batches:       c.Batches,
			ByConfidence:  summary.ByConfidence,
		},
	}

	for i, rec := range scraped {
		res := results[i]
		e := Entry{
			Record:      rec,
			Correlation: Correlation{Confidence: res.Confidence},
		}
		if res.Matched != nil {
			e.Correlation.MessageID = res.Matched.MessageID
			if m, ok := byMessage[res.Matched.MessageID]; ok {
				cp := *m
				e.DownloadedMedia = &cp
			}
		}
		rep.Entries[i] = e
	}
	return rep, nil
}

// Write stores the report as indented JSON at path.
func Write(path string, r *SyncReport) error {
	return media.WriteJSONFile(path, r)
}

// Read loads a report written by Write.
func Read(path string) (*SyncReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r SyncReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
