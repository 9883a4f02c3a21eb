// Package correlate pairs scraped transcript records with the fetched
// records they most likely correspond to. The two sources share no key, so
// matching runs an ordered chain of heuristics and tags each pairing with
// the strategy that produced it.
package correlate

import (
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/wppsync/internal/scrape"
	"github.com/matheus3301/wppsync/internal/store"
	"go.uber.org/zap"
)

// Confidence names the strategy that produced a match.
type Confidence string

const (
	ConfidenceTimestamp Confidence = "timestamp"
	ConfidenceContent   Confidence = "content"
	ConfidencePosition  Confidence = "position"
	ConfidenceNone      Confidence = "none"
)

// Result is the correlation outcome for one scraped record. Matched is nil
// exactly when Confidence is ConfidenceNone.
type Result struct {
	Scraped    scrape.Record        `json:"scraped"`
	Matched    *store.FetchedRecord `json:"matched,omitempty"`
	Confidence Confidence           `json:"confidence"`
}

// Options tunes the strategy chain.
type Options struct {
	// Window is the exclusive bound on |fetched - scraped| for timestamp matches.
	Window time.Duration
	// MinContentLen is the content length (in runes) that must be exceeded
	// before content containment is tried.
	MinContentLen int
	// PrefixLen is how many leading runes of the content must appear in the caption.
	PrefixLen int
}

// DefaultOptions returns the standard matching thresholds.
func DefaultOptions() Options {
	return Options{Window: 60 * time.Second, MinContentLen: 10, PrefixLen: 20}
}

// Correlator runs the strategy chain.
type Correlator struct {
	opts   Options
	logger *zap.Logger
}

// New creates a correlator. Zero option fields take their defaults.
func New(opts Options, logger *zap.Logger) *Correlator {
	d := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = d.Window
	}
	if opts.MinContentLen <= 0 {
		opts.MinContentLen = d.MinContentLen
	}
	if opts.PrefixLen <= 0 {
		opts.PrefixLen = d.PrefixLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{opts: opts, logger: logger}
}

// Correlate returns one result per scraped record, in input order. fetched
// must be in store order. Only media-bearing fetched records are candidates.
//
// Timestamp and content matches may select the same fetched record for
// several scraped records. Positional matches are 1:1.
func (c *Correlator) Correlate(scraped []scrape.Record, fetched []store.FetchedRecord) []Result {
	media := make([]store.FetchedRecord, 0, len(fetched))
	for _, f := range fetched {
		if f.IsMedia() {
			media = append(media, f)
		}
	}

	ordinals := mediaOrdinals(scraped)
	usedByPosition := make([]bool, len(media))

	results := make([]Result, len(scraped))
	for i, s := range scraped {
		results[i] = Result{Scraped: s, Confidence: ConfidenceNone}
		if !s.IsMediaBearing() {
			continue
		}

		if j := c.byTimestamp(s, media); j >= 0 {
			results[i].Matched = clone(media[j])
			results[i].Confidence = ConfidenceTimestamp
			continue
		}
		if j := c.byContent(s, media); j >= 0 {
			results[i].Matched = clone(media[j])
			results[i].Confidence = ConfidenceContent
			continue
		}
		// Assumes both sources enumerate media in the same relative order;
		// a message dropped by either side shifts every later pairing.
		if ord, ok := ordinals[i]; ok && ord < len(media) && !usedByPosition[ord] {
			usedByPosition[ord] = true
			results[i].Matched = clone(media[ord])
			results[i].Confidence = ConfidencePosition
		}
	}

	c.logger.Debug("correlation finished",
		zap.Int("scraped", len(scraped)),
		zap.Int("media_candidates", len(media)),
		zap.Int("matched", Summarize(results).Correlated))
	return results
}

func (c *Correlator) byTimestamp(s scrape.Record, media []store.FetchedRecord) int {
	if s.Timestamp == nil {
		return -1
	}
	window := int64(c.opts.Window / time.Second)
	best, bestDiff := -1, int64(0)
	for j, f := range media {
		if f.Timestamp == 0 {
			continue
		}
		diff := f.Timestamp - *s.Timestamp
		if diff < 0 {
			diff = -diff
		}
		if diff >= window {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = j, diff
		}
	}
	return best
}

func (c *Correlator) byContent(s scrape.Record, media []store.FetchedRecord) int {
	runes := []rune(s.Content)
	if len(runes) <= c.opts.MinContentLen {
		return -1
	}
	prefix := string(runes[:min(len(runes), c.opts.PrefixLen)])
	for j, f := range media {
		if !kindMatches(s.Kind, f.Kind) {
			continue
		}
		if strings.Contains(f.Caption(), prefix) {
			return j
		}
	}
	return -1
}

// kindMatches requires the same media kind when the scraped record declares
// one; a record that only carries media refs accepts any media kind.
func kindMatches(scraped, fetched store.Kind) bool {
	if !scraped.IsMedia() {
		return true
	}
	return scraped == fetched
}

// mediaOrdinals maps the input index of each media-bearing scraped record to
// its rank among media-bearing records ordered by sequence index.
func mediaOrdinals(scraped []scrape.Record) map[int]int {
	var idx []int
	for i := range scraped {
		if scraped[i].IsMediaBearing() {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scraped[idx[a]].SequenceIndex < scraped[idx[b]].SequenceIndex
	})
	out := make(map[int]int, len(idx))
	for ord, i := range idx {
		out[i] = ord
	}
	return out
}

func clone(r store.FetchedRecord) *store.FetchedRecord {
	return &r
}

// Summary counts results per confidence level.
type Summary struct {
	Correlated   int                `json:"correlated"`
	ByConfidence map[Confidence]int `json:"by_confidence"`
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	s := Summary{ByConfidence: make(map[Confidence]int)}
	for _, r := range results {
		s.ByConfidence[r.Confidence]++
		if r.Matched != nil {
			s.Correlated++
		}
	}
	return s
}
