package scrape

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/wppsync/internal/store"
)

func TestParseValidTranscript(t *testing.T) {
	data := []byte(`[
		{"sequence_index": 0, "content": "hi", "kind": "text", "is_outbound": true, "timestamp": 900},
		{"sequence_index": 1, "content": "look at this", "kind": "image", "timestamp": 1000,
		 "media_refs": ["blob:https://web/1"], "quoted_ref": "m0", "extra": {"author": "alice"}},
		{"sequence_index": 2, "content": "", "kind": "video", "timestamp": null}
	]`)

	recs, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[1].Timestamp == nil || *recs[1].Timestamp != 1000 {
		t.Errorf("timestamp = %v, want 1000", recs[1].Timestamp)
	}
	if recs[2].Timestamp != nil {
		t.Errorf("null timestamp decoded as %v", *recs[2].Timestamp)
	}
	if recs[1].QuotedRef == nil || *recs[1].QuotedRef != "m0" {
		t.Errorf("quoted_ref = %v", recs[1].QuotedRef)
	}
	if recs[1].Extra["author"] != "alice" {
		t.Errorf("extra = %v", recs[1].Extra)
	}
	if !recs[0].IsOutbound || recs[1].Kind != store.KindImage {
		t.Errorf("fields not decoded: %+v", recs[:2])
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an array", `{"sequence_index": 0, "kind": "text"}`},
		{"missing kind", `[{"sequence_index": 0}]`},
		{"unknown kind", `[{"sequence_index": 0, "kind": "hologram"}]`},
		{"negative index", `[{"sequence_index": -1, "kind": "text"}]`},
		{"string timestamp", `[{"sequence_index": 0, "kind": "text", "timestamp": "noon"}]`},
		{"malformed json", `[{"sequence_index": 0,`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Errorf("Parse(%s) expected error", tt.data)
			}
		})
	}
}

func TestIsMediaBearing(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"text", Record{Kind: store.KindText}, false},
		{"text with media ref", Record{Kind: store.KindText, MediaRefs: []string{"u"}}, true},
		{"image", Record{Kind: store.KindImage}, true},
		{"video", Record{Kind: store.KindVideo}, true},
		{"location", Record{Kind: store.KindLocation}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.IsMediaBearing(); got != tt.want {
				t.Errorf("IsMediaBearing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte(`[{"sequence_index": 3, "kind": "text", "content": "x"}]`), 0600); err != nil {
		t.Fatal(err)
	}
	recs, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SequenceIndex != 3 {
		t.Errorf("got %+v", recs)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "read transcript") {
		t.Errorf("missing file err = %v", err)
	}
}
