package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ids(recs []FetchedRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.MessageID
	}
	return out
}

func TestMergeIdempotent(t *testing.T) {
	s := New()
	batch := []FetchedRecord{
		{MessageID: "m2", Timestamp: 2000},
		{MessageID: "m1", Timestamp: 1000},
	}

	first := s.Merge("chat", batch)
	if len(first) != 2 {
		t.Fatalf("first merge inserted %d, want 2", len(first))
	}
	once := s.All("chat")

	second := s.Merge("chat", batch)
	if len(second) != 0 {
		t.Errorf("second merge inserted %d, want 0", len(second))
	}
	if twice := s.All("chat"); !reflect.DeepEqual(once, twice) {
		t.Errorf("All() changed after duplicate merge:\n%v\n%v", once, twice)
	}
}

func TestMergeSortsByTimestamp(t *testing.T) {
	s := New()
	s.Merge("chat", []FetchedRecord{
		{MessageID: "c", Timestamp: 3000},
		{MessageID: "a", Timestamp: 1000},
	})
	s.Merge("chat", []FetchedRecord{
		{MessageID: "b", Timestamp: 2000},
		{MessageID: "d", Timestamp: 500},
	})

	got := ids(s.All("chat"))
	want := []string{"d", "a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	all := s.All("chat")
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp < all[i-1].Timestamp {
			t.Fatalf("not monotonic at %d: %d < %d", i, all[i].Timestamp, all[i-1].Timestamp)
		}
	}
}

func TestMergeUntimestampedAfterOwnBatch(t *testing.T) {
	s := New()
	s.Merge("chat", []FetchedRecord{
		{MessageID: "x", Timestamp: 0},
		{MessageID: "a", Timestamp: 1000},
		{MessageID: "b", Timestamp: 2000},
	})
	s.Merge("chat", []FetchedRecord{
		{MessageID: "c", Timestamp: 5000},
		{MessageID: "y", Timestamp: 0},
	})

	got := ids(s.All("chat"))
	want := []string{"a", "b", "x", "c", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestMergeDuplicatesWithinBatch(t *testing.T) {
	s := New()
	inserted := s.Merge("chat", []FetchedRecord{
		{MessageID: "m1", Timestamp: 1000},
		{MessageID: "m1", Timestamp: 1000},
		{MessageID: "", Timestamp: 1000},
	})
	if len(inserted) != 1 {
		t.Errorf("inserted %d, want 1", len(inserted))
	}
	if s.Len("chat") != 1 {
		t.Errorf("Len = %d, want 1", s.Len("chat"))
	}
}

func TestMergeConversationsAreIndependent(t *testing.T) {
	s := New()
	s.Merge("a", []FetchedRecord{{MessageID: "m1", Timestamp: 1}})
	s.Merge("b", []FetchedRecord{{MessageID: "m1", Timestamp: 1}})

	if s.Len("a") != 1 || s.Len("b") != 1 {
		t.Errorf("Len a=%d b=%d, want 1/1", s.Len("a"), s.Len("b"))
	}
	if got := s.All("b")[0].ConversationID; got != "b" {
		t.Errorf("ConversationID = %q, want b (filled in on merge)", got)
	}
	if s.All("missing") != nil {
		t.Error("All(missing) should be nil")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	s := New()
	s.Merge("chat", []FetchedRecord{{MessageID: "m1", Timestamp: 1}})
	got := s.All("chat")
	got[0].MessageID = "mutated"
	if s.All("chat")[0].MessageID != "m1" {
		t.Error("mutating All() result leaked into the store")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 3 {
		t.Errorf("version = %d, want 3 (init + manifest + merge batch)", result.Version)
	}
}

func TestUpsertFetchedIdempotent(t *testing.T) {
	db := testDB(t)

	recs := []FetchedRecord{
		{ConversationID: "c", MessageID: "m2", Timestamp: 2000, Kind: KindImage,
			Media: &MediaMetadata{MimeType: "image/jpeg", Caption: "beach"}, RawPayloadRef: []byte{1, 2}},
		{ConversationID: "c", MessageID: "m1", Timestamp: 1000, Kind: KindText},
	}
	n, err := db.UpsertFetched(recs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	n, err = db.UpsertFetched(recs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second insert = %d, want 0", n)
	}

	batches, err := db.ListFetched("c")
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	got := batches[0]
	if !reflect.DeepEqual(ids(got), []string{"m2", "m1"}) {
		t.Fatalf("order = %v, want insertion order [m2 m1]", ids(got))
	}
	if got[0].Media == nil || got[0].Media.Caption != "beach" || got[0].Kind != KindImage {
		t.Errorf("media round trip = %+v", got[0])
	}
	if got[1].Media != nil {
		t.Errorf("text record should have no media, got %+v", got[1].Media)
	}
	if count, _ := db.FetchedCount("c"); count != 2 {
		t.Errorf("FetchedCount = %d, want 2", count)
	}
}

func TestListFetchedReplaysMergeOrder(t *testing.T) {
	db := testDB(t)

	first := []FetchedRecord{
		{ConversationID: "c", MessageID: "a", Timestamp: 100},
		{ConversationID: "c", MessageID: "u1"},
	}
	second := []FetchedRecord{
		{ConversationID: "c", MessageID: "b", Timestamp: 50},
		{ConversationID: "c", MessageID: "c", Timestamp: 300},
		{ConversationID: "c", MessageID: "u2"},
	}
	live := New()
	for _, batch := range [][]FetchedRecord{first, second} {
		live.Merge("c", batch)
		if _, err := db.UpsertFetched(batch); err != nil {
			t.Fatal(err)
		}
	}

	batches, err := db.ListFetched("c")
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	restored := New()
	for _, batch := range batches {
		restored.Merge("c", batch)
	}

	want := ids(live.All("c"))
	if got := ids(restored.All("c")); !reflect.DeepEqual(got, want) {
		t.Errorf("restored order = %v, want %v", got, want)
	}
	if want[2] != "u1" {
		t.Errorf("untimed u1 should follow its own batch: %v", want)
	}
}

func TestLatestFetched(t *testing.T) {
	db := testDB(t)

	if r, err := db.LatestFetched("c"); err != nil || r != nil {
		t.Fatalf("empty conversation = %+v, %v", r, err)
	}
	if _, err := db.UpsertFetched([]FetchedRecord{
		{ConversationID: "c", MessageID: "old", Timestamp: 10, Kind: KindText},
		{ConversationID: "c", MessageID: "new", Timestamp: 20, Kind: KindImage, RawPayloadRef: []byte{9},
			Media: &MediaMetadata{MimeType: "image/png"}},
	}); err != nil {
		t.Fatal(err)
	}
	r, err := db.LatestFetched("c")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.MessageID != "new" || r.MimeType() != "image/png" || len(r.RawPayloadRef) != 1 {
		t.Errorf("latest = %+v", r)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Checkpoint("cursor:c"); err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}
	if err := db.SetCheckpoint("cursor:c", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("cursor:c", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Checkpoint("cursor:c")
	if err != nil || !ok || v != "v2" {
		t.Errorf("Checkpoint = %q ok=%v err=%v, want v2", v, ok, err)
	}
	if err := db.ClearCheckpoint("cursor:c"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Checkpoint("cursor:c"); ok {
		t.Error("checkpoint still present after clear")
	}
}

func TestRecordManifest(t *testing.T) {
	db := testDB(t)

	row := ManifestRow{RunID: "r1", ConversationID: "c", FileName: "alice_1_m1.jpg",
		StoragePath: "/tmp/alice_1_m1.jpg", SourceMessageID: "m1", MimeType: "image/jpeg", ByteSize: 3, DownloadedAt: 10}
	if err := db.RecordManifest([]ManifestRow{row}); err != nil {
		t.Fatal(err)
	}
	row.RunID = "r2"
	row.ByteSize = 4
	if err := db.RecordManifest([]ManifestRow{row}); err != nil {
		t.Fatal(err)
	}

	var count int
	var runID string
	if err := db.QueryRow(`SELECT COUNT(*), MAX(run_id) FROM manifest_entries`).Scan(&count, &runID); err != nil {
		t.Fatal(err)
	}
	if count != 1 || runID != "r2" {
		t.Errorf("count=%d run_id=%q, want 1/r2", count, runID)
	}
}
