package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/wppsync/internal/app"
	"github.com/matheus3301/wppsync/internal/report"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Setenv("WPPSYNC_HOME", t.TempDir())
	if code := run([]string{"frobnicate"}); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if code := run(nil); code != 2 {
		t.Errorf("exit code without command = %d, want 2", code)
	}
	if code := run([]string{"--session", "Bad Name", "status"}); code != 1 {
		t.Errorf("exit code for invalid session = %d, want 1", code)
	}
}

func TestBuildJobsFromFlags(t *testing.T) {
	dir := t.TempDir()
	transcript := filepath.Join(dir, "alice.json")
	if err := os.WriteFile(transcript, []byte(`[{"sequence_index":0,"content":"look","kind":"image","is_outbound":false}]`), 0600); err != nil {
		t.Fatal(err)
	}

	jobs, err := buildJobs(syncFlags{chat: "5511@s.whatsapp.net", label: "alice", scraped: transcript})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Label != "alice" || len(jobs[0].Scraped) != 1 {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestBuildJobsFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[]`), 0600); err != nil {
		t.Fatal(err)
	}
	jobsPath := filepath.Join(dir, "jobs.toml")
	content := "[[conversation]]\nid = \"a@s.whatsapp.net\"\nscraped = \"a.json\"\n\n[[conversation]]\nid = \"b@g.us\"\n"
	if err := os.WriteFile(jobsPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	jobs, err := buildJobs(syncFlags{jobs: jobsPath})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[1].ConversationID != "b@g.us" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestBuildJobsValidation(t *testing.T) {
	tests := map[string]syncFlags{
		"nothing":      {},
		"both":         {chat: "a", jobs: "j.toml"},
		"missing file": {chat: "a", scraped: "/nonexistent.json"},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := buildJobs(f); err == nil {
				t.Error("buildJobs() expected error")
			}
		})
	}
}

func TestReportPath(t *testing.T) {
	t.Setenv("WPPSYNC_HOME", "/base")
	p := app.Params{SessionName: "main"}
	rep := &report.SyncReport{Label: "alice"}

	if got := reportPath(p, rep, "/tmp/r.json", 1); got != "/tmp/r.json" {
		t.Errorf("explicit path = %q", got)
	}
	if got := reportPath(p, rep, "/tmp/r.json", 2); got != "/base/sessions/main/output/alice/report.json" {
		t.Errorf("multi-job path = %q", got)
	}
}
