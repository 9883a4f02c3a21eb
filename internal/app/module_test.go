package app

import (
	"testing"
	"time"

	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/media"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func TestFetchOptions(t *testing.T) {
	opts := FetchOptions(config.SyncConfig{BatchSize: 10, MediaOnly: true, FetchTimeout: 5 * time.Second})
	if opts.BatchSize != 10 || !opts.MediaOnly || opts.FetchTimeout != 5*time.Second {
		t.Errorf("opts = %+v", opts)
	}
	if opts.MaxBatches != 20 || opts.FetchRetries != 3 {
		t.Errorf("unset fields lost their defaults: %+v", opts)
	}
}

func TestOutputDir(t *testing.T) {
	t.Setenv("WPPSYNC_HOME", "/base")
	if got := OutputDir(Params{SessionName: "main"}); got != "/base/sessions/main/output" {
		t.Errorf("default output dir = %q", got)
	}
	cfg := config.Default()
	cfg.Media.OutputDir = "/data/out"
	if got := OutputDir(Params{SessionName: "main", Config: cfg}); got != "/data/out" {
		t.Errorf("configured output dir = %q", got)
	}
}

func TestNewSinkDir(t *testing.T) {
	sink, err := NewSink(config.MediaConfig{Backend: config.BackendDir}, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sink.(*media.DirSink); !ok {
		t.Errorf("sink = %T, want *media.DirSink", sink)
	}
	if _, err := NewSink(config.MediaConfig{Backend: "tape"}, "", zap.NewNop()); err == nil {
		t.Error("unknown backend should fail")
	}
}

// TestModuleWiring checks that every constructor's dependencies resolve.
// Constructors are not run, so no session files are touched.
func TestModuleWiring(t *testing.T) {
	t.Setenv("WPPSYNC_HOME", t.TempDir())
	if err := fx.ValidateApp(Module(Params{SessionName: "fxtest"})); err != nil {
		t.Fatalf("fx graph: %v", err)
	}
}
