package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// JobSpec is one [[conversation]] entry of a jobs file.
type JobSpec struct {
	ID    string `toml:"id"`
	Label string `toml:"label"`
	// Scraped is the transcript path. Relative paths are resolved against
	// the jobs file's directory.
	Scraped string `toml:"scraped"`
}

type jobsFile struct {
	Conversations []JobSpec `toml:"conversation"`
}

// LoadJobs reads a jobs file.
func LoadJobs(path string) ([]JobSpec, error) {
	var f jobsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("load jobs %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load jobs %s: unknown key %q", path, undecoded[0].String())
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool, len(f.Conversations))
	for i := range f.Conversations {
		j := &f.Conversations[i]
		if j.ID == "" {
			return nil, fmt.Errorf("load jobs %s: conversation %d has no id", path, i+1)
		}
		if seen[j.ID] {
			return nil, fmt.Errorf("load jobs %s: conversation %q listed twice", path, j.ID)
		}
		seen[j.ID] = true
		if j.Scraped != "" && !filepath.IsAbs(j.Scraped) {
			j.Scraped = filepath.Join(base, j.Scraped)
		}
	}
	return f.Conversations, nil
}
