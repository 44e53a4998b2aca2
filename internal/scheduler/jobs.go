package scheduler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rendis/stepwise/pkg/schema"
)

// Job runs one workflow definition file on a cron schedule.
type Job struct {
	Name   string         `yaml:"name"`
	Cron   string         `yaml:"cron"`
	File   string         `yaml:"file"`
	Inputs map[string]any `yaml:"inputs,omitempty"`
	// Disabled jobs are loaded but never triggered.
	Disabled bool `yaml:"disabled,omitempty"`
}

// JobsFile is the on-disk job list.
type JobsFile struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadJobs reads a jobs file. Relative workflow paths are resolved against the
// directory of the jobs file.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read jobs file %s: %v", path, err).WithCause(err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jf JobsFile
	if err := dec.Decode(&jf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse jobs file %s: %v", path, err).WithCause(err)
	}

	dir := filepath.Dir(path)
	seen := make(map[string]bool, len(jf.Jobs))
	for i := range jf.Jobs {
		j := &jf.Jobs[i]
		if j.Name == "" || j.Cron == "" || j.File == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "jobs[%d]: name, cron and file are required", i)
		}
		if seen[j.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "duplicate job name %q", j.Name)
		}
		seen[j.Name] = true
		if !filepath.IsAbs(j.File) {
			j.File = filepath.Join(dir, j.File)
		}
	}
	if len(jf.Jobs) == 0 {
		return nil, fmt.Errorf("jobs file %s defines no jobs", path)
	}
	return jf.Jobs, nil
}
