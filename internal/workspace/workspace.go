// Package workspace maps an input directory of markdown documents to
// translation jobs and owns the destination artifacts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valpere/mdtran/internal"
)

const (
	DefaultInputDir  = "workmd"
	DefaultOutputDir = "outputmd"
	DefaultPrefix    = "translated_"
)

// Layout names the input and output locations of a batch.
type Layout struct {
	InputDir  string `mapstructure:"input_dir" json:"input_dir"`
	OutputDir string `mapstructure:"output_dir" json:"output_dir"`
	Prefix    string `mapstructure:"prefix" json:"prefix"`
}

// Destination returns the artifact path for a source file name.
func (l Layout) Destination(name string) string {
	return filepath.Join(l.OutputDir, l.Prefix+name)
}

// Discover returns one job per regular *.md file directly inside InputDir,
// ordered by file name. The output directory is created if absent.
func Discover(l Layout) ([]internal.Job, error) {
	if l.InputDir == l.OutputDir && l.Prefix == "" {
		return nil, fmt.Errorf("input and output directory cannot be the same without a prefix")
	}

	entries, err := os.ReadDir(l.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	if err := os.MkdirAll(l.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var jobs []internal.Job
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		jobs = append(jobs, internal.Job{
			ID:          e.Name(),
			Source:      filepath.Join(l.InputDir, e.Name()),
			Destination: l.Destination(e.Name()),
		})
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// ListMarkdown returns the *.md files directly inside dir, sorted by name.
func ListMarkdown(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
