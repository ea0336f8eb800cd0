package postprocess

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/valpere/mdtran/internal/workspace"
)

// Transform is a pure text rewrite.
type Transform func(string) string

// ApplyDir runs fn over every markdown file in inDir and writes the result to
// the same name in outDir. inDir and outDir may be the same directory. It
// returns the number of files that changed.
func ApplyDir(inDir, outDir string, fn Transform) (int, error) {
	paths, err := workspace.ListMarkdown(inDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	changed := 0
	for _, src := range paths {
		name := filepath.Base(src)
		data, err := os.ReadFile(src)
		if err != nil {
			return changed, fmt.Errorf("read %s: %w", name, err)
		}
		in := string(data)
		out := fn(in)
		dst := filepath.Join(outDir, name)
		if out == in && filepath.Clean(inDir) == filepath.Clean(outDir) {
			continue
		}
		if err := os.WriteFile(dst, []byte(out), 0644); err != nil {
			return changed, fmt.Errorf("write %s: %w", name, err)
		}
		if out != in {
			changed++
			log.Debug().Str("file", name).Msg("rewritten")
		}
	}
	return changed, nil
}

// CheckResult lists files by dollar-balance verdict.
type CheckResult struct {
	Passed []string
	Failed []string
}

// CheckDir sorts markdown files in dir by DollarsBalanced. Passing files are
// copied into passedDir and failing files are moved into failedDir. Either
// directory may be empty to only report.
func CheckDir(dir, passedDir, failedDir string) (*CheckResult, error) {
	paths, err := workspace.ListMarkdown(dir)
	if err != nil {
		return nil, err
	}
	for _, d := range []string{passedDir, failedDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}

	res := &CheckResult{}
	for _, src := range paths {
		name := filepath.Base(src)
		data, err := os.ReadFile(src)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", name, err)
		}

		if DollarsBalanced(string(data)) {
			res.Passed = append(res.Passed, name)
			if passedDir != "" {
				if err := copyFile(src, filepath.Join(passedDir, name)); err != nil {
					return res, err
				}
			}
			continue
		}

		res.Failed = append(res.Failed, name)
		log.Warn().Str("file", name).Msg("unbalanced formula delimiters")
		if failedDir != "" {
			if err := moveFile(src, filepath.Join(failedDir, name)); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// rename fails across filesystems
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
