package markdown

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Separator is written between merged documents.
const Separator = "\n\n---\n\n"

// Merge writes the contents of paths to w in order, separated by a
// horizontal rule. It returns the number of bytes written.
func Merge(paths []string, w io.Writer) (int64, error) {
	var total int64
	for i, p := range paths {
		if i > 0 {
			n, err := io.WriteString(w, Separator)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}

		n, err := copyFrom(p, w)
		total += n
		if err != nil {
			return total, fmt.Errorf("merge %s: %w", filepath.Base(p), err)
		}
	}
	return total, nil
}

func copyFrom(path string, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
