package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// WriteFiles persists extracted files to disk and returns the absolute paths
// written, in input order. Relative paths land under
// <workspace>/generated/<taskID>/<role>/; paths starting with "/" or "./"
// are rooted at the workspace instead, since models often echo container
// layouts. When two entries resolve to the same target the last one wins.
func WriteFiles(workspace, taskID, role string, files []File) ([]string, error) {
	written := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		target := resolveTarget(workspace, taskID, role, f.Path)

		if seen[target] {
			slog.Warn("Overwriting previously written file", "path", target)
		}
		seen[target] = true

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.Path, err)
		}

		abs, err := filepath.Abs(target)
		if err != nil {
			abs = target
		}
		written = append(written, abs)
	}
	return written, nil
}

func resolveTarget(workspace, taskID, role, path string) string {
	switch {
	case strings.HasPrefix(path, "/"):
		return filepath.Join(workspace, strings.TrimPrefix(path, "/"))
	case strings.HasPrefix(path, "./"):
		return filepath.Join(workspace, strings.TrimPrefix(path, "./"))
	default:
		return filepath.Join(workspace, "generated", taskID, role, path)
	}
}

// FormatFiles renders files in the backtick marker style the extractor
// parses, one block per file. Extracting the result yields the input back,
// which keeps handoffs between agents lossless.
func FormatFiles(files []File) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "File: `%s`\n```\n%s\n```\n\n", f.Path, f.Content)
	}
	return b.String()
}
