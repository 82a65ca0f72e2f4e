package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crewflow/crewflow/pkg/graph"
)

const (
	// maxContextItemChars bounds how much of a single context value makes
	// it into the prompt verbatim; larger values are digested.
	maxContextItemChars = 1000

	// Input file contents are capped per file, with a higher cap when the
	// task references exactly one file.
	maxInputFileChars       = 1000
	maxSingleInputFileChars = 1500

	snippetChars = 200
)

// BuildUserPrompt renders a task into the user prompt: the description, a
// digested context dump, the contents of any referenced input files, and the
// role's output-format directive.
func BuildUserPrompt(role Role, workspace string, task Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", task.Description)

	if ctx := FormatContext(task.Context); ctx != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}

	if len(task.InputFiles) > 0 {
		limit := maxInputFileChars
		if len(task.InputFiles) == 1 {
			limit = maxSingleInputFileChars
		}
		var files strings.Builder
		for _, path := range task.InputFiles {
			content, err := readInputFile(workspace, path)
			if err != nil {
				slog.Warn("Could not read input file, skipping",
					"task_id", task.ID,
					"file", path,
					"error", err)
				continue
			}
			if len(content) > limit {
				content = content[:limit]
			}
			fmt.Fprintf(&files, "\n--- %s ---\n%s\n", path, content)
		}
		if files.Len() > 0 {
			b.WriteString("\nRelevant Files:\n")
			b.WriteString(files.String())
		}
	}

	b.WriteString("\n")
	b.WriteString(role.FormatDirective)
	b.WriteString("\n")

	return b.String()
}

func readInputFile(workspace, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// FormatContext renders context values as "- key: value" lines, keys in
// sorted order. Values that serialize small enough pass through verbatim;
// anything larger is replaced by a digest so one verbose upstream result
// cannot crowd everything else out of the prompt. The "files" key is skipped
// because input files are rendered separately.
func FormatContext(taskContext map[string]any) string {
	if len(taskContext) == 0 {
		return ""
	}

	keys := make([]string, 0, len(taskContext))
	for k := range taskContext {
		if k == "files" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, "- "+k+": "+formatValue(taskContext[k]))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return truncateItem(val)
	case graph.Record:
		return formatRecord(val)
	case *graph.Record:
		if val == nil {
			return ""
		}
		return formatRecord(*val)
	case map[string]any:
		return formatMap(val)
	default:
		serialized, err := json.Marshal(v)
		if err != nil {
			return truncateItem(fmt.Sprint(v))
		}
		if len(serialized) <= maxContextItemChars {
			return string(serialized)
		}
		return digestOversized(v, serialized)
	}
}

func truncateItem(s string) string {
	if len(s) <= maxContextItemChars {
		return s
	}
	return fmt.Sprintf("%s... (truncated, %d chars total)", s[:maxContextItemChars], len(s))
}

func formatRecord(r graph.Record) string {
	serialized, err := json.Marshal(r)
	if err == nil && len(serialized) <= maxContextItemChars {
		return string(serialized)
	}

	var parts []string
	if n := len(r.FilesCreated); n > 0 {
		parts = append(parts, fmt.Sprintf("Files created: %d files", n))
		shown := r.FilesCreated
		if len(shown) > 5 {
			shown = shown[:5]
		}
		parts = append(parts, "File paths: "+strings.Join(shown, ", "))
		if n > 5 {
			parts = append(parts, fmt.Sprintf("... and %d more files", n-5))
		}
	}
	if r.Status != "" {
		parts = append(parts, "Status: "+r.Status)
	}
	if snippet := firstNonEmpty(r.Summary, r.RawOutput); snippet != "" {
		if len(snippet) > snippetChars {
			snippet = snippet[:snippetChars]
		}
		parts = append(parts, "Content snippet: "+snippet+"...")
	}
	if len(parts) == 0 {
		return "Record for task " + r.TaskID
	}
	return strings.Join(parts, " | ")
}

func formatMap(m map[string]any) string {
	serialized, err := json.Marshal(m)
	if err == nil && len(serialized) <= maxContextItemChars {
		return string(serialized)
	}

	var parts []string
	if files, ok := m["files_created"]; ok {
		switch list := files.(type) {
		case []string:
			parts = append(parts, summarizeFileList(list)...)
		case []any:
			strs := make([]string, 0, len(list))
			for _, f := range list {
				strs = append(strs, fmt.Sprint(f))
			}
			parts = append(parts, summarizeFileList(strs)...)
		default:
			parts = append(parts, fmt.Sprintf("Files: %v", files))
		}
	}
	if status, ok := m["status"]; ok {
		parts = append(parts, fmt.Sprintf("Status: %v", status))
	}
	for _, field := range []string{"code", "documentation", "analysis"} {
		if content, ok := m[field]; ok {
			snippet := fmt.Sprint(content)
			if len(snippet) > snippetChars {
				snippet = snippet[:snippetChars]
			}
			parts = append(parts, "Content snippet: "+snippet+"...")
			break
		}
	}
	if len(parts) == 0 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		shown := keys
		if len(shown) > 5 {
			shown = shown[:5]
		}
		parts = append(parts, "Contains: "+strings.Join(shown, ", "))
		if len(keys) > 5 {
			parts = append(parts, fmt.Sprintf("... and %d more keys", len(keys)-5))
		}
	}
	return strings.Join(parts, " | ")
}

func summarizeFileList(files []string) []string {
	parts := []string{fmt.Sprintf("Files created: %d files", len(files))}
	if len(files) == 0 {
		return parts
	}
	shown := files
	if len(shown) > 5 {
		shown = shown[:5]
	}
	parts = append(parts, "File paths: "+strings.Join(shown, ", "))
	if len(files) > 5 {
		parts = append(parts, fmt.Sprintf("... and %d more files", len(files)-5))
	}
	return parts
}

// digestOversized handles values with no richer digest: lists report their
// length, everything else falls back to a truncated string rendering.
func digestOversized(v any, serialized []byte) string {
	if list, ok := v.([]any); ok {
		return fmt.Sprintf("List with %d items", len(list))
	}
	return truncateItem(string(serialized))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
