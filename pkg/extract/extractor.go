// Package extract pulls generated files out of model responses.
//
// Responses name files with one of four marker styles, tried in priority
// order; the first style that yields at least one file wins:
//
//  1. fence-with-path:  ```python:app/main.py
//  2. bold marker:      **File: `app/main.py`**  followed by a fence
//  3. backtick marker:  File: `app/main.py`      followed by a fence
//  4. plain marker:     File: app/main.py        followed by a fence
//
// The response is tokenized line by line exactly once; each marker style is
// then interpreted over the token stream. Fenced content is captured with
// nesting-aware depth tracking, so a markdown file containing its own code
// blocks survives verbatim.
package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// File is one extracted file: a sanitized path and its verbatim content.
type File struct {
	Path    string
	Content string
}

// Extractor parses model responses into files. The zero value is not usable;
// call NewExtractor.
type Extractor struct {
	now func() time.Time // timestamps for synthesized fallback names
}

// NewExtractor returns a ready Extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract returns the files named by the response, in order of first
// appearance. Later blocks for the same path replace earlier content. When
// no marker style matches but fenced code exists, a single file with a
// synthesized name is returned. An empty result is not an error; the caller
// decides how loudly to complain.
func (e *Extractor) Extract(text string) []File {
	lines := scanLines(text)

	passes := []func([]scannedLine) []File{
		e.extractFencePaths,
		func(ls []scannedLine) []File { return e.extractMarked(ls, func(l scannedLine) string { return l.boldPath }) },
		func(ls []scannedLine) []File { return e.extractMarked(ls, func(l scannedLine) string { return l.tickPath }) },
		func(ls []scannedLine) []File { return e.extractMarked(ls, func(l scannedLine) string { return l.plainPath }) },
	}
	for _, pass := range passes {
		if files := pass(lines); len(files) > 0 {
			return files
		}
	}

	return e.fallback(lines)
}

// scannedLine is one input line with every marker interpretation it admits.
// Classification happens once; the extraction passes only look at fields.
type scannedLine struct {
	text      string
	isFence   bool
	fenceRest string // text after the backticks, trimmed
	fenceLang string // pattern 1: language on a fence-with-path line
	fencePath string // pattern 1: path on a fence-with-path line
	boldPath  string // pattern 2
	tickPath  string // pattern 3
	plainPath string // pattern 4
}

var (
	fencePathPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_+-]*)\s*:\s*(.+)$`)
	boldPattern      = regexp.MustCompile(`^\*\*File:\s*(.+?)\*\*\s*$`)
	tickPattern      = regexp.MustCompile("File:\\s*`([^`]+)`")
	plainPattern     = regexp.MustCompile(`^File:\s*(\S+)\s*$`)
)

func scanLines(text string) []scannedLine {
	raw := strings.Split(text, "\n")
	lines := make([]scannedLine, len(raw))

	for i, t := range raw {
		ln := scannedLine{text: t}
		trimmed := strings.TrimSpace(t)

		if strings.HasPrefix(trimmed, "```") {
			ln.isFence = true
			ln.fenceRest = strings.TrimSpace(trimmed[3:])
			if m := fencePathPattern.FindStringSubmatch(ln.fenceRest); m != nil {
				ln.fenceLang = m[1]
				ln.fencePath = strings.TrimSpace(m[2])
			}
		} else {
			if m := boldPattern.FindStringSubmatch(trimmed); m != nil {
				ln.boldPath = m[1]
			}
			if m := tickPattern.FindStringSubmatch(trimmed); m != nil {
				ln.tickPath = m[1]
			}
			if m := plainPattern.FindStringSubmatch(trimmed); m != nil {
				ln.plainPath = m[1]
			}
		}
		lines[i] = ln
	}
	return lines
}

// extractFencePaths handles pattern 1, where the fence line itself carries
// the path.
func (e *Extractor) extractFencePaths(lines []scannedLine) []File {
	var out fileSet
	i := 0
	for i < len(lines) {
		if lines[i].fencePath == "" {
			i++
			continue
		}
		path := lines[i].fencePath
		content, next, closed := captureBlock(lines, i)
		if !closed {
			slog.Warn("Unterminated code block, capturing to end of response", "path", path)
		}
		out.put(sanitizePath(path), content)
		i = next
	}
	return out.files
}

// extractMarked handles the marker-then-fence patterns. The marker line
// names the file; the next non-blank line must open a fence or the marker
// is ignored.
func (e *Extractor) extractMarked(lines []scannedLine, path func(scannedLine) string) []File {
	var out fileSet
	i := 0
	for i < len(lines) {
		p := path(lines[i])
		if p == "" {
			i++
			continue
		}

		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j].text) == "" {
			j++
		}
		if j >= len(lines) || !lines[j].isFence {
			i++
			continue
		}

		content, next, closed := captureBlock(lines, j)
		if !closed {
			slog.Warn("Unterminated code block, capturing to end of response", "path", p)
		}
		out.put(sanitizePath(p), content)
		i = next
	}
	return out.files
}

// captureBlock collects content after the fence opener at openIdx until the
// matching close. Fence lines with trailing text push depth, bare fence
// lines pop it; the block closes at depth zero. Inner fences are kept
// verbatim. When the input ends first, everything remaining is the content
// and closed is false.
func captureBlock(lines []scannedLine, openIdx int) (content string, next int, closed bool) {
	depth := 1
	var buf []string

	i := openIdx + 1
	for i < len(lines) {
		ln := lines[i]
		if ln.isFence {
			if ln.fenceRest != "" {
				depth++
			} else {
				depth--
				if depth == 0 {
					return strings.Join(buf, "\n"), i + 1, true
				}
			}
		}
		buf = append(buf, ln.text)
		i++
	}
	return strings.Join(buf, "\n"), i, false
}

// sanitizePath strips stray whitespace, backticks, and markdown bold
// asterisks from each slash-separated segment, preserving empty segments so
// leading "/" and "./" prefixes survive for the writer.
func sanitizePath(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	for i, p := range parts {
		parts[i] = strings.Trim(p, " \t`*")
	}
	return strings.Join(parts, "/")
}

// fileSet keeps first-appearance order with last-content-wins semantics.
type fileSet struct {
	files []File
	index map[string]int
}

func (s *fileSet) put(path, content string) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[path]; ok {
		s.files[i].Content = content
		return
	}
	s.index[path] = len(s.files)
	s.files = append(s.files, File{Path: path, Content: content})
}

var (
	classPattern = regexp.MustCompile(`(?m)^\s*class\s+([A-Za-z_]\w*)`)
	defPattern   = regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_]\w*)`)
)

var extByLang = map[string]string{
	"python":     ".py",
	"py":         ".py",
	"javascript": ".js",
	"js":         ".js",
	"typescript": ".ts",
	"go":         ".go",
	"golang":     ".go",
	"rust":       ".rs",
	"java":       ".java",
	"markdown":   ".md",
	"md":         ".md",
	"yaml":       ".yaml",
	"yml":        ".yaml",
	"json":       ".json",
	"toml":       ".toml",
	"bash":       ".sh",
	"sh":         ".sh",
	"shell":      ".sh",
	"sql":        ".sql",
	"html":       ".html",
	"css":        ".css",
}

// fallback synthesizes a name for the first fenced block when nothing named
// a file explicitly.
func (e *Extractor) fallback(lines []scannedLine) []File {
	for i, ln := range lines {
		if !ln.isFence {
			continue
		}
		content, _, closed := captureBlock(lines, i)
		if strings.TrimSpace(content) == "" {
			return nil
		}
		lang := ""
		if fields := strings.Fields(ln.fenceRest); len(fields) > 0 {
			lang = strings.ToLower(fields[0])
		}
		path := e.inferName(content, lang)
		if !closed {
			slog.Warn("Unterminated code block, capturing to end of response", "path", path)
		}
		return []File{{Path: path, Content: content}}
	}
	return nil
}

func (e *Extractor) inferName(content, lang string) string {
	if m := classPattern.FindStringSubmatch(content); m != nil {
		return strings.ToLower(m[1]) + ".py"
	}
	if m := defPattern.FindStringSubmatch(content); m != nil {
		return m[1] + ".py"
	}
	if lang == "dockerfile" {
		return "Dockerfile"
	}
	ext, ok := extByLang[lang]
	if !ok {
		ext = ".txt"
	}
	return fmt.Sprintf("code_%d%s", e.now().Unix(), ext)
}
