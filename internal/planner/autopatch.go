package planner

import (
	"regexp"
	"sort"
	"strings"
)

// ModuleDocstring is inserted by MinimalAutopatch when a file has none.
const ModuleDocstring = "\"\"\"Auto-refactored by ACE/FERS.\nThis module was touched by the evolutionary refactor pipeline.\n\"\"\""

var codeFence = regexp.MustCompile("(?is)```python(.*)```")

// ExtractCode returns the body of a ```python fenced block in raw, or the
// whole response when there is no fence. Surrounding whitespace is dropped.
func ExtractCode(raw string) string {
	if m := codeFence.FindStringSubmatch(raw); m != nil {
		return strings.Trim(m[1], "\n\r ")
	}
	return strings.Trim(raw, "\n\r ")
}

// MinimalAutopatch applies local, deterministic cleanups: a module docstring
// when missing, sorted and deduplicated top-level imports placed right after
// the docstring, and exactly one trailing newline. CRLF line endings are
// normalized to LF. It is idempotent.
func MinimalAutopatch(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(content, "\r\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}

	doc, rest := splitDocstring(lines)
	if doc == nil {
		doc = strings.Split(ModuleDocstring, "\n")
	}

	seen := make(map[string]bool)
	var imports, body []string
	for _, l := range rest {
		if isHoistableImport(l) {
			if !seen[l] {
				seen[l] = true
				imports = append(imports, l)
			}
			continue
		}
		body = append(body, l)
	}
	sort.Strings(imports)
	for len(body) > 0 && strings.TrimSpace(body[0]) == "" {
		body = body[1:]
	}

	out := append([]string{}, doc...)
	if len(imports) > 0 {
		out = append(out, "")
		out = append(out, imports...)
	}
	if len(body) > 0 {
		out = append(out, "")
		out = append(out, body...)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\r\n") + "\n"
}

// isHoistableImport reports whether l is a single-line, unindented import.
func isHoistableImport(l string) bool {
	if !strings.HasPrefix(l, "import ") && !strings.HasPrefix(l, "from ") {
		return false
	}
	t := strings.TrimRight(l, " \t\r")
	return !strings.HasSuffix(t, "(") && !strings.HasSuffix(t, "\\")
}

// splitDocstring returns the leading docstring lines, if lines start with
// one, and the remaining lines.
func splitDocstring(lines []string) (doc, rest []string) {
	if len(lines) == 0 {
		return nil, lines
	}
	first := strings.TrimSpace(lines[0])
	var delim string
	switch {
	case strings.HasPrefix(first, `"""`):
		delim = `"""`
	case strings.HasPrefix(first, `'''`):
		delim = `'''`
	default:
		return nil, lines
	}
	if strings.Contains(first[3:], delim) {
		return lines[:1], lines[1:]
	}
	for i := 1; i < len(lines); i++ {
		if strings.Contains(lines[i], delim) {
			return lines[:i+1], lines[i+1:]
		}
	}
	// Unterminated: treat the whole file as the docstring.
	return lines, nil
}
