package planner

import "regexp"

// Span locates one function in the text given to a Splitter. Start and End
// are byte offsets; Start points at the newline preceding the header.
type Span struct {
	Name  string
	Start int
	End   int
}

// Splitter finds top-level function spans.
type Splitter interface {
	Split(text string) []Span
}

// defHeader matches a newline followed by a def header, up to the first "):".
var defHeader = regexp.MustCompile(`(?s)\ndef\s+([A-Za-z_]\w*)\s*\(.*?\):`)

// HeaderScanSplitter finds functions by scanning for header lines. It does
// not parse: a function runs from its header to the next header or the end
// of the text, so trailing top-level code belongs to the last function.
type HeaderScanSplitter struct {
	// Pattern must match at the start of a function and capture its name.
	// Nil uses the def-header pattern.
	Pattern *regexp.Regexp
}

// Split returns spans in text order. Callers pass content prefixed with
// "\n" so a header on the first line is found.
func (s HeaderScanSplitter) Split(text string) []Span {
	re := s.Pattern
	if re == nil {
		re = defHeader
	}
	matches := re.FindAllStringSubmatchIndex(text, -1)
	spans := make([]Span, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		name := ""
		if len(m) >= 4 && m[2] >= 0 {
			name = text[m[2]:m[3]]
		}
		spans = append(spans, Span{Name: name, Start: m[0], End: end})
	}
	return spans
}
