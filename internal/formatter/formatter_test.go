package formatter

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "STATUS", "FILES")
	tbl.SetMaxWidth(0, 8)
	tbl.AddRow("0123456789abcdef", "pending", 2)
	tbl.AddRow("short", "approved")
	if err := tbl.Render(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "--") || !strings.Contains(lines[1], "------") {
		t.Errorf("separator = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "01234...") || !strings.Contains(lines[2], "2") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "approved") {
		t.Errorf("short row = %q", lines[3])
	}
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTable(&buf, "A").Render(); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTruncateTinyWidth(t *testing.T) {
	tbl := NewTable(io.Discard, "A").SetMaxWidth(0, 2)
	if got := tbl.truncate(0, "abcdef"); got != "ab" {
		t.Errorf("truncate = %q, want ab", got)
	}
}

func TestWrite(t *testing.T) {
	v := struct {
		Count int `json:"count" yaml:"count"`
	}{Count: 2}
	table := func(w io.Writer) error {
		_, err := io.WriteString(w, "table\n")
		return err
	}

	tests := []struct {
		format string
		want   string
	}{
		{FormatJSON, "\"count\": 2"},
		{FormatYAML, "count: 2"},
		{FormatTable, "table"},
		{"", "table"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tt.format, v, table); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
