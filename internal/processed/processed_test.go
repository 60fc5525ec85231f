package processed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLog_AppendAndAttempted(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "logs", "ace", "processed_files.jsonl"))

	if err := log.Append(Entry{Status: StatusTestsFailed, Files: []string{"src/a.py", "src/b.py"}, Details: "1 failed"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(Entry{Status: StatusNoFiles}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(Entry{Status: StatusApplied, Files: []string{"src/c.py"}}); err != nil {
		t.Fatal(err)
	}

	entries, err := log.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].TS == 0 {
		t.Error("TS not stamped")
	}
	if entries[1].Files == nil || len(entries[1].Files) != 0 {
		t.Errorf("no_files entry Files = %v, want empty list", entries[1].Files)
	}

	seen, err := log.Attempted()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"src/a.py", "src/b.py", "src/c.py"} {
		if !seen[f] {
			t.Errorf("%s not in attempted set", f)
		}
	}
	if len(seen) != 3 {
		t.Errorf("attempted set = %v", seen)
	}
}

func TestLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	content := "{\"ts\":1,\"status\":\"applied\",\"files\":[\"src/x.py\"]}\nnot json\n\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	seen, err := New(path).Attempted()
	if err != nil {
		t.Fatal(err)
	}
	if !seen["src/x.py"] || len(seen) != 1 {
		t.Errorf("Attempted() = %v", seen)
	}
}

func TestLog_MissingFile(t *testing.T) {
	seen, err := New(filepath.Join(t.TempDir(), "none.jsonl")).Attempted()
	if err != nil || len(seen) != 0 {
		t.Errorf("Attempted() = %v, %v; want empty, nil", seen, err)
	}
}
