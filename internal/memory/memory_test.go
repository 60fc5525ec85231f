package memory

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStore_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "evolution_memory.json")

	s := Open(path, quietLogger())
	s.RecordFailure("src/a.py", "whole_file", "rewrite unavailable")
	s.RecordSuccess("src/a.py", "minimal")
	s.RecordFunctionSkip("src/b.py", "big", "too_large:4000")
	s.RecordFunctionSkip("src/b.py", "big", "rewrite_error")
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := Open(path, quietLogger())
	a, ok := reloaded.File("src/a.py")
	if !ok {
		t.Fatal("src/a.py missing after reload")
	}
	if a.Success != 1 || a.Fail != 1 || a.LastStrategy != "minimal" || a.LastError != "" {
		t.Errorf("src/a.py stats = %+v", a)
	}
	fn, ok := reloaded.Function("src/b.py", "big")
	if !ok || fn.Skips != 2 || fn.LastReason != "rewrite_error" {
		t.Errorf("function stats = %+v, %v", fn, ok)
	}

	totals := reloaded.Totals()
	if totals.Files != 1 || totals.Successes != 1 || totals.Failures != 1 || totals.FunctionSkips != 2 {
		t.Errorf("Totals() = %+v", totals)
	}
}

func TestStore_LoadMergesIntoMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.json")

	first := New(path, quietLogger())
	first.RecordSuccess("src/a.py", "small_patch")
	if err := first.Save(); err != nil {
		t.Fatal(err)
	}

	second := New(path, quietLogger())
	second.RecordSuccess("src/c.py", "minimal")
	second.Load()

	if got := second.Files(); len(got) != 2 {
		t.Errorf("Files() = %v, want both entries", got)
	}
}

func TestStore_CorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(path, quietLogger())
	if totals := s.Totals(); totals.Files != 0 {
		t.Errorf("Totals() = %+v, want empty", totals)
	}

	s.RecordSuccess("src/a.py", "minimal")
	if err := s.Save(); err != nil {
		t.Fatalf("Save() over corrupt document error = %v", err)
	}
	if _, ok := Open(path, quietLogger()).File("src/a.py"); !ok {
		t.Error("entry missing after rewriting corrupt document")
	}
}

func TestFunctionKey(t *testing.T) {
	if got := FunctionKey("src/a.py", "run"); got != "src/a.py::run" {
		t.Errorf("FunctionKey() = %q", got)
	}
}
