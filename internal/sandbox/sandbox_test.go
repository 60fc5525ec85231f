package sandbox

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ai4ohs/ace/internal/types"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "app.py"), "print('hi')\n")
	writeFile(t, filepath.Join(root, "tests", "test_app.py"), "def test_x(): pass\n")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(root, ".venv", "bin", "python"), "")
	writeFile(t, filepath.Join(root, "src", "__pycache__", "app.cpython.pyc"), "x")
	writeFile(t, filepath.Join(root, "sandbox_repo", "stale.txt"), "old")
	return root
}

func TestPrepare_CopiesTreeWithExclusions(t *testing.T) {
	root := setupProject(t)
	m, err := New(root, "sandbox_repo", quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sb := m.Dir()
	for _, want := range []string{"src/app.py", "tests/test_app.py"} {
		if !exists(filepath.Join(sb, want)) {
			t.Errorf("%s missing from sandbox", want)
		}
	}
	for _, unwanted := range []string{".git", ".venv", "src/__pycache__", "sandbox_repo", "stale.txt"} {
		if exists(filepath.Join(sb, unwanted)) {
			t.Errorf("%s should not be copied into sandbox", unwanted)
		}
	}
}

func TestPrepare_RecreatesSandbox(t *testing.T) {
	root := setupProject(t)
	m, err := New(root, "sandbox_repo", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(m.Dir(), "leftover.txt"), "x")

	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	if exists(filepath.Join(m.Dir(), "leftover.txt")) {
		t.Error("state carried over between cycles")
	}
}

func TestPrepare_ReadOnlySandboxRemoved(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := setupProject(t)
	m, err := New(root, "sandbox_repo", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	ro := filepath.Join(m.Dir(), "locked")
	writeFile(t, filepath.Join(ro, "f.txt"), "x")
	if err := os.Chmod(ro, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(ro, 0o700) })

	if err := m.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if exists(ro) {
		t.Error("read-only directory survived removal")
	}
}

func TestPrepare_SandboxOutsideRootExcludedByPath(t *testing.T) {
	root := setupProject(t)
	nested := filepath.Join(root, "build", "sb")
	m, err := New(root, nested, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	if exists(filepath.Join(nested, "build", "sb")) {
		t.Error("sandbox copied into itself")
	}
	if !exists(filepath.Join(nested, "src", "app.py")) {
		t.Error("source missing from sandbox")
	}
}

func TestNew_RejectsProjectRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := New(root, root, quietLogger()); err == nil {
		t.Error("expected error when sandbox equals project root")
	}
}

func TestPrepare_CopyFailure(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "sb"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(); !errors.Is(err, ErrSandboxCopy) {
		t.Errorf("Prepare() error = %v, want ErrSandboxCopy", err)
	}
}

func TestApply(t *testing.T) {
	root := setupProject(t)
	m, err := New(root, "sandbox_repo", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}

	n := m.Apply([]types.Patch{
		{Path: "src/app.py", Content: "print('bye')\n"},
		{Path: "src/new/mod.py", Content: "x = 1\n"},
		{Path: "../escape.py", Content: "bad"},
	})
	if n != 2 {
		t.Errorf("Apply() = %d, want 2", n)
	}

	data, err := os.ReadFile(filepath.Join(m.Dir(), "src", "app.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "print('bye')\n" {
		t.Errorf("sandbox content = %q", data)
	}
	main, err := os.ReadFile(filepath.Join(root, "src", "app.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(main) != "print('hi')\n" {
		t.Errorf("main tree modified: %q", main)
	}
	if exists(filepath.Join(root, "escape.py")) {
		t.Error("escaping patch was written")
	}
}

func TestWritePatches_SkipsFailures(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blocker"), "file, not dir")

	n := WritePatches(root, []types.Patch{
		{Path: "blocker/inner.py", Content: "x"},
		{Path: "ok.py", Content: "y"},
	}, quietLogger())
	if n != 1 {
		t.Errorf("WritePatches() = %d, want 1", n)
	}
}
