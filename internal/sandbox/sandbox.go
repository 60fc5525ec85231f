// Package sandbox builds an ephemeral copy of the project tree and applies
// patches inside it.
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ai4ohs/ace/internal/types"
	"github.com/sirupsen/logrus"
)

// DefaultIgnore lists directory names never copied into the sandbox.
var DefaultIgnore = []string{".git", ".hg", ".svn", ".venv", "venv", "__pycache__"}

// Manager owns one sandbox directory for a project.
type Manager struct {
	root   string
	dir    string
	ignore map[string]bool
	logger logrus.FieldLogger
}

// New returns a manager for sandboxDir. A relative sandboxDir is resolved
// against projectRoot.
func New(projectRoot, sandboxDir string, logger logrus.FieldLogger) (*Manager, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	dir := sandboxDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	if dir == root {
		return nil, fmt.Errorf("sandbox directory must differ from project root: %s", dir)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ignore := make(map[string]bool, len(DefaultIgnore)+1)
	for _, name := range DefaultIgnore {
		ignore[name] = true
	}
	ignore[filepath.Base(dir)] = true

	return &Manager{root: root, dir: dir, ignore: ignore, logger: logger}, nil
}

// Dir returns the absolute sandbox path.
func (m *Manager) Dir() string {
	return m.dir
}

// Prepare recreates the sandbox as a fresh copy of the project tree.
func (m *Manager) Prepare() error {
	if err := m.Remove(); err != nil {
		return err
	}
	if err := m.copyTree(); err != nil {
		return fmt.Errorf("%w: %v", ErrSandboxCopy, err)
	}
	m.logger.WithFields(logrus.Fields{
		"root":    m.root,
		"sandbox": m.dir,
	}).Debug("sandbox prepared")
	return nil
}

// Remove deletes the sandbox. Read-only entries are made writable and the
// removal retried once.
func (m *Manager) Remove() error {
	if _, err := os.Lstat(m.dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	err := os.RemoveAll(m.dir)
	if err == nil {
		return nil
	}

	m.logger.WithError(err).WithField("sandbox", m.dir).Warn("sandbox removal failed, clearing read-only attributes and retrying")
	makeWritable(m.dir)
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSandboxRemove, m.dir, err)
	}
	return nil
}

// makeWritable grants owner write permission throughout a tree.
func makeWritable(dir string) {
	_ = os.Chmod(dir, 0o700) //nolint:errcheck // best effort before retry
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(path, 0o700) //nolint:errcheck
		} else if d.Type().IsRegular() {
			_ = os.Chmod(path, 0o600) //nolint:errcheck
		}
		return nil
	})
}

// skipDir reports whether a directory must not be copied.
func (m *Manager) skipDir(path string, name string) bool {
	return m.ignore[name] || filepath.Clean(path) == m.dir
}

func (m *Manager) copyTree() error {
	return filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(m.dir, 0o755)
		}
		if d.IsDir() && m.skipDir(path, d.Name()) {
			return filepath.SkipDir
		}

		target := filepath.Join(m.dir, rel)
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// Sockets, pipes and devices are not part of a source tree.
			return nil
		}
	})
}

func copyFile(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read-only

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// Apply writes patches under the sandbox and returns how many were written.
func (m *Manager) Apply(patches []types.Patch) int {
	return WritePatches(m.dir, patches, m.logger)
}

// WritePatches writes each patch under root, creating parent directories.
// Failed writes and paths escaping root are logged and skipped.
func WritePatches(root string, patches []types.Patch, logger logrus.FieldLogger) int {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	applied := 0
	for _, p := range patches {
		log := logger.WithFields(logrus.Fields{"path": p.Path, "root": root})
		rel := filepath.FromSlash(p.Path)
		if !filepath.IsLocal(rel) {
			log.Warn("patch path escapes root, skipping")
			continue
		}
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			log.WithError(err).Warn("create patch directory failed, skipping")
			continue
		}
		if err := os.WriteFile(target, []byte(p.Content), 0o644); err != nil {
			log.WithError(err).Warn("write patch failed, skipping")
			continue
		}
		applied++
	}
	return applied
}
