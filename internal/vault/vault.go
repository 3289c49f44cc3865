// Package vault provides filesystem operations on a local Obsidian vault
// directory. Every path is relative to the vault root and is rejected if
// it would escape it.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// vaultDirPerm is the permission mode for directories created inside
	// the vault. Group and other get read+execute for Obsidian access.
	vaultDirPerm = fs.FileMode(0o755)

	// vaultFilePerm is the permission mode for files written inside the
	// vault. Group and other get read access for shared access.
	vaultFilePerm = fs.FileMode(0o644)
)

// mtimeMin and mtimeMax clamp server-provided modification times to a
// reasonable range.
var (
	mtimeMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mtimeMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Vault provides filesystem operations on the vault directory. Writes
// are serialized by an exclusive lock, reads take a shared lock.
type Vault struct {
	root string
	mu   sync.RWMutex
}

// New opens the vault rooted at root. The directory must already exist;
// a missing vault is a configuration problem, not something to create.
func New(root string) (*Vault, error) {
	if root == "" {
		return nil, fmt.Errorf("vault path must not be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving vault path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("accessing vault path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", abs)
	}

	return &Vault{root: abs}, nil
}

// Root returns the absolute path to the vault root.
func (v *Vault) Root() string {
	return v.root
}

// ListDir returns the entries of a directory. An empty relPath lists the
// vault root. Entries are sorted by name.
func (v *Vault) ListDir(relPath string) ([]fs.DirEntry, error) {
	absPath := v.root

	if relPath != "" && relPath != "." {
		var err error

		absPath, err = v.resolve(relPath)
		if err != nil {
			return nil, err
		}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", displayPath(relPath), err)
	}

	return entries, nil
}

// ReadFile reads a file by relative path.
func (v *Vault) ReadFile(relPath string) ([]byte, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Vault.resolve
}

// WriteFile writes content to a file by relative path. Creates parent
// directories as needed. If mtime is non-zero, the file's modification
// time is set to that value after writing so the file carries the
// remote's timestamp rather than the time of the download.
func (v *Vault) WriteFile(relPath string, data []byte, mtime time.Time) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(absPath), vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	if err := os.WriteFile(absPath, data, vaultFilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}

	if !mtime.IsZero() {
		return chtimes(absPath, relPath, mtime)
	}

	return nil
}

// SetModTime sets the modification time of an existing file.
func (v *Vault) SetModTime(relPath string, mtime time.Time) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return chtimes(absPath, relPath, mtime)
}

func chtimes(absPath, relPath string, mtime time.Time) error {
	mtime = clampMtime(mtime)
	if err := os.Chtimes(absPath, mtime, mtime); err != nil {
		return fmt.Errorf("setting mtime for %s: %w", relPath, err)
	}

	return nil
}

// Mkdir creates a directory (and parents) by relative path.
func (v *Vault) Mkdir(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(absPath, vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", relPath, err)
	}

	return nil
}

// DeleteFile removes a file by relative path. Returns nil if the file
// does not exist.
func (v *Vault) DeleteFile(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}

	return nil
}

// DeleteDir removes a directory and all its contents by relative path.
// Returns nil if the directory does not exist.
func (v *Vault) DeleteDir(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.RemoveAll(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing directory %s: %w", relPath, err)
	}

	return nil
}

// Stat returns file info for a relative path.
func (v *Vault) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Stat(absPath)
}

// resolve converts a relative path to an absolute path within the vault
// directory, rejecting path traversal attempts. Validates against null
// bytes, ".." segments, and symlinks that escape the vault.
func (v *Vault) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte: %q", relPath)
	}

	relPath = strings.ReplaceAll(relPath, "\\", "/")

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", relPath)
		}
	}

	absPath := filepath.Join(v.root, filepath.FromSlash(relPath))
	if !strings.HasPrefix(absPath, v.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside vault dir", relPath)
	}

	real, err := evalExistingPrefix(absPath)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
	}

	rootReal, err := filepath.EvalSymlinks(v.root)
	if err != nil {
		return "", fmt.Errorf("resolving vault root: %w", err)
	}

	if !strings.HasPrefix(real, rootReal+string(os.PathSeparator)) && real != rootReal {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside vault dir", relPath, real)
	}

	return absPath, nil
}

// evalExistingPrefix resolves symlinks for the longest existing prefix of
// the path, so paths whose final components do not exist yet can still
// be checked for symlink escape.
func evalExistingPrefix(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, nil
	}

	if !os.IsNotExist(err) {
		return "", err
	}

	dir := filepath.Dir(abs)
	if dir == abs {
		return abs, nil
	}

	parentReal, err := evalExistingPrefix(dir)
	if err != nil {
		return "", err
	}

	return filepath.Join(parentReal, filepath.Base(abs)), nil
}

// clampMtime restricts a timestamp to the range [2000, 2100).
func clampMtime(t time.Time) time.Time {
	if t.Before(mtimeMin) {
		return mtimeMin
	}

	if t.After(mtimeMax) {
		return mtimeMax
	}

	return t
}

func displayPath(relPath string) string {
	if relPath == "" {
		return "vault root"
	}

	return relPath
}
