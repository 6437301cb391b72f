package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// LockFileName is the marker whose presence means a writer owns the
	// directory.
	LockFileName = "write.lock"

	commitPrefix = "segments_"
	commitSuffix = ".spdx"
)

// Directory is a filesystem directory holding commit files and the write
// lock marker.
type Directory struct {
	path string
}

// OpenDirectory returns a Directory rooted at path, creating it if needed.
func OpenDirectory(path string) (*Directory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Directory{path: path}, nil
}

func (d *Directory) Path() string { return d.path }

// LockPath is the full path of the write lock marker.
func (d *Directory) LockPath() string {
	return filepath.Join(d.path, LockFileName)
}

// IsLocked reports whether the write lock marker exists.
func (d *Directory) IsLocked() bool {
	_, err := os.Stat(d.LockPath())
	return err == nil
}

// ForceUnlock removes the write lock marker regardless of its owner.
func (d *Directory) ForceUnlock() error {
	if err := os.Remove(d.LockPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock marker: %w", err)
	}
	return nil
}

// IsEmpty reports whether the directory holds no commit.
func (d *Directory) IsEmpty() (bool, error) {
	gens, err := d.generations()
	if err != nil {
		return false, err
	}
	return len(gens) == 0, nil
}

func (d *Directory) obtainLock() error {
	f, err := os.OpenFile(d.LockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrLockObtainFailed
		}
		return fmt.Errorf("creating lock marker: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(d.LockPath())
		return fmt.Errorf("writing lock marker: %w", werr)
	}
	return nil
}

func (d *Directory) commitPath(gen uint64) string {
	return filepath.Join(d.path, fmt.Sprintf("%s%d%s", commitPrefix, gen, commitSuffix))
}

// generations lists commit generations present on disk, ascending.
func (d *Directory) generations() ([]uint64, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("listing index directory: %w", err)
	}
	var gens []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, commitPrefix) || !strings.HasSuffix(name, commitSuffix) {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, commitPrefix), commitSuffix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// latestCommit loads the newest commit, or returns ErrIndexNotFound.
func (d *Directory) latestCommit() (*commitFile, error) {
	gens, err := d.generations()
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, ErrIndexNotFound
	}
	return readCommit(d.commitPath(gens[len(gens)-1]))
}

// pruneCommits removes every commit older than keep.
func (d *Directory) pruneCommits(keep uint64) error {
	gens, err := d.generations()
	if err != nil {
		return err
	}
	for _, g := range gens {
		if g >= keep {
			continue
		}
		if err := os.Remove(d.commitPath(g)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing old commit %d: %w", g, err)
		}
	}
	return nil
}
