package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Disk is a Backend that maps keys to files under a base directory.
// Append relies on O_APPEND so concurrent line-terminated appends from the
// same host never interleave partial bytes.
type Disk struct {
	base string
}

// NewDisk returns a disk backend rooted at base, creating it if needed.
func NewDisk(base string) (*Disk, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base: %w", err)
	}
	return &Disk{base: abs}, nil
}

// Base returns the root directory of the backend.
func (d *Disk) Base() string { return d.base }

// path maps a key to a file path, rejecting escapes from the base directory.
func (d *Disk) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(d.base, clean), nil
}

func (d *Disk) Read(key string) ([]byte, bool, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return b, true, nil
}

func (d *Disk) ReadFrom(key string, offset int64) (ReadResult, error) {
	p, err := d.path(key)
	if err != nil {
		return ReadResult{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ReadResult{NewOffset: 0}, nil
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: open %s: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ReadResult{}, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	size := info.Size()
	if offset >= size {
		return ReadResult{NewOffset: size}, nil
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ReadResult{}, fmt.Errorf("storage: seek %s: %w", key, err)
	}
	// Read up to the stat'd size, not EOF: a concurrent appender may grow
	// the file mid-read and we only promise a valid prefix.
	buf := make([]byte, size-offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ReadResult{}, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return ReadResult{Content: buf[:n], NewOffset: offset + int64(n)}, nil
}

func (d *Disk) Write(key string, content []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %s: %w", key, err)
	}
	// Write to a temp file in the same directory, then rename. Readers see
	// either the old or the new content, never a torn write.
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp*")
	if err != nil {
		return fmt.Errorf("storage: temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return nil
}

func (d *Disk) Append(key string, content []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %s: %w", key, err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", key, err)
	}
	_, werr := f.Write(content)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("storage: append %s: %w", key, werr)
	}
	if cerr != nil {
		return fmt.Errorf("storage: close %s: %w", key, cerr)
	}
	return nil
}

func (d *Disk) Exists(key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return true, nil
}

func (d *Disk) List(prefix string) ([]string, error) {
	root := d.base
	if prefix != "" {
		p, err := d.path(prefix)
		if err != nil {
			return nil, err
		}
		root = p
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Disk) Delete(key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}
