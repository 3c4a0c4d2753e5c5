package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Blob directories under the data root.
const (
	HotDir  = "hot"
	ColdDir = "cold"
)

// zstdExt marks compressed cold blobs.
const zstdExt = ".zst"

// Blobs stores screenshot files under a root directory.
// Refs are slash-separated paths relative to the root.
type Blobs struct {
	root string
}

// NewBlobs returns a blob store rooted at root.
func NewBlobs(root string) *Blobs {
	return &Blobs{root: root}
}

// Root returns the store's root directory.
func (b *Blobs) Root() string {
	return b.root
}

// HotRef is the location of a fresh capture: hot/YYYY/MM/DD/<id>.png (UTC).
func HotRef(id string, t time.Time) string {
	return HotDir + "/" + t.UTC().Format("2006/01/02") + "/" + id + ".png"
}

// ColdRef is the location of an archived capture: cold/YYYY-MM/<id>.png[.zst].
func ColdRef(id, period string, compressed bool) string {
	ref := ColdDir + "/" + period + "/" + id + ".png"
	if compressed {
		ref += zstdExt
	}
	return ref
}

// IsCompressedRef reports whether ref points at a zstd blob.
func IsCompressedRef(ref string) bool {
	return strings.HasSuffix(ref, zstdExt)
}

// path resolves ref under the root, rejecting refs that escape it.
func (b *Blobs) path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return filepath.Join(b.root, clean), nil
}

// Write stores data at ref atomically and returns the byte count.
func (b *Blobs) Write(ref string, data []byte) (int64, error) {
	p, err := b.path(ref)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return 0, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename blob: %w", err)
	}
	return int64(len(data)), nil
}

// ReadRaw returns the stored bytes at ref without decompressing.
func (b *Blobs) ReadRaw(ref string) ([]byte, error) {
	p, err := b.path(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Read returns the original image bytes at ref, decompressing zstd blobs.
func (b *Blobs) Read(ref string) ([]byte, error) {
	data, err := b.ReadRaw(ref)
	if err != nil {
		return nil, err
	}
	if IsCompressedRef(ref) {
		return decompress(data)
	}
	return data, nil
}

// Remove deletes the blob at ref. A missing blob is not an error.
func (b *Blobs) Remove(ref string) error {
	p, err := b.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	b.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

// pruneEmptyDirs removes empty directories from dir up to (not including) the tier roots.
func (b *Blobs) pruneEmptyDirs(dir string) {
	stops := map[string]bool{
		filepath.Clean(b.root):                      true,
		filepath.Join(b.root, HotDir):               true,
		filepath.Join(b.root, ColdDir):              true,
	}
	for !stops[filepath.Clean(dir)] {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Walk calls fn for every blob file under the tier directories.
func (b *Blobs) Walk(fn func(ref string, info fs.FileInfo) error) error {
	for _, tier := range []string{HotDir, ColdDir} {
		dir := filepath.Join(b.root, tier)
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(b.root, p)
			if err != nil {
				return err
			}
			return fn(filepath.ToSlash(rel), info)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
