package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/daioe-etl/internal/domain"
)

// TempDirName is the fallback cache directory under the OS temp dir.
const TempDirName = "employment_ai_cache"

// FileStore keeps results as files in a directory.
type FileStore struct {
	dir   string
	clock clockwork.Clock
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, clock clockwork.Clock) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %w", domain.ErrConfig, err)
	}
	return &FileStore{dir: dir, clock: clock}, nil
}

// ResolveDir returns the first candidate directory that can be created and
// written to, skipping empty candidates. The OS temp fallback is always tried last.
func ResolveDir(candidates ...string) (string, error) {
	candidates = append(candidates, filepath.Join(os.TempDir(), TempDirName))
	var errs []error
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if err := probe(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("%w: no writable cache directory: %w", domain.ErrConfig, errors.Join(errs...))
}

func probe(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Paths returns the weighted table, simple table and manifest paths of a taxonomy.
func (s *FileStore) Paths(tax domain.Taxonomy) (weighted, simple, manifest string) {
	return filepath.Join(s.dir, fmt.Sprintf("daioe_%s_weighted_v%d.csv", tax, Version)),
		filepath.Join(s.dir, fmt.Sprintf("daioe_%s_simple_v%d.csv", tax, Version)),
		filepath.Join(s.dir, fmt.Sprintf("daioe_%s_v%d.json", tax, Version))
}

// Read returns the cached result of a taxonomy, or domain.ErrCacheMiss when
// any of its files is absent.
func (s *FileStore) Read(_ context.Context, tax domain.Taxonomy) (domain.Result, error) {
	wPath, sPath, mPath := s.Paths(tax)
	var e entry
	for _, f := range []struct {
		path string
		dst  *[]byte
	}{{mPath, &e.manifest}, {wPath, &e.weighted}, {sPath, &e.simple}} {
		b, err := os.ReadFile(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Result{}, domain.ErrCacheMiss
		}
		if err != nil {
			return domain.Result{}, fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
		}
		*f.dst = b
	}
	return decodeEntry(tax, e)
}

// Write stores a result. Each file is replaced atomically; the manifest is
// written last so a reader never sees a manifest without its tables.
func (s *FileStore) Write(_ context.Context, r domain.Result) error {
	e, err := encodeEntry(r, s.clock.Now())
	if err != nil {
		return err
	}
	wPath, sPath, mPath := s.Paths(r.Taxonomy)
	for _, f := range []struct {
		path string
		data []byte
	}{{wPath, e.weighted}, {sPath, e.simple}, {mPath, e.manifest}} {
		if err := writeAtomic(f.path, f.data); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
