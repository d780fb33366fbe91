package blob

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalStore keeps uploads under a directory on the local filesystem.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "local: create %s", root)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", eris.Errorf("local: key %q escapes storage root", key)
	}
	return p, nil
}

// Put writes to a temporary file and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "local: create dir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return eris.Wrapf(err, "local: create temp for %s", key)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return eris.Wrapf(err, "local: write %s", key)
	}
	if size >= 0 && n != size {
		return eris.Errorf("local: wrote %d bytes for %s, expected %d", n, key, size)
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "local: put cancelled")
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return eris.Wrapf(err, "local: rename %s", key)
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "local: open %s", key)
	}
	return f, nil
}

// Delete removes the file and its job directory when empty. Missing keys are
// not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "local: remove %s", key)
	}
	_ = os.Remove(filepath.Dir(p))
	return nil
}
