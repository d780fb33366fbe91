// Package blob stores uploaded source files until a worker has ingested them.
package blob

import (
	"context"
	"io"
	"path"
	"path/filepath"

	"github.com/kiranshivaraju/adlens/internal/config"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Open for a key that was never written.
var ErrNotFound = eris.New("blob not found")

// Store persists upload bodies by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Key returns the storage key for one submission's upload. The token keeps
// uploads of different submissions under the same job id apart.
func Key(jobID, token, filename string) string {
	return path.Join("jobs", jobID, token, filepath.Base(filename))
}

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStore(cfg.LocalDir)
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	default:
		return nil, eris.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
