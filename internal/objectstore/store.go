package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/k8ika0s/fabric-env-publisher/internal/artifact"
)

// WheelContentType is the content type recorded for archived wheels.
const WheelContentType = "application/zip"

// Store archives uploaded wheels in an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// NullStore discards uploads.
type NullStore struct{}

func (NullStore) Put(_ context.Context, _ string, _ io.Reader, _ int64, _ string) error { return nil }

// WheelKey returns the object key of a wheel: <base>/<normalized name>/<filename>.
func WheelKey(base, packageName, filename string) string {
	return path.Join(base, artifact.NormalizeName(packageName), filename)
}

// Archive copies the local wheel to the store under its wheel key.
func Archive(ctx context.Context, s Store, base, packageName string, a *artifact.Artifact) (string, error) {
	if s == nil || a == nil {
		return "", nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	key := WheelKey(base, packageName, a.Filename)
	if err := s.Put(ctx, key, f, info.Size(), WheelContentType); err != nil {
		return key, fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}
