package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mx-space/cloud/internal/cloud"
)

const (
	objectDirPerm  = 0o755
	objectFilePerm = 0o644
)

// Storage is a cloud.ObjectStorage backed by a directory. Writes go to a
// temporary file that is renamed over the target.
type Storage struct {
	root string
}

var _ cloud.ObjectStorage = (*Storage)(nil)

func NewStorage(root string) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, objectDirPerm); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Storage{root: abs}, nil
}

// Root returns the storage directory.
func (s *Storage) Root() string { return s.root }

func (s *Storage) PutObject(ctx context.Context, path, content string) error {
	const op = "putObject"
	if err := ctx.Err(); err != nil {
		return cloud.Wrap(cloud.KindStorage, op, path, err)
	}

	target, err := s.resolve(path)
	if err != nil {
		return cloud.Wrap(cloud.KindStorage, op, path, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), objectDirPerm); err != nil {
		return cloud.Wrap(cloud.KindStorage, op, path, err)
	}

	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, []byte(content), objectFilePerm); err != nil {
		_ = os.Remove(tmp)
		return cloud.Wrap(cloud.KindStorage, op, path, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return cloud.Wrap(cloud.KindStorage, op, path, err)
	}
	return nil
}

// GetObject reads an object back. It is not part of cloud.ObjectStorage.
func (s *Storage) GetObject(path string) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", cloud.Wrap(cloud.KindStorage, "getObject", path, err)
	}
	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return "", cloud.NewError(cloud.KindNotFound, "getObject", path, nil)
	}
	if err != nil {
		return "", cloud.Wrap(cloud.KindStorage, "getObject", path, err)
	}
	return string(data), nil
}

func (s *Storage) resolve(path string) (string, error) {
	key := cloud.NormalizeObjectKey(path)
	if key == "" {
		return "", fmt.Errorf("invalid object key %q", path)
	}
	target := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes storage root", path)
	}
	return target, nil
}
