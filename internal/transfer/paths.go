package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/s3_batcher/internal/logctx"
)

const (
	dirPerm = 0755
)

// PathResolver makes sure destination directories exist before anything is written.
type PathResolver struct{}

// EnsureDir creates dir and all missing parents. It succeeds when dir already exists.
func (PathResolver) EnsureDir(ctx context.Context, dir string) error {
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to create directory", "dir", dir, "err", err)

		return &DirectoryError{Path: dir, Reason: reason(err), Err: err}
	}

	return nil
}

// EnsureParentDir creates the directory that will hold targetPath.
func (p PathResolver) EnsureParentDir(ctx context.Context, targetPath string) error {
	return p.EnsureDir(ctx, filepath.Dir(targetPath))
}

// EnsureParentDirs creates the parent directory of every download request,
// visiting each distinct directory once. The first failure is returned.
func (p PathResolver) EnsureParentDirs(ctx context.Context, reqs []Request) error {
	seen := make(map[string]struct{}, len(reqs))

	for _, req := range reqs {
		if req.Direction != Download {
			continue
		}

		dir := filepath.Dir(req.LocalPath)
		if _, ok := seen[dir]; ok {
			continue
		}

		seen[dir] = struct{}{}

		if err := p.EnsureDir(ctx, dir); err != nil {
			return err
		}
	}

	return nil
}

// JoinKey places key below base, keeping the key's relative structure.
// Keys that are empty, absolute or climb out of base are rejected.
func JoinKey(base, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", &InvalidKeyError{Key: key, Reason: "empty key"}
	}

	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", &InvalidKeyError{Key: key, Reason: "absolute key"}
	}

	rel := filepath.Clean(filepath.FromSlash(key))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &InvalidKeyError{Key: key, Reason: "escapes base directory"}
	}

	if strings.HasSuffix(key, "/") {
		return "", &InvalidKeyError{Key: key, Reason: "key names a prefix, not an object"}
	}

	return filepath.Join(base, rel), nil
}

func reason(err error) string {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return fmt.Sprintf("%s: %v", pathErr.Op, pathErr.Err)
	}

	return err.Error()
}
