package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const maxCollisionSuffix = 10000

// Place moves src to root/relDir/filename. When the name is taken it tries
// name_1.ext, name_2.ext and so on. The target name is reserved with
// O_CREATE|O_EXCL before the rename, so an existing file is never replaced;
// the reserved placeholder is empty until the rename lands.
//
// On failure the source is left where it was and nothing is left behind
// under root.
func (s *Storage) Place(ctx context.Context, src, root, relDir, filename string) (string, error) {
	const op = "place file"

	if err := ctx.Err(); err != nil {
		return "", domain.WrapError(domain.ErrMove, op, err)
	}
	if root == "" {
		return "", domain.WrapError(domain.ErrMove, op, errors.New("destination root is empty"))
	}
	if relDir != "" && !filepath.IsLocal(relDir) {
		return "", domain.WrapError(domain.ErrMove, op, fmt.Errorf("directory %q escapes %s", relDir, root))
	}
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", domain.WrapError(domain.ErrMove, op, fmt.Errorf("invalid filename %q", filename))
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", domain.WrapError(domain.ErrMove, op, fmt.Errorf("stat source: %w", err))
	}

	dir := filepath.Join(root, relDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.WrapError(domain.ErrMove, op, fmt.Errorf("create destination dir: %w", err))
	}

	reserved, err := reserve(dir, filename)
	if err != nil {
		return "", domain.WrapError(domain.ErrMove, op, err)
	}

	if err := os.Rename(src, reserved); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			_ = os.Remove(reserved)
			return "", domain.WrapError(domain.ErrMove, op, fmt.Errorf("rename: %w", err))
		}
		if err := copyAcross(src, reserved, srcInfo); err != nil {
			_ = os.Remove(reserved)
			return "", domain.WrapError(domain.ErrMove, op, err)
		}
	}

	abs, err := filepath.Abs(reserved)
	if err != nil {
		return reserved, nil
	}
	return abs, nil
}

// reserve creates an empty placeholder under the first free collision name.
func reserve(dir, filename string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for i := 0; i <= maxCollisionSuffix; i++ {
		name := filename
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		candidate := filepath.Join(dir, name)
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserve %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(candidate)
			return "", fmt.Errorf("reserve %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", filepath.Join(dir, filename), maxCollisionSuffix)
}

// copyAcross fills the reserved placeholder from src when rename cannot
// cross filesystems, then removes src.
func copyAcross(src, reserved string, srcInfo os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(reserved, os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("open placeholder: %w", err)
	}
	written, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	if written != srcInfo.Size() {
		return fmt.Errorf("copied %d of %d bytes", written, srcInfo.Size())
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}
