package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

const (
	DefaultListDepth = 4
	DefaultFileLimit = 500
)

// Lister reads the library and failed trees. It never writes.
type Lister struct {
	root   string
	failed string
}

func NewLister(libraryRoot, failedRoot string) *Lister {
	return &Lister{root: libraryRoot, failed: failedRoot}
}

// ListFolders returns directories up to maxDepth levels below the root,
// shallow first, then case-insensitively by path. A missing root is empty.
func (l *Lister) ListFolders(ctx context.Context, maxDepth int) ([]domain.LibraryFolder, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultListDepth
	}

	folders := make([]domain.LibraryFolder, 0, 32)
	err := walkTree(ctx, l.root, maxDepth, func(rel string, depth int, d fs.DirEntry) error {
		if d.IsDir() {
			folders = append(folders, domain.LibraryFolder{Path: rel, Depth: depth})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk library: %w", err)
	}

	slices.SortFunc(folders, func(a, b domain.LibraryFolder) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}
		return strings.Compare(strings.ToLower(a.Path), strings.ToLower(b.Path))
	})
	return folders, nil
}

// ListFiles returns regular files of area up to maxDepth levels deep,
// sorted case-insensitively by path. At most limit files are returned; the
// bool reports whether more were found. Hidden entries are skipped.
func (l *Lister) ListFiles(ctx context.Context, area domain.FileArea, maxDepth, limit int) ([]domain.StoredFile, bool, error) {
	const op = "list files"

	var root string
	switch area {
	case domain.AreaLibrary, "":
		root = l.root
	case domain.AreaFailed:
		root = l.failed
	default:
		return nil, false, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unknown area %q", area))
	}
	if root == "" {
		return nil, false, nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultListDepth
	}
	if limit <= 0 {
		limit = DefaultFileLimit
	}

	files := make([]domain.StoredFile, 0, 64)
	err := walkTree(ctx, root, maxDepth, func(rel string, _ int, d fs.DirEntry) error {
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		files = append(files, domain.StoredFile{Path: rel, Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("walk %s: %w", area, err)
	}

	slices.SortFunc(files, func(a, b domain.StoredFile) int {
		return strings.Compare(strings.ToLower(a.Path), strings.ToLower(b.Path))
	})
	if len(files) > limit {
		return files[:limit], true, nil
	}
	return files, false, nil
}

// walkTree visits entries below root up to maxDepth with slash-separated
// relative paths. A missing root visits nothing.
func walkTree(ctx context.Context, root string, maxDepth int, visit func(rel string, depth int, d fs.DirEntry) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/") + 1
		if depth > maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return visit(rel, depth, d)
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
