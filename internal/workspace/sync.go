package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/tadfisher/idea-lsp/internal/scanner"
)

// Sync mirrors the client path (a file or a directory subtree) into the
// sandbox, replacing whatever the sandbox held there. A path that no longer
// exists on the client side is removed from the sandbox. On failure the
// sandbox keeps its previous content for that path.
func (w *Workspace) Sync(ctx context.Context, clientPath string) error {
	rel, err := w.resolver.SandboxRel(clientPath)
	if err != nil {
		return &SyncError{Path: clientPath, Err: err}
	}
	if w.isSandboxPath(clientPath) {
		log.Debugf("workspace %s: %s holds sandboxes", w.id, rel)
		return nil
	}
	if rel != "." && scanner.Excluded(filepath.ToSlash(rel), w.opts.Exclude) {
		log.Debugf("workspace %s: %s is excluded", w.id, rel)
		return nil
	}

	return w.Write(ctx, "sync "+rel, func(ctx context.Context) error {
		dst := filepath.Join(w.SandboxRoot(), rel)
		src := w.resolver.ClientPath(rel)
		if err := w.mirror(ctx, src, dst, rel); err != nil {
			return &SyncError{Path: src, Err: err}
		}
		log.Debugf("workspace %s: synced %s", w.id, rel)

		w.mu.Lock()
		project := w.project
		w.mu.Unlock()
		if project != nil {
			project.FilesChanged([]string{dst})
		}
		return nil
	})
}

// SyncPaths syncs each client path, continuing past failures.
func (w *Workspace) SyncPaths(ctx context.Context, clientPaths []string) error {
	var errs []error
	for _, path := range clientPaths {
		if err := w.Sync(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) mirror(ctx context.Context, src, dst, rel string) error {
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return os.RemoveAll(dst)
	} else if err != nil {
		return err
	}

	if !info.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if existing, err := os.Stat(dst); err == nil && existing.IsDir() {
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
		}
		return copyFile(src, dst)
	}

	// Directories are staged next to the sandbox and swapped in whole.
	staging := filepath.Join(w.tempRoot, w.id+".stage-"+uuid.NewString()[:8])
	if err := w.copyTree(ctx, src, staging, rel); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.RemoveAll(staging)
		return err
	}
	old := ""
	if _, err := os.Lstat(dst); err == nil {
		old = filepath.Join(w.tempRoot, w.id+".old-"+uuid.NewString()[:8])
		if err := os.Rename(dst, old); err != nil {
			os.RemoveAll(staging)
			return err
		}
	}
	if err := os.Rename(staging, dst); err != nil {
		if old != "" {
			os.Rename(old, dst)
		}
		os.RemoveAll(staging)
		return err
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warningf("workspace %s: failed to remove %s: %s", w.id, old, err)
		}
	}
	return nil
}

// copyTree copies src into the new directory dst, skipping excluded
// entries. base is src relative to the project root.
func (w *Workspace) copyTree(ctx context.Context, src, dst, base string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && w.isSandboxPath(path) {
			return filepath.SkipDir
		}
		projectRel := filepath.ToSlash(filepath.Join(base, rel))
		if rel != "." && scanner.Excluded(projectRel, w.opts.Exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// Symlinks and special files are not mirrored.
			return nil
		}
	})
}

// isSandboxPath reports whether path is inside the directory holding the
// sandboxes. The sandbox directory may be configured inside the project.
func (w *Workspace) isSandboxPath(path string) bool {
	rel, err := filepath.Rel(w.tempRoot, filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := atomic.WriteFile(dst, f); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
