package drive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sipeed/driveclaw/pkg/capability"
)

const defaultMaxReadBytes = 10 * 1024 * 1024

// LocalDrive serves a directory tree as a drive. Every drive path resolves
// inside root; symlinks that leave it are refused.
type LocalDrive struct {
	root         string
	realRoot     string
	maxReadBytes int64
}

func NewLocalDrive(root string) (*LocalDrive, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve drive root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("drive root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("drive root %s is not a directory", abs)
	}
	real := abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		real = filepath.Clean(resolved)
	}
	return &LocalDrive{root: abs, realRoot: real, maxReadBytes: defaultMaxReadBytes}, nil
}

func (d *LocalDrive) SetMaxReadBytes(n int64) {
	if n > 0 {
		d.maxReadBytes = n
	}
}

// resolve maps a drive path to an absolute filesystem path within root.
func (d *LocalDrive) resolve(op, p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", capability.Permission(op, fmt.Errorf("invalid path %q", p))
	}
	absPath := filepath.Join(d.root, filepath.FromSlash(path.Clean("/"+p)))
	if !isWithinRoot(absPath, d.root) {
		return "", capability.Permission(op, fmt.Errorf("access denied: %s is outside the drive", p))
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		if !isWithinRoot(resolved, d.realRoot) {
			return "", capability.Permission(op, fmt.Errorf("access denied: %s resolves outside the drive", p))
		}
	} else if os.IsNotExist(err) {
		if parent, err := resolveExistingAncestor(filepath.Dir(absPath)); err == nil {
			if !isWithinRoot(parent, d.realRoot) {
				return "", capability.Permission(op, fmt.Errorf("access denied: %s resolves outside the drive", p))
			}
		} else if !os.IsNotExist(err) {
			return "", classifyOSError(op, p, err)
		}
	} else {
		return "", classifyOSError(op, p, err)
	}

	return absPath, nil
}

func (d *LocalDrive) drivePath(absPath string) string {
	rel, err := filepath.Rel(d.root, absPath)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

func (d *LocalDrive) List(ctx context.Context, p string) ([]Entry, error) {
	const op = "drive.list"
	absPath, err := d.resolve(op, p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, classifyOSError(op, p, err)
	}
	if !info.IsDir() {
		return []Entry{d.entryFor(absPath, info)}, nil
	}

	dirEntries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, classifyOSError(op, p, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, capability.Transient(op, err)
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, d.entryFor(filepath.Join(absPath, de.Name()), info))
	}
	sortEntries(entries)
	return entries, nil
}

func (d *LocalDrive) entryFor(absPath string, info fs.FileInfo) Entry {
	e := Entry{
		Name:       info.Name(),
		Path:       d.drivePath(absPath),
		ModifiedAt: info.ModTime().UTC(),
	}
	if info.IsDir() {
		e.Type = TypeFolder
		return e
	}
	e.Type = TypeFile
	e.Size = info.Size()
	e.MimeType = MimeTypeByName(info.Name())
	return e
}

func (d *LocalDrive) Delete(ctx context.Context, p string) error {
	const op = "drive.delete"
	absPath, err := d.resolve(op, p)
	if err != nil {
		return err
	}
	if absPath == d.root {
		return capability.Permission(op, errors.New("refusing to delete the drive root"))
	}
	if _, err := os.Lstat(absPath); err != nil {
		return classifyOSError(op, p, err)
	}
	if err := os.RemoveAll(absPath); err != nil {
		return classifyOSError(op, p, err)
	}
	return nil
}

// Move renames source to destination. An existing destination folder
// receives source under its own name; an existing destination file is a
// conflict.
func (d *LocalDrive) Move(ctx context.Context, source, destination string) error {
	const op = "drive.move"
	src, err := d.resolve(op, source)
	if err != nil {
		return err
	}
	dst, err := d.resolve(op, destination)
	if err != nil {
		return err
	}
	if src == d.root {
		return capability.Permission(op, errors.New("refusing to move the drive root"))
	}
	if _, err := os.Lstat(src); err != nil {
		return classifyOSError(op, source, err)
	}

	target := dst
	if info, err := os.Stat(dst); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s: %w", destination, capability.ErrConflict)
		}
		target = filepath.Join(dst, filepath.Base(src))
		if _, err := os.Lstat(target); err == nil {
			return fmt.Errorf("%s: %w", d.drivePath(target), capability.ErrConflict)
		}
	} else if os.IsNotExist(err) {
		parent := filepath.Dir(dst)
		if info, err := os.Stat(parent); err != nil || !info.IsDir() {
			return capability.NotFound(d.drivePath(parent))
		}
	} else {
		return classifyOSError(op, destination, err)
	}

	if isWithinRoot(target, src) {
		return capability.Permission(op, errors.New("cannot move a folder into itself"))
	}
	if err := os.Rename(src, target); err != nil {
		return classifyOSError(op, source, err)
	}
	return nil
}

func (d *LocalDrive) Read(ctx context.Context, p string) (Content, error) {
	const op = "drive.read"
	absPath, err := d.resolve(op, p)
	if err != nil {
		return Content{}, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return Content{}, classifyOSError(op, p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Content{}, classifyOSError(op, p, err)
	}
	if info.IsDir() {
		return Content{}, capability.Unavailable(op, fmt.Errorf("%s is a folder", p))
	}

	data, truncated, err := readCapped(f, d.maxReadBytes)
	if err != nil {
		return Content{}, classifyOSError(op, p, err)
	}
	mt := MimeTypeByName(info.Name())
	if mt == "" {
		mt = baseMimeType(http.DetectContentType(data))
	}
	return Content{Data: data, MimeType: mt, Truncated: truncated}, nil
}

func classifyOSError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return capability.NotFound(p)
	case errors.Is(err, fs.ErrPermission):
		return capability.Permission(op, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s: %w", p, capability.ErrConflict)
	default:
		return &capability.Error{Kind: capability.KindOf(err), Op: op, Err: err}
	}
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == TypeFolder
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

func resolveExistingAncestor(p string) (string, error) {
	for current := filepath.Clean(p); ; current = filepath.Dir(current) {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(current) == current {
			return "", os.ErrNotExist
		}
	}
}

func isWithinRoot(candidate, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(candidate))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
