package problem

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	appErr "judgecore/pkg/errors"
)

// Bundle is an opened problem-package ZIP archive with a case-insensitive
// member index, per spec.md §4.F.
type Bundle struct {
	zr      *zip.ReadCloser
	byLower map[string]*zip.File
}

// OpenBundle opens the ZIP file at path and indexes its members.
func OpenBundle(path string) (*Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ProblemBundleCorrupt)
	}
	b := &Bundle{zr: zr, byLower: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		b.byLower[strings.ToLower(f.Name)] = f
	}
	return b, nil
}

// Close releases the underlying archive.
func (b *Bundle) Close() error {
	return b.zr.Close()
}

// Has reports whether name exists in the bundle, case-insensitively.
func (b *Bundle) Has(name string) bool {
	_, ok := b.byLower[strings.ToLower(name)]
	return ok
}

// Open returns a readable stream over the named member, resolved
// case-insensitively. Each call returns a fresh reader.
func (b *Bundle) Open(name string) (io.ReadCloser, error) {
	f, ok := b.byLower[strings.ToLower(name)]
	if !ok {
		return nil, appErr.Newf(appErr.ProblemBundleNotFound, "bundle member %q not found", name)
	}
	return f.Open()
}

// Extract writes every member whose name starts with prefix
// (case-insensitively) into destDir. When preserveSubfolder is false,
// the prefix itself is stripped from each member's path, flattening one
// level; when true, the member's full relative path (including prefix)
// is preserved under destDir.
func (b *Bundle) Extract(prefix, destDir string, preserveSubfolder bool) error {
	lowerPrefix := strings.ToLower(prefix)
	for _, f := range b.zr.File {
		lowerName := strings.ToLower(f.Name)
		if !strings.HasPrefix(lowerName, lowerPrefix) {
			continue
		}
		rel := f.Name
		if !preserveSubfolder {
			// The match above ignores case, so strip the prefix by
			// length rather than by prefix's exact spelling.
			if len(lowerName) == len(f.Name) {
				rel = f.Name[len(lowerPrefix):]
			} else {
				rel = strings.TrimPrefix(f.Name, prefix)
			}
			rel = strings.TrimPrefix(rel, "/")
		}
		if rel == "" {
			continue
		}
		target, err := safeJoinBundle(destDir, rel)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func safeJoinBundle(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", appErr.Newf(appErr.ProblemBundleCorrupt, "archive member escapes destination: %q", name)
	}
	return target, nil
}
