package language

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"

	appErr "judgecore/pkg/errors"
)

// materializeBlob writes a code blob into dir according to its kind:
// TEXT is written verbatim under filename; TAR/ZIP are extracted in
// full. RAR has no suitable standard-library or ecosystem decoder
// available to this module and is rejected explicitly rather than
// silently mishandled.
func materializeBlob(dir, filename string, blob []byte, kind CodeKind) error {
	switch kind {
	case Text:
		return os.WriteFile(filepath.Join(dir, filename), blob, 0644)
	case Tar:
		return extractTar(bytes.NewReader(blob), dir)
	case Zip:
		return extractZip(blob, dir)
	case Rar:
		return appErr.New(appErr.InvalidFormat).WithMessage("RAR code archives are not supported")
	default:
		return appErr.Newf(appErr.InvalidFormat, "unknown code kind %d", kind)
	}
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return appErr.Wrap(err, appErr.InvalidFormat)
		}
		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777|0600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

func extractZip(blob []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return appErr.Wrap(err, appErr.InvalidFormat)
	}
	for _, f := range zr.File {
		target, err := safeJoin(dir, f.Name)
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

// safeJoin joins dir and name, rejecting any path-traversal attempt by
// an untrusted archive member.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if target != dir && !isWithinDir(target, dir) {
		return "", appErr.Newf(appErr.InvalidFormat, "archive member escapes target directory: %q", name)
	}
	return target, nil
}

func isWithinDir(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || rel[2] == os.PathSeparator)
}

// copyTree recursively copies src into dst, creating dst if needed.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode()|0600)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// resetOwnership restores a conservative mode recursively after
// extracting an untrusted archive, standing in for a real sandbox's
// privilege-drop chown (component A is contract-only: the concrete
// ownership model depends on the sandbox implementation actually
// deployed). Grounded on original_source/jd4/util.py:chmod_recursive.
func resetOwnership(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		mode := os.FileMode(0644)
		if info.IsDir() {
			mode = 0755
		}
		return os.Chmod(path, mode)
	})
}
