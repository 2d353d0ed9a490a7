// Package archive extracts compressed tar archives into a destination
// directory while refusing any member whose resolved path would land
// outside it. Conda-pack tarballs are untrusted input: a crafted member
// name or symlink must never cause a write outside the run directory.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	// ErrPathTraversal marks a member whose name or link target escapes
	// the destination directory. Always fatal to the whole extraction.
	ErrPathTraversal = errors.New("archive member escapes destination directory")

	// ErrUnknownFormat marks input that is not a recognized compressed
	// tar stream (including empty files).
	ErrUnknownFormat = errors.New("unrecognized archive format")
)

// sniffLen covers the tar ustar magic at offset 257.
const sniffLen = 512

// Extract unpacks the archive at archivePath into destDir.
//
// Every member is validated before a single byte of it is written:
// the joined destination path must stay inside destDir after resolving
// both ".." components and any symlinks already present on disk
// (including symlinks created by earlier members of the same archive).
// Symlink and hardlink members are held to the same rule via their
// resolved targets. A violation aborts extraction with ErrPathTraversal.
//
// On an I/O failure mid-stream the partially extracted tree is left in
// place; the caller is expected to have registered destDir for cleanup
// before calling.
func Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("extract %s: %w", archivePath, err)
	}
	defer f.Close()

	stream, closeStream, err := decompress(f)
	if err != nil {
		return fmt.Errorf("extract %s: %w", archivePath, err)
	}
	if closeStream != nil {
		defer closeStream()
	}

	resolvedDest, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return fmt.Errorf("extract %s: resolve destination: %w", archivePath, err)
	}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract %s: read member: %w", archivePath, err)
		}

		if err := extractMember(tr, hdr, destDir, resolvedDest); err != nil {
			return fmt.Errorf("extract %s: member %q: %w", archivePath, hdr.Name, err)
		}
	}
}

// decompress sniffs the stream's magic bytes and wraps it in the
// matching decoder. Format is decided from content, never the filename.
func decompress(f *os.File) (io.Reader, func(), error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, nil, err
	}
	head = head[:n]

	raw := io.MultiReader(bytes.NewReader(head), f)

	switch {
	case len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b:
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { gz.Close() }, nil

	case len(head) >= 3 && head[0] == 'B' && head[1] == 'Z' && head[2] == 'h':
		return bzip2.NewReader(raw), nil, nil

	case len(head) >= 6 && bytes.Equal(head[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xr, err := xz.NewReader(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("xz: %w", err)
		}
		return xr, nil, nil

	case len(head) >= 4 && bytes.Equal(head[:4], []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), func() { zr.Close() }, nil

	case len(head) >= 262 && bytes.Equal(head[257:262], []byte("ustar")):
		return raw, nil, nil
	}

	return nil, nil, ErrUnknownFormat
}

func extractMember(tr *tar.Reader, hdr *tar.Header, destDir, resolvedDest string) error {
	if filepath.IsAbs(hdr.Name) {
		return fmt.Errorf("absolute member name: %w", ErrPathTraversal)
	}

	full := filepath.Join(destDir, hdr.Name)

	// Relative escape check first (cheap, no filesystem access), then
	// resolve the path through any symlinks already on disk. The second
	// check is what catches a member written through a symlink that an
	// earlier member planted.
	if escapesViaRelative(destDir, hdr.Name) {
		return ErrPathTraversal
	}
	resolved, err := resolveExisting(full)
	if err != nil {
		return fmt.Errorf("resolve member path: %w", err)
	}
	if !within(resolvedDest, resolved) {
		return ErrPathTraversal
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(full, hdr.FileInfo().Mode().Perm()|0700); err != nil {
			return err
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		out, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}

	case tar.TypeSymlink:
		if err := checkLinkTarget(hdr.Linkname, full, resolvedDest); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		os.Remove(full)
		if err := os.Symlink(hdr.Linkname, full); err != nil {
			return err
		}

	case tar.TypeLink:
		target := filepath.Join(destDir, hdr.Linkname)
		if escapesViaRelative(destDir, hdr.Linkname) {
			return ErrPathTraversal
		}
		resolvedTarget, err := resolveExisting(target)
		if err != nil {
			return fmt.Errorf("resolve hardlink target: %w", err)
		}
		if !within(resolvedDest, resolvedTarget) {
			return ErrPathTraversal
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.Link(target, full); err != nil {
			return err
		}

	default:
		// Character/block devices, fifos and the like have no place in
		// a runtime environment tarball; skip them.
	}

	return nil
}

// checkLinkTarget validates a symlink member's target. The target is
// resolved relative to the link's own directory and must stay inside
// the destination, because once the link exists later members (or the
// child process) may write through it.
func checkLinkTarget(linkname, full, resolvedDest string) error {
	var target string
	if filepath.IsAbs(linkname) {
		target = linkname
	} else {
		target = filepath.Join(filepath.Dir(full), linkname)
	}

	resolved, err := resolveExisting(target)
	if err != nil {
		return fmt.Errorf("resolve symlink target: %w", err)
	}
	if !within(resolvedDest, resolved) {
		return fmt.Errorf("symlink target %q: %w", linkname, ErrPathTraversal)
	}
	return nil
}

// escapesViaRelative reports whether name, joined to base, climbs out
// of base using ".." components alone.
func escapesViaRelative(base, name string) bool {
	rel, err := filepath.Rel(base, filepath.Join(base, name))
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting resolves path through symlinks using its deepest
// existing ancestor, then re-joins the not-yet-created remainder. A
// plain EvalSymlinks would fail for members whose parents the archive
// has not materialized yet.
func resolveExisting(path string) (string, error) {
	var suffix []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, suffix...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}
}

// within reports whether path is base itself or a descendant of base.
// Both arguments must already be symlink-resolved.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
