package compress

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jorgepascosoto/collection-archiver/internal/errors"
)

const ArchiveExtension = ".tar.gz"

// TarGzArchiver packs a file or directory tree into a gzip-compressed tar.
// Entries are streamed from disk through the compressor into the target
// file, so memory use does not grow with the size of the tree.
type TarGzArchiver struct {
	compressor *GzipCompressor
}

func NewTarGzArchiver(compressor *GzipCompressor) *TarGzArchiver {
	if compressor == nil {
		compressor = NewGzipCompressor()
	}
	return &TarGzArchiver{compressor: compressor}
}

// Archive writes src into a new archive at dst and returns the number of
// compressed bytes written. dst must not exist yet. On failure a partially
// written dst is left in place for the caller.
func (a *TarGzArchiver) Archive(ctx context.Context, src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, errors.NewArchiveError(dst, fmt.Errorf("failed to stat source: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, errors.NewArchiveError(dst, fmt.Errorf("failed to create archive directory: %w", err))
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, errors.NewArchiveError(dst, fmt.Errorf("failed to create archive: %w", err))
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		pw.CloseWithError(writeTar(ctx, pw, src, info))
	}()

	compressed := a.compressor.Compress(pr)
	defer compressed.Close()

	n, err := io.Copy(f, compressed)
	if err != nil {
		return n, errors.NewArchiveError(dst, err)
	}

	if err := f.Sync(); err != nil {
		return n, errors.NewArchiveError(dst, fmt.Errorf("failed to sync archive: %w", err))
	}
	if err := f.Close(); err != nil {
		return n, errors.NewArchiveError(dst, fmt.Errorf("failed to close archive: %w", err))
	}

	return n, nil
}

// writeTar emits src and, for directories, everything beneath it. Entry
// names are relative to src's parent so the archive unpacks into a
// directory named after src.
func writeTar(ctx context.Context, w io.Writer, src string, info fs.FileInfo) error {
	tw := tar.NewWriter(w)
	base := filepath.Dir(src)

	if !info.IsDir() {
		if err := addEntry(tw, src, filepath.Base(src), info); err != nil {
			return err
		}
		return tw.Close()
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		return addEntry(tw, path, rel, fi)
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

func addEntry(tw *tar.Writer, path, name string, fi fs.FileInfo) error {
	var link string
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	if fi.IsDir() {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if !fi.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}
