package pathcompression

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// tarCompressor writes tar.gz (parallel gzip via pgzip) or tar.zst archives.
type tarCompressor struct {
	format Format
	level  Level
}

func (c *tarCompressor) compress(ctx context.Context, absSrcDir string, w io.Writer) (retErr error) {
	bufWriter := bufio.NewWriterSize(w, 256*1024)

	var compressedWriter io.WriteCloser
	if c.format == TarZst {
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(c.level.zstdLevel()))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	} else {
		gw, err := pgzip.NewWriterLevel(bufWriter, c.level.flateLevel())
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	}

	tw := tar.NewWriter(compressedWriter)

	// Close in order: tar trailer, compressor frame, buffered bytes.
	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	buf := make([]byte, 64*1024)
	return walkRegularFiles(ctx, absSrcDir, func(absPath, relPathKey string, info os.FileInfo) error {
		plog.Debug("ADD", "file", relPathKey)
		return writeTarFile(tw, absPath, relPathKey, info, buf)
	})
}

func writeTarFile(tw *tar.Writer, absPath, relPathKey string, info os.FileInfo, buf []byte) error {
	f, err := secureFileOpen(absPath, info)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", absPath, err)
	}
	defer f.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
	}
	if _, err := io.CopyBuffer(tw, f, buf); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", relPathKey, err)
	}
	return nil
}
