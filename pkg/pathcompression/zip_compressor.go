package pathcompression

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// zipCompressor writes zip archives with klauspost's deflate implementation.
// Flate writers are pooled; one compressor may serve several workers.
type zipCompressor struct {
	flatePool *sync.Pool
}

// pooledFlateWriter returns its flate writer to the pool on Close.
type pooledFlateWriter struct {
	*flate.Writer
	pool *sync.Pool
}

func (w *pooledFlateWriter) Close() error {
	err := w.Writer.Close()
	w.pool.Put(w.Writer)
	return err
}

func newZipCompressor(level Level) *zipCompressor {
	lvl := level.flateLevel()
	return &zipCompressor{
		flatePool: &sync.Pool{
			New: func() any {
				fw, _ := flate.NewWriter(io.Discard, lvl)
				return fw
			},
		},
	}
}

func (c *zipCompressor) compress(ctx context.Context, absSrcDir string, w io.Writer) (retErr error) {
	bufWriter := bufio.NewWriterSize(w, 256*1024)
	zw := zip.NewWriter(bufWriter)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		fw := c.flatePool.Get().(*flate.Writer)
		fw.Reset(out)
		return &pooledFlateWriter{Writer: fw, pool: c.flatePool}, nil
	})

	defer func() {
		if err := zw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("zip writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	buf := make([]byte, 64*1024)
	return walkRegularFiles(ctx, absSrcDir, func(absPath, relPathKey string, info os.FileInfo) error {
		plog.Debug("ADD", "file", relPathKey)
		return writeZipFile(zw, absPath, relPathKey, info, buf)
	})
}

func writeZipFile(zw *zip.Writer, absPath, relPathKey string, info os.FileInfo, buf []byte) error {
	f, err := secureFileOpen(absPath, info)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", absPath, err)
	}
	defer f.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey
	header.Method = zip.Deflate

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write zip header for %s: %w", relPathKey, err)
	}
	if _, err := io.CopyBuffer(entry, f, buf); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", relPathKey, err)
	}
	return nil
}
