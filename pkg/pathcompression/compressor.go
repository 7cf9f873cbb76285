package pathcompression

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// compressor packs every regular file below a directory into w.
type compressor interface {
	compress(ctx context.Context, absSrcDir string, w io.Writer) error
}

func newCompressor(format Format, level Level) compressor {
	switch format {
	case Zip:
		return newZipCompressor(level)
	default:
		return &tarCompressor{format: format, level: level}
	}
}

// walkRegularFiles calls fn for every regular file below absDir in lexical
// order. Day folders only ever contain regular files and directories written
// by the copier; anything else is skipped.
func walkRegularFiles(ctx context.Context, absDir string, fn func(absPath, relPathKey string, info os.FileInfo) error) error {
	return filepath.WalkDir(absDir, func(absPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", absPath, err)
		}
		rel, err := filepath.Rel(absDir, absPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", absPath, err)
		}
		return fn(absPath, util.NormalizePath(rel), info)
	})
}

// secureFileOpen opens absFilePath and verifies it is still the file seen
// during the walk. A size change would corrupt the tar stream, whose header
// is written before the content.
func secureFileOpen(absFilePath string, expected os.FileInfo) (*os.File, error) {
	f, err := os.Open(absFilePath)
	if err != nil {
		return nil, err
	}

	opened, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat opened file: %w", err)
	}
	if !os.SameFile(expected, opened) {
		f.Close()
		return nil, fmt.Errorf("file was replaced while archiving: %s", absFilePath)
	}
	if opened.Size() != expected.Size() {
		f.Close()
		return nil, fmt.Errorf("file size changed while archiving: %s", absFilePath)
	}
	return f, nil
}
