// Package hashing computes content hashes of files with a configurable
// algorithm. Files are streamed through a pooled 64 KiB buffer.
package hashing

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
)

const chunkSize = 64 * 1024

// Hasher hashes file contents with a single method. It is safe for concurrent use.
type Hasher struct {
	method     Method
	bufferPool *sync.Pool
}

// NewHasher creates a Hasher for the given method.
func NewHasher(method Method) *Hasher {
	return &Hasher{
		method: method,
		bufferPool: &sync.Pool{
			New: func() any {
				b := make([]byte, chunkSize)
				return &b
			},
		},
	}
}

// Method returns the configured hash method.
func (h *Hasher) Method() Method {
	return h.method
}

// HashFile returns the lowercase hex digest of the file at absPath.
func (h *Hasher) HashFile(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", absPath, err)
	}
	defer f.Close()

	sum, err := h.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", absPath, err)
	}
	return sum, nil
}

// HashReader returns the lowercase hex digest of everything read from r.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	bufPtr := h.bufferPool.Get().(*[]byte)
	defer h.bufferPool.Put(bufPtr)

	digest := h.method.New()
	if _, err := io.CopyBuffer(digest, r, *bufPtr); err != nil {
		return "", err
	}
	return Hex(digest), nil
}

// Hex returns the lowercase hex digest of everything written to d so far.
func Hex(d hash.Hash) string {
	return hex.EncodeToString(d.Sum(nil))
}
