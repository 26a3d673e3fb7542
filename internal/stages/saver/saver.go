// Package saver is the offline sink stage: reconstructed slices are written
// into per-plane directories as raw little-endian float32 files, optionally
// zstd-compressed.
package saver

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/fsutil"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
)

// Options configures the saver.
type Options struct {
	// Compress enables zstd compression of the written slices.
	Compress bool
	Log      *logging.Logger
}

// OfflineSaver writes each received slice to disk and closes it.
type OfflineSaver struct {
	path     string
	prefix   string
	compress bool
	log      *logging.Logger
	written  atomic.Uint64
}

// New creates the target directory (idempotently) and the saver.
func New(path, prefix string, opts Options) (*OfflineSaver, error) {
	if !fsutil.CreateDirectory(path) {
		return nil, fmt.Errorf("saver: could not create target directory %s", path)
	}
	log := opts.Log
	if log == nil {
		log = logging.NewNop()
	}
	return &OfflineSaver{path: path, prefix: prefix, compress: opts.Compress, log: log}, nil
}

// Save writes the slice into its plane directory and returns the buffer to
// the pool. Write failures are logged and the frame is dropped; the stage
// keeps running.
func (s *OfflineSaver) Save(img *memory.Image[float32]) {
	defer img.Close()

	dir := filepath.Join(s.path, fmt.Sprintf("plane%d", img.Plane()))
	if !fsutil.CreateDirectory(dir) {
		s.log.Warn("could not create plane directory", zap.String("dir", dir))
		return
	}

	name := fmt.Sprintf("%s_%06d.raw", s.prefix, img.Index())
	if s.compress {
		name += ".zst"
	}
	target := filepath.Join(dir, name)

	if err := s.write(target, img.Data()); err != nil {
		s.log.Warn("saving slice failed",
			zap.String("path", target),
			zap.Uint64("index", img.Index()),
			zap.Error(err))
		return
	}
	s.written.Add(1)
	s.log.Debug("saved slice",
		zap.String("path", target),
		zap.Uint64("index", img.Index()),
		zap.Duration("latency", img.Duration()))
}

// Written returns the number of slices written so far.
func (s *OfflineSaver) Written() uint64 {
	return s.written.Load()
}

func (s *OfflineSaver) write(path string, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if s.compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if err := binary.Write(enc, binary.LittleEndian, data); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}
	return binary.Write(f, binary.LittleEndian, data)
}
