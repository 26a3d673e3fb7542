// Package loader provides the offline source stages: a directory-based HIS
// loader for reprocessing recorded scans, and a paced variant that replays a
// preloaded scan at the configured scan rate for throughput measurements.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/fsutil"
	"github.com/HZDR-FWDF/RISA/internal/his"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
)

// defaultPattern selects the detector files of a recorded scan.
const defaultPattern = "*.his"

// Options carries the cross-stage collaborators.
type Options struct {
	// Pattern filters file base names (doublestar syntax); "*.his" if empty.
	Pattern string
	Pool    *memory.Pool[uint16]
	Log     *logging.Logger
}

// OfflineLoader replays the HIS files of a directory through the pipeline in
// lexicographic order.
type OfflineLoader struct {
	paths   []string
	next    int
	index   uint64
	stopped atomic.Bool

	his      *his.Loader[uint16]
	pool     *memory.Pool[uint16]
	poolID   int
	sinoSize int
	log      *logging.Logger
}

// New lists path, filters it by the pattern and registers the pool lane the
// loaded sinograms are served from.
func New(path string, cfg *config.Reader, opts Options) (*OfflineLoader, error) {
	l := &OfflineLoader{log: opts.Log}
	if l.log == nil {
		l.log = logging.NewNop()
	}

	var samplingRate, scanRate, detectors, poolSize int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("numberOfFanDetectors", &detectors) &&
		cfg.LookupValue("memPoolSize", &poolSize)
	if !ok || scanRate == 0 {
		return nil, fmt.Errorf("loader: configuration could not be read from %s", cfg.Path())
	}
	l.sinoSize = detectors * (samplingRate * 1e6 / scanRate)

	files, err := fsutil.ReadDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = defaultPattern
	}
	for _, f := range files {
		match, err := doublestar.Match(pattern, filepath.Base(f))
		if err != nil {
			return nil, fmt.Errorf("loader: bad pattern %q: %w", pattern, err)
		}
		if match {
			l.paths = append(l.paths, f)
		}
	}
	if len(l.paths) == 0 {
		return nil, fmt.Errorf("loader: no files matching %q under %s", pattern, path)
	}

	l.pool = opts.Pool
	if l.pool == nil {
		l.pool = memory.PoolFor[uint16](memory.Pinned[uint16]{})
	}
	l.poolID = l.pool.RegisterStage(poolSize, l.sinoSize)
	l.his = his.NewLoader[uint16](memory.Pageable[uint16]{})
	return l, nil
}

// LoadImage loads the next matching file into a pool-backed sinogram.
// Invalid files are skipped with a warning; ok is false once the directory
// is exhausted or the loader was stopped.
func (l *OfflineLoader) LoadImage() (*memory.Image[uint16], bool) {
	for !l.stopped.Load() && l.next < len(l.paths) {
		path := l.paths[l.next]
		l.next++

		raw := l.his.LoadImage(path, l.index)
		if !raw.Valid() {
			l.log.Warn("skipping invalid file", zap.String("path", path))
			continue
		}
		if raw.Size() != l.sinoSize {
			l.log.Warn("skipping file with unexpected geometry",
				zap.String("path", path),
				zap.Int("size", raw.Size()),
				zap.Int("expected", l.sinoSize))
			raw.Close()
			continue
		}

		sino := l.pool.RequestMemory(l.poolID)
		if !sino.Valid() {
			raw.Close()
			return nil, false
		}
		copy(sino.Data(), raw.Data())
		raw.Close()

		sino.SetIndex(l.index)
		sino.SetPlane(int(l.index % 2))
		sino.SetStart(time.Now())
		l.index++
		return sino, true
	}
	return nil, false
}

// Stop makes the next LoadImage report end-of-stream.
func (l *OfflineLoader) Stop() {
	l.stopped.Store(true)
}

// Release frees the loader's pool lane. Call after the pipeline drained.
func (l *OfflineLoader) Release() {
	l.pool.FreeMemory(l.poolID)
}

// PerfLoader replays one preloaded scan at scan rate for a fixed number of
// frames, so sustained pipeline throughput can be measured without disk or
// network in the path.
type PerfLoader struct {
	inner   *OfflineLoader
	preload []*memory.Image[uint16]
	limiter *rate.Limiter
	frames  uint64
	index   uint64
	stopped atomic.Bool
}

// NewPerf wraps an OfflineLoader and paces frames frames at one frame per
// scanRate microseconds.
func NewPerf(inner *OfflineLoader, cfg *config.Reader, frames uint64) (*PerfLoader, error) {
	var scanRate int
	if !cfg.LookupValue("scanRate", &scanRate) || scanRate == 0 {
		return nil, fmt.Errorf("loader: perf configuration could not be read from %s", cfg.Path())
	}
	interval := time.Duration(scanRate) * time.Microsecond

	p := &PerfLoader{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		frames:  frames,
	}
	// Preload into caller-owned host images so the replay loop does not
	// hold pool buffers for the whole run.
	for i, path := range inner.paths {
		raw := inner.his.LoadImage(path, uint64(i))
		if raw.Valid() && raw.Size() == inner.sinoSize {
			p.preload = append(p.preload, raw)
		} else {
			raw.Close()
		}
	}
	if len(p.preload) == 0 {
		return nil, fmt.Errorf("loader: nothing to preload")
	}
	return p, nil
}

// LoadImage emits the next paced frame, cycling through the preloaded scan.
func (p *PerfLoader) LoadImage() (*memory.Image[uint16], bool) {
	if p.stopped.Load() || p.index >= p.frames {
		return nil, false
	}
	if err := p.limiter.Wait(context.Background()); err != nil {
		return nil, false
	}

	src := p.preload[int(p.index)%len(p.preload)]
	sino := p.inner.pool.RequestMemory(p.inner.poolID)
	if !sino.Valid() {
		return nil, false
	}
	copy(sino.Data(), src.Data())
	sino.SetIndex(p.index)
	sino.SetPlane(int(p.index % 2))
	sino.SetStart(time.Now())
	p.index++
	return sino, true
}

// Stop makes the next LoadImage report end-of-stream.
func (p *PerfLoader) Stop() {
	p.stopped.Store(true)
}

// Release closes the preloaded frames and frees the underlying pool lane.
func (p *PerfLoader) Release() {
	for _, img := range p.preload {
		img.Close()
	}
	p.inner.Release()
}
