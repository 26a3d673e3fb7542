// Package receiver assembles complete sinograms from the UDP streams of the
// scanner's detector modules. Each module fills its own ring buffer; a
// shared notification reports the most recent frame completed by every
// module, and LoadImage concatenates the module slices of that frame into a
// pool-backed image.
//
// Backpressure tolerance lives here: when the pipeline stalls, the OS drops
// UDP frames and the notification simply reports the most recent complete
// buffer index once the pipeline catches up.
package receiver

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
)

// defaultBasePort is the port of module 0; module i listens on base+i.
const defaultBasePort = 4000

type moduleConfig struct {
	projections          int
	detectorsPerModule   int
	projectionsPerPacket int
	bufferSize           int
	timeout              time.Duration
}

// Receiver is the online source stage.
type Receiver struct {
	modules []*Module
	notify  *Notification
	pool    *memory.Pool[uint16]
	poolID  int
	log     *logging.Logger

	detectors          int
	detectorsPerModule int
	projections        int
	numModules         int
	bufferSize         int
	poolSize            int
	basePort            int
	configuredPerPacket int
	timeout             time.Duration
}

// Options carries the cross-stage collaborators.
type Options struct {
	Pool *memory.Pool[uint16]
	Log  *logging.Logger
	// PacketsLost, when set, is bumped once for every forward gap in a
	// module's packet sequence, however many packets the gap spans; the
	// metrics collector's counter satisfies it.
	PacketsLost interface{ Inc() }
}

// New reads the receiver configuration, binds one UDP module per detector
// module, registers the sinogram pool lane and starts the module readers.
func New(address string, cfg *config.Reader, opts Options) (*Receiver, error) {
	r := &Receiver{log: opts.Log}
	if r.log == nil {
		r.log = logging.NewNop()
	}
	if !r.readConfig(cfg) {
		return nil, fmt.Errorf("receiver: configuration could not be read from %s", cfg.Path())
	}

	r.pool = opts.Pool
	if r.pool == nil {
		r.pool = memory.PoolFor[uint16](memory.Pinned[uint16]{})
	}
	r.poolID = r.pool.RegisterStage(r.poolSize, r.detectors*r.projections)

	r.notify = NewNotification(r.numModules)
	mcfg := moduleConfig{
		projections:          r.projections,
		detectorsPerModule:   r.detectorsPerModule,
		projectionsPerPacket: r.projectionsPerPacket(),
		bufferSize:           r.bufferSize,
		timeout:              r.timeout,
	}
	for i := 0; i < r.numModules; i++ {
		m, err := newModule(address, r.basePort+i, i, mcfg, r.notify, r.log, opts.PacketsLost)
		if err != nil {
			for _, prev := range r.modules {
				prev.Stop()
			}
			return nil, err
		}
		r.modules = append(r.modules, m)
	}
	for _, m := range r.modules {
		go m.Run()
	}
	return r, nil
}

// LoadImage blocks until the next complete sinogram is available, assembles
// it from the module buffers and returns it. ok is false once the modules
// finished or the receiver was stopped.
func (r *Receiver) LoadImage() (*memory.Image[uint16], bool) {
	index, ok := r.notify.Fetch()
	if !ok {
		return nil, false
	}

	sino := r.pool.RequestMemory(r.poolID)
	if !sino.Valid() {
		return nil, false
	}

	sliceSize := r.detectorsPerModule * r.projections
	for i, m := range r.modules {
		m.copySlot(index, sino.Data()[i*sliceSize:(i+1)*sliceSize])
	}
	sino.SetIndex(index)
	sino.SetPlane(int(index % 2))
	sino.SetStart(time.Now())

	r.log.Debug("assembled sinogram", zap.Uint64("index", index))
	return sino, true
}

// Stop closes the module sockets and wakes any blocked LoadImage.
func (r *Receiver) Stop() {
	for _, m := range r.modules {
		m.Stop()
	}
	r.notify.Close()
}

// Release frees the receiver's pool lane. Call after the pipeline drained.
func (r *Receiver) Release() {
	r.pool.FreeMemory(r.poolID)
}

func (r *Receiver) readConfig(cfg *config.Reader) bool {
	var samplingRate, scanRate, timeoutSec int
	ok := cfg.LookupValue("samplingRate", &samplingRate) &&
		cfg.LookupValue("numberOfFanDetectors", &r.detectors) &&
		cfg.LookupValue("scanRate", &scanRate) &&
		cfg.LookupValue("inputBufferSize", &r.bufferSize) &&
		cfg.LookupValue("numberOfDetectorModules", &r.numModules) &&
		cfg.LookupValue("memPoolSize", &r.poolSize)
	if !ok || scanRate == 0 || r.numModules == 0 {
		return false
	}
	r.projections = samplingRate * 1e6 / scanRate
	r.detectorsPerModule = r.detectors / r.numModules

	r.basePort = defaultBasePort
	cfg.LookupValue("receiverBasePort", &r.basePort)
	cfg.LookupValue("projectionsPerPacket", &r.configuredPerPacket)

	timeoutSec = 5
	cfg.LookupValue("timeout", &timeoutSec)
	r.timeout = time.Duration(timeoutSec) * time.Second
	return true
}

// projectionsPerPacket returns the packet granularity; every packet carries
// this many projections of one module. The value must divide the projection
// count evenly, so a misconfigured value is walked down to the next divisor.
func (r *Receiver) projectionsPerPacket() int {
	per := 10
	if r.configuredPerPacket > 0 {
		per = r.configuredPerPacket
	}
	for per > 1 && r.projections%per != 0 {
		per--
	}
	return per
}
