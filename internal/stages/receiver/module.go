package receiver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/logging"
)

// packetHeaderSize is the wire header: an 8-byte frame index followed by a
// 2-byte part id, both little-endian, ahead of the uint16 sample payload.
const packetHeaderSize = 10

// Module receives the UDP stream of one detector module into a ring buffer
// of inputBufferSize sinogram slots.
type Module struct {
	id          int
	conn        *net.UDPConn
	timeout     time.Duration
	parts       int
	partSamples int
	sinoSize    int
	bufferSize  int
	notify      *Notification
	log         *logging.Logger
	lost        interface{ Inc() }

	mu     sync.Mutex
	buffer []uint16

	lastSeq int64
}

// newModule binds the module's UDP port and allocates its ring buffer.
func newModule(address string, port int, id int, cfg moduleConfig, notify *Notification, log *logging.Logger, lost interface{ Inc() }) (*Module, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, fmt.Errorf("receiver: module %d address: %w", id, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("receiver: module %d listen: %w", id, err)
	}

	sinoSize := cfg.projections * cfg.detectorsPerModule
	m := &Module{
		id:          id,
		conn:        conn,
		timeout:     cfg.timeout,
		parts:       cfg.projections / cfg.projectionsPerPacket,
		partSamples: cfg.projectionsPerPacket * cfg.detectorsPerModule,
		sinoSize:    sinoSize,
		bufferSize:  cfg.bufferSize,
		notify:      notify,
		log:         log,
		lost:        lost,
		buffer:      make([]uint16, cfg.bufferSize*sinoSize),
		lastSeq:     -1,
	}
	log.Debug("created receiver module",
		zap.Int("module", id),
		zap.String("address", address),
		zap.Int("port", port))
	return m, nil
}

// Run receives packets until the stream dries up (no packet within the
// timeout) or the socket is closed, then reports the module finished.
func (m *Module) Run() {
	buf := make([]byte, packetHeaderSize+2*m.partSamples)

	for {
		if err := m.conn.SetReadDeadline(time.Now().Add(m.timeout)); err != nil {
			break
		}
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				m.log.Info("no packets arriving, finishing",
					zap.Int("module", m.id),
					zap.Duration("timeout", m.timeout))
			} else if !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
				m.log.Warn("receive failed, finishing",
					zap.Int("module", m.id),
					zap.Error(err))
			}
			break
		}
		if n < packetHeaderSize {
			continue
		}

		index := binary.LittleEndian.Uint64(buf[0:8])
		part := int(binary.LittleEndian.Uint16(buf[8:10]))
		if part >= m.parts {
			continue
		}

		seq := int64(index)*int64(m.parts) + int64(part)
		if m.lastSeq >= 0 && seq-m.lastSeq > 1 {
			m.log.Warn("lost packet or wrong order",
				zap.Int("module", m.id),
				zap.Int64("last", m.lastSeq),
				zap.Int64("new", seq))
			if m.lost != nil {
				m.lost.Inc()
			}
		}
		m.lastSeq = seq

		m.store(index, part, buf[packetHeaderSize:n])
		if part == m.parts-1 {
			m.notify.Notify(m.id, int64(index))
		}
	}

	m.notify.Notify(m.id, -1)
}

// store decodes the payload into the ring buffer slot of the frame.
func (m *Module) store(index uint64, part int, payload []byte) {
	samples := len(payload) / 2
	if samples > m.partSamples {
		samples = m.partSamples
	}
	slot := int(index%uint64(m.bufferSize))*m.sinoSize + part*m.partSamples

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < samples; i++ {
		m.buffer[slot+i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
}

// copySlot copies the module's slice of the given frame into dst.
func (m *Module) copySlot(index uint64, dst []uint16) {
	offset := int(index%uint64(m.bufferSize)) * m.sinoSize
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(dst, m.buffer[offset:offset+m.sinoSize])
}

// Stop closes the module's socket, unblocking Run.
func (m *Module) Stop() {
	m.conn.Close()
}
