package device

import (
	"sync"
)

// Stream executes submitted operations in submission order on one device.
// Launch is asynchronous; errors surface on the next Synchronize, matching
// the deferred error model of device runtimes. A stream is owned by exactly
// one stage and must not be shared.
type Stream struct {
	device int

	mu        sync.Mutex
	ops       chan func()
	err       error
	destroyed bool
	done      sync.WaitGroup
}

// NewStream creates a stream bound to the given device ordinal.
func NewStream(deviceID int) *Stream {
	s := &Stream{
		device: deviceID,
		ops:    make(chan func(), 64),
	}
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		for op := range s.ops {
			op()
		}
	}()
	return s
}

// Device returns the device ordinal the stream is bound to.
func (s *Stream) Device() int { return s.device }

// Launch enqueues op on the stream. The call returns immediately; a failure
// is recorded and reported by the next Synchronize. Launching on a destroyed
// stream is a programming error and panics.
func (s *Stream) Launch(op func() error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		panic("device: launch on destroyed stream")
	}
	s.mu.Unlock()

	s.ops <- func() {
		if err := op(); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}
}

// Synchronize blocks until every previously launched operation completed and
// returns the first error recorded since the last Synchronize.
func (s *Stream) Synchronize() error {
	barrier := make(chan struct{})
	s.ops <- func() { close(barrier) }
	<-barrier

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Destroy drains the stream and releases its goroutine. The stream must not
// be used afterwards.
func (s *Stream) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	close(s.ops)
	s.done.Wait()
}
