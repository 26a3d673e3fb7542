package receiver

import "sync"

// Notification synchronises the receiver with its detector modules: each
// module reports the frame index it last completed, and Fetch hands out the
// most recent index completed by every module. Because only the freshest
// complete index is reported, frames the pipeline was too slow to collect
// are skipped rather than queued.
type Notification struct {
	mu       sync.Mutex
	cond     *sync.Cond
	last     []int64
	fetched  int64
	finished int
	closed   bool
}

// NewNotification tracks the given number of modules.
func NewNotification(modules int) *Notification {
	n := &Notification{
		last:    make([]int64, modules),
		fetched: -1,
	}
	for i := range n.last {
		n.last[i] = -1
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Notify records that a module completed the given frame index. An index of
// -1 marks the module as finished (its stream dried up).
func (n *Notification) Notify(module int, index int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 {
		n.finished++
	} else if index > n.last[module] {
		n.last[module] = index
	}
	n.cond.Broadcast()
}

// Fetch blocks until a frame index newer than the previously fetched one has
// been completed by all modules, and returns it. ok is false once every
// module finished or the notification was closed.
func (n *Notification) Fetch() (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		if n.closed || n.finished >= len(n.last) {
			return 0, false
		}
		complete := n.completeLocked()
		if complete > n.fetched {
			n.fetched = complete
			return uint64(complete), true
		}
		n.cond.Wait()
	}
}

// Close wakes all waiters; subsequent fetches report end-of-stream.
func (n *Notification) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.cond.Broadcast()
}

// completeLocked returns the newest index completed by every module.
func (n *Notification) completeLocked() int64 {
	complete := n.last[0]
	for _, idx := range n.last[1:] {
		if idx < complete {
			complete = idx
		}
	}
	return complete
}
