// Package device models the accelerator devices the pipeline schedules onto.
//
// A Stream is an ordered queue of asynchronous operations: submissions run in
// FIFO order on the stream's own goroutine, concurrently with other streams.
// Each compute stage owns one stream per device, which serialises that
// stage's launches on a device while letting different stages overlap.
package device

import (
	"os"
	"strconv"
)

// CountEnv overrides the detected device count when set.
const CountEnv = "RISA_DEVICE_COUNT"

// Count reports the number of available accelerator devices. The count can
// be pinned through RISA_DEVICE_COUNT; without accelerator support the
// runtime falls back to a single host-backed device.
func Count() int {
	if v := os.Getenv(CountEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
