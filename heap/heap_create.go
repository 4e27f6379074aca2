package heap

import (
	"strings"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	createFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for i := 0; i < 32; i++ {
		bit := CreateFlags(1) << i
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// HeapCreateRuntimeStats keeps running free, allocated and peak-allocated byte counters,
	// which can be retrieved with Heap.RuntimeStats
	HeapCreateRuntimeStats CreateFlags = 1 << iota
	// HeapCreateSmallOnly forces 16-bit chunk header fields. Creation fails for regions with
	// more than 0x7fff chunk units.
	HeapCreateSmallOnly
	// HeapCreateBigOnly forces 32-bit chunk header fields regardless of the region size
	HeapCreateBigOnly
)

func init() {
	HeapCreateRuntimeStats.Register("HeapCreateRuntimeStats")
	HeapCreateSmallOnly.Register("HeapCreateSmallOnly")
	HeapCreateBigOnly.Register("HeapCreateBigOnly")
}

const (
	// DefaultAllocLoops is the number of entries of the best-fit bucket that are inspected
	// before allocation falls back to a larger bucket, when CreateOptions.AllocLoops is 0
	DefaultAllocLoops int = 3
)

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags

	// AllocLoops bounds how many chunks of the best-fit bucket are inspected before the
	// allocator takes the head of the next non-empty larger bucket. Larger values improve fit
	// at the expense of worst-case allocation time. 0 selects DefaultAllocLoops.
	AllocLoops int

	// Listener is an optional hook notified synchronously of every allocation and free. It
	// must not call back into the heap.
	Listener Listener

	// Attributor optionally attributes every allocation to an owner. Enabling it widens each
	// chunk header by an owner tag slot.
	Attributor Attributor
}
