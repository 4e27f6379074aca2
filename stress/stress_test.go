package stress_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/chunkheap/heap"
	"github.com/vkngwrapper/chunkheap/memutils"
	"github.com/vkngwrapper/chunkheap/stress"
)

func alignedRegion(size int) []byte {
	buf := make([]byte, size+8)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int(memutils.AlignUp(addr, 8) - addr)
	return buf[offset : offset+size]
}

func TestRunHeap(t *testing.T) {
	for _, test := range []struct {
		name  string
		size  int
		flags heap.CreateFlags
	}{
		{name: "Small", size: 32 * 1024, flags: heap.HeapCreateSmallOnly},
		{name: "Big", size: 32 * 1024, flags: heap.HeapCreateBigOnly},
		{name: "BigBySize", size: 512 * 1024},
	} {
		t.Run(test.name, func(t *testing.T) {
			h, err := heap.New(nil, alignedRegion(test.size), heap.CreateOptions{
				Flags: test.flags | heap.HeapCreateRuntimeStats,
			})
			require.NoError(t, err)
			initialFree, err := h.RuntimeStats()
			require.NoError(t, err)

			result, err := stress.Run(h, stress.Config{
				TotalBytes:    h.Size(),
				OpCount:       20000,
				MaxBlocks:     512,
				TargetPercent: 80,
				Seed:          42,
				Validator:     h,
				ValidateEvery: 500,
			})
			require.NoError(t, err)

			require.Equal(t, 20000, result.TotalAllocs+result.TotalFrees)
			require.Greater(t, result.SuccessfulAllocs, 0)
			require.LessOrEqual(t, result.SuccessfulAllocs, result.TotalAllocs)

			// with every block released the heap is back to a single free chunk
			finalFree, err := h.RuntimeStats()
			require.NoError(t, err)
			require.Equal(t, initialFree.FreeBytes, finalFree.FreeBytes)
			require.Zero(t, finalFree.AllocatedBytes)
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	run := func() stress.Result {
		h, err := heap.New(nil, alignedRegion(16*1024), heap.CreateOptions{})
		require.NoError(t, err)

		result, err := stress.Run(h, stress.Config{
			TotalBytes:    h.Size(),
			OpCount:       5000,
			MaxBlocks:     128,
			TargetPercent: 70,
			Seed:          7,
		})
		require.NoError(t, err)
		return result
	}

	require.Equal(t, run(), run())
}

func TestRunInvalidConfig(t *testing.T) {
	h, err := heap.New(nil, alignedRegion(4096), heap.CreateOptions{})
	require.NoError(t, err)

	for _, test := range []struct {
		name   string
		config stress.Config
	}{
		{name: "NoCapacity", config: stress.Config{OpCount: 10, MaxBlocks: 10}},
		{name: "NegativeOps", config: stress.Config{TotalBytes: 4096, OpCount: -1, MaxBlocks: 10}},
		{name: "NoBlocks", config: stress.Config{TotalBytes: 4096, OpCount: 10}},
		{name: "FullTarget", config: stress.Config{TotalBytes: 4096, OpCount: 10, MaxBlocks: 10, TargetPercent: 100}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := stress.Run(h, test.config)
			require.Error(t, err)
		})
	}
}

// overlappingAllocator hands out the same buffer for every request, so a second live block
// clobbers the first
type overlappingAllocator struct {
	buf []byte
}

func (a *overlappingAllocator) Alloc(bytes int) unsafe.Pointer {
	if bytes <= 0 || bytes > len(a.buf) {
		return nil
	}
	return unsafe.Pointer(&a.buf[0])
}

func (a *overlappingAllocator) Free(mem unsafe.Pointer) {}

func TestRunDetectsOverlap(t *testing.T) {
	_, err := stress.Run(&overlappingAllocator{buf: make([]byte, 1<<16)}, stress.Config{
		TotalBytes:    1 << 20,
		OpCount:       1000,
		MaxBlocks:     16,
		TargetPercent: 50,
		Seed:          1,
	})
	require.ErrorContains(t, err, "was overwritten")
}

type failingValidator struct {
	calls int
}

func (v *failingValidator) Validate() error {
	v.calls++
	if v.calls == 2 {
		return memutils.ErrInvalidOptions
	}
	return nil
}

func TestRunReportsValidationFailure(t *testing.T) {
	h, err := heap.New(nil, alignedRegion(4096), heap.CreateOptions{})
	require.NoError(t, err)

	validator := &failingValidator{}
	_, err = stress.Run(h, stress.Config{
		TotalBytes:    h.Size(),
		OpCount:       100,
		MaxBlocks:     16,
		TargetPercent: 50,
		Validator:     validator,
		ValidateEvery: 10,
	})
	require.ErrorIs(t, err, memutils.ErrInvalidOptions)
	require.ErrorContains(t, err, "validation failed after operation 19")
}
