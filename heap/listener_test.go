package heap_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/chunkheap/heap"
	mock_heap "github.com/vkngwrapper/chunkheap/heap/mocks"
	"go.uber.org/mock/gomock"
)

func TestListener(t *testing.T) {
	ctrl := gomock.NewController(t)
	listener := mock_heap.NewMockListener(ctrl)

	h := newHeap(t, 4096, heap.CreateOptions{Listener: listener})

	var mem unsafe.Pointer
	listener.EXPECT().OnAlloc(h.ID(), gomock.Any(), 100).Do(func(heapID uintptr, allocated unsafe.Pointer, size int) {
		mem = allocated
	})
	require.NotNil(t, h.Alloc(100))
	require.NotNil(t, mem)

	// an in-place resize is reported as a free of the old size then an allocation of the new one
	gomock.InOrder(
		listener.EXPECT().OnFree(h.ID(), mem, 100),
		listener.EXPECT().OnAlloc(h.ID(), mem, 20),
	)
	require.Equal(t, mem, h.Realloc(mem, 20))

	listener.EXPECT().OnFree(h.ID(), mem, 20)
	h.Free(mem)

	// failed allocations and no-op frees are not reported
	require.Nil(t, h.Alloc(1<<20))
	h.Free(nil)
}

func TestListenerMovedRealloc(t *testing.T) {
	ctrl := gomock.NewController(t)
	listener := mock_heap.NewMockListener(ctrl)

	h := newHeap(t, 4096, heap.CreateOptions{Listener: listener})

	listener.EXPECT().OnAlloc(h.ID(), gomock.Any(), gomock.Any()).Times(2)
	mem := h.Alloc(100)
	fence := h.Alloc(8)

	gomock.InOrder(
		listener.EXPECT().OnAlloc(h.ID(), gomock.Not(mem), 204),
		listener.EXPECT().OnFree(h.ID(), mem, 100),
	)
	moved := h.Realloc(mem, 200)
	require.NotEqual(t, mem, moved)

	listener.EXPECT().OnFree(h.ID(), gomock.Any(), gomock.Any()).Times(2)
	h.Free(moved)
	h.Free(fence)
}

type listenerCounts struct {
	allocs, frees int
	liveBytes     int
}

func TestListenerCallbacks(t *testing.T) {
	counts := &listenerCounts{}
	callbacks := &heap.ListenerCallbacks{
		Alloc: func(heapID uintptr, mem unsafe.Pointer, size int, userData interface{}) {
			c := userData.(*listenerCounts)
			c.allocs++
			c.liveBytes += size
		},
		Free: func(heapID uintptr, mem unsafe.Pointer, size int, userData interface{}) {
			c := userData.(*listenerCounts)
			c.frees++
			c.liveBytes -= size
		},
		UserData: counts,
	}

	h := newHeap(t, 4096, heap.CreateOptions{Flags: heap.HeapCreateRuntimeStats, Listener: callbacks})

	a := h.Alloc(100)
	b := h.AlignedAlloc(64, 30)
	require.Equal(t, 2, counts.allocs)
	require.Equal(t, runtimeStats(t, h).AllocatedBytes, counts.liveBytes)

	a = h.Realloc(a, 300)
	require.Equal(t, runtimeStats(t, h).AllocatedBytes, counts.liveBytes)

	h.Free(a)
	h.Free(b)
	require.Equal(t, counts.allocs, counts.frees)
	require.Zero(t, counts.liveBytes)

	// a nil callback is skipped
	h = newHeap(t, 4096, heap.CreateOptions{Listener: &heap.ListenerCallbacks{}})
	h.Free(h.Alloc(10))
}
