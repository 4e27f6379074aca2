package heap

import "unsafe"

//go:generate mockgen -source listener.go -destination ./mocks/mock_listener.go -package mock_heap

// Listener is notified synchronously after every successful allocation and free, once the
// heap's bookkeeping is complete. size is the usable size of the chunk in bytes. An in-place
// resize reports a free of the old size followed by an allocation of the new size at the same
// address. Implementations must not call back into the heap.
type Listener interface {
	OnAlloc(heapID uintptr, mem unsafe.Pointer, size int)
	OnFree(heapID uintptr, mem unsafe.Pointer, size int)
}

// AllocCallback is called by ListenerCallbacks after every successful allocation and in-place
// resize, with the usable size of the chunk
type AllocCallback func(
	heapID uintptr,
	mem unsafe.Pointer,
	size int,
	userData interface{},
)

// FreeCallback is called by ListenerCallbacks after every free, and before the matching
// AllocCallback of an in-place resize
type FreeCallback func(
	heapID uintptr,
	mem unsafe.Pointer,
	size int,
	userData interface{},
)

// ListenerCallbacks adapts a pair of plain functions to Listener. Either function may be nil.
type ListenerCallbacks struct {
	Alloc    AllocCallback
	Free     FreeCallback
	UserData interface{}
}

var _ Listener = &ListenerCallbacks{}

func (c *ListenerCallbacks) OnAlloc(heapID uintptr, mem unsafe.Pointer, size int) {
	if c.Alloc != nil {
		c.Alloc(heapID, mem, size, c.UserData)
	}
}

func (c *ListenerCallbacks) OnFree(heapID uintptr, mem unsafe.Pointer, size int) {
	if c.Free != nil {
		c.Free(heapID, mem, size, c.UserData)
	}
}

func (h *Heap) notifyAlloc(mem unsafe.Pointer, size int) {
	if h.listener != nil {
		h.listener.OnAlloc(h.ID(), mem, size)
	}
}

func (h *Heap) notifyFree(mem unsafe.Pointer, size int) {
	if h.listener != nil {
		h.listener.OnFree(h.ID(), mem, size)
	}
}
