package heap

import (
	"unsafe"
)

// UsableSize returns the number of bytes that may be used at mem, counting from mem to the
// end of its chunk. This may exceed the size originally requested. mem must be a live
// allocation from this heap; nil returns 0.
func (h *Heap) UsableSize(mem unsafe.Pointer) int {
	if mem == nil {
		return 0
	}

	c := h.memToChunk(mem)
	return int(h.chunkOffset(h.rightChunk(c)) - h.memOffset(mem))
}

// Realloc resizes the allocation at mem to at least bytes usable bytes. The allocation is
// resized in place when possible, and otherwise moved to a new chunk with its contents
// copied. A nil mem allocates; a non-positive bytes frees mem and returns nil. If no room can
// be found, nil is returned and mem is left untouched.
func (h *Heap) Realloc(mem unsafe.Pointer, bytes int) unsafe.Pointer {
	if mem == nil {
		return h.Alloc(bytes)
	}
	if bytes <= 0 {
		h.Free(mem)
		return nil
	}
	if h.sizeTooBig(bytes) {
		return nil
	}

	if resized := h.inplaceRealloc(mem, bytes); resized != nil {
		return resized
	}

	moved := h.alloc(h.ownershipOf(h.memToChunk(mem)), bytes)
	return h.moveAllocation(mem, moved, bytes)
}

// AlignedRealloc behaves like Realloc, and additionally guarantees the result is aligned to
// align, which must be 0 or a power of two. The allocation is only resized in place if mem
// already satisfies align.
func (h *Heap) AlignedRealloc(mem unsafe.Pointer, align, bytes int) unsafe.Pointer {
	if mem == nil {
		return h.AlignedAlloc(align, bytes)
	}
	if bytes <= 0 {
		h.Free(mem)
		return nil
	}
	if align != 0 {
		h.requirePow2(align)
	}
	if h.sizeTooBig(bytes) {
		return nil
	}

	if align == 0 || uintptr(mem)&uintptr(align-1) == 0 {
		if resized := h.inplaceRealloc(mem, bytes); resized != nil {
			return resized
		}
	}

	moved := h.alignedAlloc(h.ownershipOf(h.memToChunk(mem)), align, bytes)
	return h.moveAllocation(mem, moved, bytes)
}

func (h *Heap) moveAllocation(mem, moved unsafe.Pointer, bytes int) unsafe.Pointer {
	if moved == nil {
		return nil
	}

	size := h.UsableSize(mem)
	if bytes < size {
		size = bytes
	}
	copy(unsafe.Slice((*byte)(moved), size), unsafe.Slice((*byte)(mem), size))
	h.Free(mem)

	return moved
}

// inplaceRealloc resizes the chunk behind mem without moving it, returning nil if the right
// neighbor can't supply the extra room
func (h *Heap) inplaceRealloc(mem unsafe.Pointer, bytes int) unsafe.Pointer {
	c := h.memToChunk(mem)
	if !h.chunkUsed(c) {
		h.fatalf("unexpected heap state (realloc of freed memory?) for memory at %p", mem)
	}

	alignGap := int(h.memOffset(mem) - h.chunkOffset(c) - uintptr(h.headerBytes))
	need := h.bytesToChunkSize(bytes + alignGap)
	size := h.chunkSize(c)

	if size == need {
		// We're good already
		return mem
	}

	right := h.rightChunk(c)
	if size > need {
		if size-need < h.minChunk && h.chunkUsed(right) {
			// The tail couldn't stand on its own as a free chunk, so keep it
			return mem
		}

		// Shrink in place, split off and free unused suffix
		h.splitChunks(c, c+chunkID(need))
		h.setChunkUsed(c, true)
		h.freeChunk(c + chunkID(need))

		h.resized(c, mem, size, need)
		return mem
	}

	if h.chunkUsed(right) || size+h.chunkSize(right) < need {
		return nil
	}

	// Expand: split the right chunk and append
	splitSize := need - size
	h.freeListRemove(right)
	if h.chunkSize(right)-splitSize >= h.minChunk {
		h.splitChunks(right, right+chunkID(splitSize))
		h.freeListAdd(right + chunkID(splitSize))
	}
	h.mergeChunks(c, right)
	h.setChunkUsed(c, true)

	h.resized(c, mem, size, h.chunkSize(c))
	return mem
}

// resized performs the accounting for a chunk that changed size in place
func (h *Heap) resized(c chunkID, mem unsafe.Pointer, oldSize, newSize chunkSize) {
	oldBytes := h.usableBytes(oldSize)
	newBytes := h.usableBytes(newSize)
	who := h.ownershipOf(c)

	if newBytes < oldBytes {
		h.decreaseAllocated(oldBytes - newBytes)
		if who.tagged {
			h.releaseOwner(who.tag, oldBytes-newBytes)
		}
	} else {
		h.increaseAllocated(newBytes - oldBytes)
		if who.tagged {
			h.attributor.ChargeTag(who.tag, newBytes-oldBytes)
		}
	}

	h.notifyFree(mem, oldBytes)
	h.notifyAlloc(mem, newBytes)
}
