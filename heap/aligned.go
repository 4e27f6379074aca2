package heap

import (
	"unsafe"

	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/slog"
)

// AlignedAlloc returns a pointer to at least bytes usable bytes, or nil if bytes is not positive
// or no free chunk is large enough.
//
// If align is a power of two, the returned address is a multiple of align. Otherwise align is
// treated as the sum of a power-of-two alignment and a rewind equal to its lowest set bit: the
// returned address plus the rewind is a multiple of the alignment. This places data that must
// be aligned after a small fixed-size prefix. Any align whose remaining part is not a power of
// two panics.
func (h *Heap) AlignedAlloc(align, bytes int) unsafe.Pointer {
	return h.alignedAlloc(ownership{}, align, bytes)
}

// AlignedAllocAs behaves like AlignedAlloc, additionally charging the usable size of the
// granted chunk to owner if the heap has an Attributor
func (h *Heap) AlignedAllocAs(owner Owner, align, bytes int) unsafe.Pointer {
	return h.alignedAlloc(ownership{owner: owner}, align, bytes)
}

func (h *Heap) alignedAlloc(who ownership, align, bytes int) unsafe.Pointer {
	if align < 0 {
		h.requirePow2(align)
	}

	rewind := memutils.LowestSetBit(align)
	if align != rewind {
		align -= rewind
	} else {
		if align <= h.memAlign {
			return h.alloc(who, bytes)
		}
		rewind = 0
	}

	h.requirePow2(align)

	memutils.DebugValidate(h)

	if bytes <= 0 || h.sizeTooBig(bytes) || h.sizeTooBig(align) {
		return nil
	}

	// Room for the worst-case alignment shift plus a back-pointer ahead of the aligned address
	padded := memutils.DivideRoundUp(h.headerBytes+bytes+align+h.wordBytes, ChunkUnit)
	if padded >= int(h.end) {
		return nil
	}

	c0 := h.allocChunk(chunkSize(padded))
	if c0 == 0 {
		h.logger.Debug("Heap::AlignedAlloc failed",
			slog.Int("Size", bytes),
			slog.Int("Alignment", align),
			slog.Int("Rewind", rewind),
		)
		return nil
	}

	first := uintptr(h.chunkMem(c0))
	addr := memutils.AlignUp(first+uintptr(rewind), uintptr(align)) - uintptr(rewind)
	for !h.canonicalOffset(addr-uintptr(h.base)) && addr-first < uintptr(h.wordBytes) {
		// not enough room before the address for its back-pointer
		addr += uintptr(align)
	}

	offset := addr - uintptr(h.base)
	c := h.chunkForOffset(offset)
	cEnd := chunkID(memutils.DivideRoundUp(offset+uintptr(bytes), uintptr(ChunkUnit)))
	memutils.DebugAssert(c >= c0 && c < cEnd && cEnd <= c0+chunkID(padded),
		"aligned placement [%d, %d) does not fit chunk %d of %d units", c, cEnd, c0, padded)

	// Split and free unused prefix
	if c > c0 {
		h.splitChunks(c0, c)
		h.freeListAdd(c0)
	}

	// Split and free unused suffix
	if h.rightChunk(c) >= cEnd+chunkID(h.minChunk) {
		h.splitChunks(c, cEnd)
		h.freeListAdd(cEnd)
	}

	mem := unsafe.Add(h.base, offset)
	if !h.canonicalOffset(offset) {
		h.writeBackPointer(mem, c)
	}

	h.grant(c, mem, who)
	return mem
}
