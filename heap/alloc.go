package heap

import (
	"math/bits"
	"unsafe"

	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/slog"
)

// allocChunk removes and returns a free chunk of at least size units, or 0 if there is none.
// The best-fit bucket is searched for a bounded number of entries; after that the head of the
// smallest larger non-empty bucket is taken, since every chunk in it is guaranteed to fit.
func (h *Heap) allocChunk(size chunkSize) chunkID {
	b := h.bucketIndex(size)
	if b >= h.bucketCount {
		return 0
	}

	head := h.bucketHead(b)
	if *head != 0 {
		memutils.DebugAssert(h.availBuckets()&(1<<uint(b)) != 0, "non-empty bucket %d is not marked available", b)

		// Rotating the head as we go spreads the search across calls, so the small chunks
		// left behind by earlier splits don't have to be rescanned every time.
		first := chunkID(*head)
		for i := 0; i < h.allocLoops; i++ {
			c := chunkID(*head)
			if h.chunkSize(c) >= size {
				h.freeListRemoveBucket(c, b)
				return c
			}

			next := h.nextFreeChunk(c)
			if next == 0 {
				h.fatalf("free chunk %d in bucket %d has no successor", c, b)
			}
			*head = uint32(next)
			if next == first {
				break
			}
		}
	}

	// Any chunk in a larger bucket will do
	larger := uint64(h.availBuckets()) &^ (uint64(1)<<uint(b+1) - 1)
	if larger != 0 {
		minBucket := bits.TrailingZeros64(larger)
		c := chunkID(*h.bucketHead(minBucket))
		h.freeListRemoveBucket(c, minBucket)
		memutils.DebugAssert(h.chunkSize(c) >= size, "chunk %d from bucket %d is smaller than %d units", c, minBucket, size)
		return c
	}

	return 0
}

// Alloc returns a pointer to at least bytes usable bytes, or nil if bytes is not positive or
// no free chunk is large enough. The returned memory is aligned to at least 4 bytes on heaps
// with 16-bit header fields and 8 bytes otherwise.
func (h *Heap) Alloc(bytes int) unsafe.Pointer {
	return h.alloc(ownership{}, bytes)
}

// AllocAs behaves like Alloc, additionally charging the usable size of the granted chunk to
// owner if the heap has an Attributor
func (h *Heap) AllocAs(owner Owner, bytes int) unsafe.Pointer {
	return h.alloc(ownership{owner: owner}, bytes)
}

func (h *Heap) alloc(who ownership, bytes int) unsafe.Pointer {
	memutils.DebugValidate(h)

	if bytes <= 0 || h.sizeTooBig(bytes) {
		return nil
	}

	size := h.bytesToChunkSize(bytes)
	c := h.allocChunk(size)
	if c == 0 {
		h.logger.Debug("Heap::Alloc failed", slog.Int("Size", bytes), slog.Int("Units", int(size)))
		return nil
	}

	// Split off the remainder if it can stand on its own as a free chunk
	if h.chunkSize(c) >= size+h.minChunk {
		h.splitChunks(c, c+chunkID(size))
		h.freeListAdd(c + chunkID(size))
	}

	mem := h.chunkMem(c)
	h.grant(c, mem, who)
	return mem
}

// grant marks c used and performs the accounting for handing mem out to a caller
func (h *Heap) grant(c chunkID, mem unsafe.Pointer, who ownership) {
	h.setChunkUsed(c, true)

	size := h.usableBytes(h.chunkSize(c))
	h.chargeOwner(c, who, size)
	h.increaseAllocated(size)
	h.notifyAlloc(mem, size)
}

// Free returns mem to the heap. Freeing nil is a no-op. Freeing memory that is not a live
// allocation from this heap panics when the corruption is detectable, and is otherwise
// undefined.
func (h *Heap) Free(mem unsafe.Pointer) {
	if mem == nil {
		return
	}

	c := h.memToChunk(mem)
	if !h.chunkUsed(c) {
		h.fatalf("unexpected heap state (double free?) for memory at %p", mem)
	}
	if h.leftChunk(h.rightChunk(c)) != c {
		h.fatalf("corrupted heap bounds (buffer overflow?) for memory at %p", mem)
	}

	size := h.usableBytes(h.chunkSize(c))
	who := h.ownershipOf(c)

	h.setChunkUsed(c, false)
	h.decreaseAllocated(size)
	if who.tagged {
		h.releaseOwner(who.tag, size)
	}
	h.freeChunk(c)

	h.notifyFree(mem, size)
}
