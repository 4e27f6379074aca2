package heap

import "github.com/vkngwrapper/chunkheap/memutils"

// splitChunks divides lc at rc, leaving lc covering [lc, rc) and a new chunk covering the rest.
// Both halves come out marked free.
func (h *Heap) splitChunks(lc, rc chunkID) {
	memutils.DebugAssert(rc > lc, "split point %d is not right of chunk %d", rc, lc)
	memutils.DebugAssert(chunkSize(rc-lc) < h.chunkSize(lc), "split point %d is outside of chunk %d", rc, lc)

	size := h.chunkSize(lc)
	leftSize := chunkSize(rc - lc)
	rightSize := size - leftSize

	h.setChunkSize(lc, leftSize)
	h.setChunkSize(rc, rightSize)
	h.setLeftChunkSize(rc, leftSize)
	h.setLeftChunkSize(h.rightChunk(rc), rightSize)
}

// mergeChunks joins rc into its left neighbor lc. The result is marked free.
func (h *Heap) mergeChunks(lc, rc chunkID) {
	size := h.chunkSize(lc) + h.chunkSize(rc)

	h.setChunkSize(lc, size)
	h.setLeftChunkSize(h.rightChunk(rc), size)
}

// freeChunk coalesces c with any free neighbors and files the result in its bucket
func (h *Heap) freeChunk(c chunkID) {
	// merge with free right chunk
	if right := h.rightChunk(c); !h.chunkUsed(right) {
		h.freeListRemove(right)
		h.mergeChunks(c, right)
	}

	// merge with free left chunk
	if left := h.leftChunk(c); !h.chunkUsed(left) {
		h.freeListRemove(left)
		h.mergeChunks(left, c)
		c = left
	}

	h.freeListAdd(c)
}
