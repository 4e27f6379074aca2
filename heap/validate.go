package heap

import (
	"github.com/cockroachdb/errors"
)

func (h *Heap) inBounds(c chunkID) error {
	if c < chunkID(h.chunk0Size) || c >= h.end {
		return errors.Errorf("chunk %d is outside of the heap's chunks [%d, %d)", c, h.chunk0Size, h.end)
	}
	if chunkID(h.chunkSize(c)) >= h.end {
		return errors.Errorf("chunk %d has size %d, which exceeds the heap", c, h.chunkSize(c))
	}
	return nil
}

func (h *Heap) validChunk(c chunkID) error {
	size := h.chunkSize(c)
	if size == 0 {
		return errors.Errorf("chunk %d has size 0", c)
	}
	if c+chunkID(size) > h.end {
		return errors.Errorf("chunk %d of size %d runs past the end chunk %d", c, size, h.end)
	}
	if err := h.inBounds(c); err != nil {
		return err
	}

	if leftSize := chunkID(h.chunkField(c, fieldLeftSize)); leftSize == 0 || leftSize > c {
		return errors.Errorf("chunk %d has invalid left neighbor size %d", c, leftSize)
	}
	if h.rightChunk(h.leftChunk(c)) != c {
		return errors.Errorf("chunk %d has left neighbor %d, but the reverse reference is broken", c, h.leftChunk(c))
	}
	if h.leftChunk(h.rightChunk(c)) != c {
		return errors.Errorf("chunk %d has right neighbor %d, but the reverse reference is broken", c, h.rightChunk(c))
	}

	if h.chunkUsed(c) {
		if h.soloFreeHeader(c) {
			return errors.Errorf("used chunk %d has size %d, below the minimum chunk size %d", c, size, h.minChunk)
		}
		return nil
	}

	if !h.chunkUsed(h.leftChunk(c)) {
		return errors.Errorf("free chunk %d has a free left neighbor %d", c, h.leftChunk(c))
	}
	if !h.chunkUsed(h.rightChunk(c)) {
		return errors.Errorf("free chunk %d has a free right neighbor %d", c, h.rightChunk(c))
	}
	if !h.soloFreeHeader(c) {
		if err := h.inBounds(h.prevFreeChunk(c)); err != nil {
			return errors.Wrapf(err, "free chunk %d has an invalid previous link", c)
		}
		if err := h.inBounds(h.nextFreeChunk(c)); err != nil {
			return errors.Wrapf(err, "free chunk %d has an invalid next link", c)
		}
	}

	return nil
}

func (h *Heap) validateControlBlock() error {
	if end := chunkID(*h.ctrlWord(ctrlEndChunk)); end != h.end {
		return errors.Errorf("control block records end chunk %d, but the heap ends at %d", end, h.end)
	}
	if h.chunkSize(0) != h.chunk0Size || !h.chunkUsed(0) {
		return errors.Errorf("control block chunk has size %d, expected a used chunk of size %d", h.chunkSize(0), h.chunk0Size)
	}
	if h.chunkSize(h.end) != 0 || !h.chunkUsed(h.end) {
		return errors.Errorf("end marker chunk %d has been overwritten", h.end)
	}
	if h.bucketCount < 32 && h.availBuckets()>>uint(h.bucketCount) != 0 {
		return errors.Errorf("available bucket mask %#x marks buckets past the last bucket %d", h.availBuckets(), h.bucketCount-1)
	}
	return nil
}

// Validate walks every chunk and every bucket of the heap and returns an error describing the
// first broken invariant it finds. It temporarily flips chunk used flags while it works, so it
// must not run concurrently with any other heap call. After a failed validation the heap is
// corrupt and must not be used further.
func (h *Heap) Validate() error {
	if err := h.validateControlBlock(); err != nil {
		return err
	}

	// Walk through the chunks linearly, verifying sizes and end pointer
	c := chunkID(h.chunk0Size)
	for ; c < h.end; c = h.rightChunk(c) {
		if err := h.validChunk(c); err != nil {
			return err
		}
	}
	if c != h.end {
		return errors.Errorf("chunk walk ended at %d instead of the end chunk %d", c, h.end)
	}

	if h.trackStats {
		var allocated, free int
		for c = chunkID(h.chunk0Size); c < h.end; c = h.rightChunk(c) {
			if h.chunkUsed(c) {
				allocated += h.usableBytes(h.chunkSize(c))
			} else if !h.soloFreeHeader(c) {
				free += h.usableBytes(h.chunkSize(c))
			}
		}

		if allocated != h.stats.AllocatedBytes {
			return errors.Errorf("runtime statistics report %d allocated bytes, but the chunks hold %d", h.stats.AllocatedBytes, allocated)
		}
		if free != h.stats.FreeBytes {
			return errors.Errorf("runtime statistics report %d free bytes, but the chunks hold %d", h.stats.FreeBytes, free)
		}
	}

	// Check the free lists: the available bit must match the list, and every entry must be a
	// valid free chunk in the right bucket. Mark those chunks used, temporarily.
	for b := 0; b < h.bucketCount; b++ {
		first := chunkID(*h.bucketHead(b))
		empty := h.availBuckets()&(1<<uint(b)) == 0
		if empty != (first == 0) {
			return errors.Errorf("bucket %d has head %d, but its available bit is %t", b, first, !empty)
		}

		n := 0
		for c = first; c != 0 && (n == 0 || c != first); c = h.nextFreeChunk(c) {
			if n > int(h.end) {
				return errors.Errorf("free list of bucket %d does not cycle back to its head %d", b, first)
			}
			if err := h.validChunk(c); err != nil {
				return errors.Wrapf(err, "in free list of bucket %d", b)
			}
			if h.chunkUsed(c) {
				return errors.Errorf("chunk %d is in the free list of bucket %d but is not free", c, b)
			}
			if h.soloFreeHeader(c) {
				return errors.Errorf("chunk %d is in the free list of bucket %d but is too small to hold links", c, b)
			}
			if idx := h.bucketIndex(h.chunkSize(c)); idx != b {
				return errors.Errorf("chunk %d of size %d belongs in bucket %d but is in bucket %d", c, h.chunkSize(c), idx, b)
			}
			if h.prevFreeChunk(h.nextFreeChunk(c)) != c {
				return errors.Errorf("chunk %d lists chunk %d as its next free chunk, but the reverse reference is broken", c, h.nextFreeChunk(c))
			}

			h.setChunkUsed(c, true)
			n++
		}
	}

	// Walk through the chunks linearly again, verifying that all chunks but solo headers are
	// now used, meaning every free chunk was found in a bucket. Mark all such chunks free and
	// solo headers used.
	prev := chunkID(0)
	for c = chunkID(h.chunk0Size); c < h.end; c = h.rightChunk(c) {
		if !h.chunkUsed(c) && !h.soloFreeHeader(c) {
			return errors.Errorf("free chunk %d is not in any bucket", c)
		}
		if h.leftChunk(c) != prev {
			return errors.Errorf("chunk %d has left neighbor %d, but the chunk before it is %d", c, h.leftChunk(c), prev)
		}
		prev = c
		h.setChunkUsed(c, h.soloFreeHeader(c))
	}
	if c != h.end {
		return errors.Errorf("chunk walk ended at %d instead of the end chunk %d", c, h.end)
	}

	// Go through the free lists again, checking that the linear pass caught all the chunks and
	// that they now show free. Mark them used.
	for b := 0; b < h.bucketCount; b++ {
		first := chunkID(*h.bucketHead(b))
		if first == 0 {
			continue
		}

		c = first
		for n := 0; n == 0 || c != first; n++ {
			if h.chunkUsed(c) {
				return errors.Errorf("chunk %d was reached from bucket %d more than once", c, b)
			}
			h.setChunkUsed(c, true)
			c = h.nextFreeChunk(c)
		}
	}

	// Now the heap is valid, but every used flag has been inverted. One more linear pass fixes
	// them up.
	for c = chunkID(h.chunk0Size); c < h.end; c = h.rightChunk(c) {
		h.setChunkUsed(c, !h.chunkUsed(c))
	}

	return nil
}

// IsValid reports whether Validate finds the heap consistent
func (h *Heap) IsValid() bool {
	return h.Validate() == nil
}
