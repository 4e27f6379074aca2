package heap

// Free chunks are kept in circular doubly linked lists, one per bucket. Bucket b holds free
// chunks whose size s satisfies floor(log2(s - minChunk + 1)) == b. A head of 0 means the
// bucket is empty, and availBuckets has bit b set exactly when bucket b is non-empty.

func (h *Heap) freeListRemoveBucket(c chunkID, b int) {
	if h.chunkUsed(c) {
		h.fatalf("removing used chunk %d from bucket %d", c, b)
	}

	head := h.bucketHead(b)
	if *head == 0 || h.availBuckets()&(1<<uint(b)) == 0 {
		h.fatalf("removing chunk %d from empty bucket %d", c, b)
	}

	if h.nextFreeChunk(c) == c {
		// this was the only chunk in the bucket
		h.setAvailBuckets(h.availBuckets() &^ (1 << uint(b)))
		*head = 0
	} else {
		first := h.prevFreeChunk(c)
		second := h.nextFreeChunk(c)

		*head = uint32(second)
		h.setNextFreeChunk(first, second)
		h.setPrevFreeChunk(second, first)
	}

	if h.trackStats {
		h.stats.SubFree(h.usableBytes(h.chunkSize(c)))
	}
}

func (h *Heap) freeListRemove(c chunkID) {
	if h.soloFreeHeader(c) {
		return
	}
	h.freeListRemoveBucket(c, h.bucketIndex(h.chunkSize(c)))
}

func (h *Heap) freeListAddBucket(c chunkID, b int) {
	head := h.bucketHead(b)

	if *head == 0 {
		if h.availBuckets()&(1<<uint(b)) != 0 {
			h.fatalf("empty bucket %d is marked available", b)
		}

		// empty list, first item
		h.setAvailBuckets(h.availBuckets() | (1 << uint(b)))
		*head = uint32(c)
		h.setPrevFreeChunk(c, c)
		h.setNextFreeChunk(c, c)
	} else {
		// insert before the current head, at the tail of the ring
		second := chunkID(*head)
		first := h.prevFreeChunk(second)

		h.setPrevFreeChunk(c, first)
		h.setNextFreeChunk(c, second)
		h.setNextFreeChunk(first, c)
		h.setPrevFreeChunk(second, c)
	}

	if h.trackStats {
		h.stats.AddFree(h.usableBytes(h.chunkSize(c)))
	}
}

func (h *Heap) freeListAdd(c chunkID) {
	if h.soloFreeHeader(c) {
		return
	}
	h.freeListAddBucket(c, h.bucketIndex(h.chunkSize(c)))
}
