package heap

import "github.com/vkngwrapper/chunkheap/memutils"

type chunkKind int

const (
	chunkKindUsed chunkKind = iota
	chunkKindFree
	chunkKindSolo
)

var chunkKindMapping = map[chunkKind]string{
	chunkKindUsed: "USED",
	chunkKindFree: "FREE",
	chunkKindSolo: "SOLO",
}

func (k chunkKind) String() string {
	return chunkKindMapping[k]
}

// visitChunks calls visit for every chunk between the control block and the end marker, in
// address order
func (h *Heap) visitChunks(visit func(c chunkID, kind chunkKind)) {
	for c := chunkID(h.chunk0Size); c < h.end; c = h.rightChunk(c) {
		switch {
		case h.chunkUsed(c):
			visit(c, chunkKindUsed)
		case h.soloFreeHeader(c):
			visit(c, chunkKindSolo)
		default:
			visit(c, chunkKindFree)
		}
	}
}

// AddDetailedStatistics walks every chunk of the heap and adds it to stats. Allocated and free
// byte counts are usable bytes; the header bytes of every used and free chunk, and the whole of
// every solo chunk, are counted separately so that the four add up to the heap's Size.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.TotalBytes += h.Size()
	if h.trackStats && h.stats.MaxAllocatedBytes > stats.MaxAllocatedBytes {
		stats.MaxAllocatedBytes = h.stats.MaxAllocatedBytes
	}

	h.visitChunks(func(c chunkID, kind chunkKind) {
		size := h.chunkSize(c)
		switch kind {
		case chunkKindUsed:
			stats.AddAllocation(h.usableBytes(size), h.headerBytes)
		case chunkKindFree:
			stats.AddFreeChunk(h.usableBytes(size), h.headerBytes)
		case chunkKindSolo:
			stats.AddSoloChunk(int(size) * ChunkUnit)
		}
	})
}
