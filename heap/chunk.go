package heap

import (
	"encoding/binary"
	"math"
	"math/bits"
	"unsafe"

	"github.com/vkngwrapper/chunkheap/memutils"
)

const (
	// ChunkUnit is the quantum, in bytes, in which every chunk size and chunk offset is measured
	ChunkUnit int = 8

	smallHeapMaxChunks = 0x7fff
	bigHeapMaxChunks   = 0x7fffffff
)

// chunkID is the offset of a chunk from the start of the region, in chunk units. Chunk 0 holds
// the control block and is never free, so 0 doubles as "no chunk".
type chunkID uint32

// chunkSize is a chunk length in chunk units, header included
type chunkSize uint32

type chunkField uintptr

const (
	fieldLeftSize chunkField = iota
	fieldSizeAndUsed
	fieldFreePrev
	fieldFreeNext

	// The owner tag shares storage with the free-list links: it is only meaningful while the
	// chunk is used, the links only while it is free.
	fieldOwnerTag = fieldFreePrev
)

type headerWord interface {
	~uint16 | ~uint32
}

func wordAt[T headerWord](base unsafe.Pointer, c chunkID, f chunkField) *T {
	var word T
	return (*T)(unsafe.Add(base, uintptr(c)*uintptr(ChunkUnit)+uintptr(f)*unsafe.Sizeof(word)))
}

func bigHeapChunks(chunks int, flags CreateFlags) bool {
	if flags&HeapCreateSmallOnly != 0 {
		return false
	}
	if flags&HeapCreateBigOnly != 0 {
		return true
	}
	return chunks > smallHeapMaxChunks
}

func (h *Heap) chunkField(c chunkID, f chunkField) uint32 {
	if h.big {
		return *wordAt[uint32](h.base, c, f)
	}
	return uint32(*wordAt[uint16](h.base, c, f))
}

func (h *Heap) setChunkField(c chunkID, f chunkField, value uint32) {
	memutils.DebugAssert(c <= h.end, "chunk %d is past the end chunk %d", c, h.end)

	if h.big {
		*wordAt[uint32](h.base, c, f) = value
		return
	}

	memutils.DebugAssert(value <= math.MaxUint16, "value %d does not fit a 16-bit header field", value)
	*wordAt[uint16](h.base, c, f) = uint16(value)
}

func (h *Heap) chunkSize(c chunkID) chunkSize {
	return chunkSize(h.chunkField(c, fieldSizeAndUsed) >> 1)
}

func (h *Heap) chunkUsed(c chunkID) bool {
	return h.chunkField(c, fieldSizeAndUsed)&1 != 0
}

func (h *Heap) setChunkUsed(c chunkID, used bool) {
	value := h.chunkField(c, fieldSizeAndUsed)
	if used {
		value |= 1
	} else {
		value &^= 1
	}
	h.setChunkField(c, fieldSizeAndUsed, value)
}

// setChunkSize also clears the used flag. A chunk is never in use while its size changes, and
// callers mark it used again afterward where needed.
func (h *Heap) setChunkSize(c chunkID, size chunkSize) {
	h.setChunkField(c, fieldSizeAndUsed, uint32(size)<<1)
}

func (h *Heap) prevFreeChunk(c chunkID) chunkID {
	return chunkID(h.chunkField(c, fieldFreePrev))
}

func (h *Heap) nextFreeChunk(c chunkID) chunkID {
	return chunkID(h.chunkField(c, fieldFreeNext))
}

func (h *Heap) setPrevFreeChunk(c chunkID, prev chunkID) {
	h.setChunkField(c, fieldFreePrev, uint32(prev))
}

func (h *Heap) setNextFreeChunk(c chunkID, next chunkID) {
	h.setChunkField(c, fieldFreeNext, uint32(next))
}

func (h *Heap) leftChunk(c chunkID) chunkID {
	return c - chunkID(h.chunkField(c, fieldLeftSize))
}

func (h *Heap) rightChunk(c chunkID) chunkID {
	return c + chunkID(h.chunkSize(c))
}

func (h *Heap) setLeftChunkSize(c chunkID, size chunkSize) {
	h.setChunkField(c, fieldLeftSize, uint32(size))
}

func (h *Heap) ownerTag(c chunkID) OwnerTag {
	return OwnerTag(h.chunkField(c, fieldOwnerTag))
}

func (h *Heap) setOwnerTag(c chunkID, tag OwnerTag) {
	h.setChunkField(c, fieldOwnerTag, uint32(tag))
}

// soloFreeHeader reports whether a free chunk is too small to carry free-list links. Such
// chunks are kept out of the buckets and only reclaimed by coalescing.
func (h *Heap) soloFreeHeader(c chunkID) bool {
	return h.chunkSize(c) < h.minChunk
}

func (h *Heap) bytesToChunkSize(bytes int) chunkSize {
	return chunkSize(memutils.DivideRoundUp(h.headerBytes+bytes, ChunkUnit))
}

func (h *Heap) usableBytes(size chunkSize) int {
	return int(size)*ChunkUnit - h.headerBytes
}

func (h *Heap) sizeTooBig(bytes int) bool {
	return bytes/ChunkUnit >= int(h.end)
}

func (h *Heap) bucketIndex(size chunkSize) int {
	usable := uint32(size - h.minChunk + 1)
	return bits.Len32(usable) - 1
}

func (h *Heap) chunkOffset(c chunkID) uintptr {
	return uintptr(c) * uintptr(ChunkUnit)
}

func (h *Heap) chunkMem(c chunkID) unsafe.Pointer {
	return unsafe.Add(h.base, h.chunkOffset(c)+uintptr(h.headerBytes))
}

func (h *Heap) memOffset(mem unsafe.Pointer) uintptr {
	return uintptr(mem) - uintptr(h.base)
}

// canonicalOffset reports whether a user offset sits directly after a chunk header
func (h *Heap) canonicalOffset(offset uintptr) bool {
	return (offset-uintptr(h.headerBytes))%uintptr(ChunkUnit) == 0
}

func (h *Heap) backPointerSlot(mem unsafe.Pointer) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(mem, -h.wordBytes)), h.wordBytes)
}

func (h *Heap) readBackPointer(mem unsafe.Pointer) chunkID {
	slot := h.backPointerSlot(mem)
	if h.big {
		return chunkID(binary.LittleEndian.Uint32(slot))
	}
	return chunkID(binary.LittleEndian.Uint16(slot))
}

func (h *Heap) writeBackPointer(mem unsafe.Pointer, c chunkID) {
	slot := h.backPointerSlot(mem)
	if h.big {
		binary.LittleEndian.PutUint32(slot, uint32(c))
		return
	}
	binary.LittleEndian.PutUint16(slot, uint16(c))
}

// chunkForOffset returns the chunk that owns a user offset. Canonical offsets map
// arithmetically; any other offset keeps its chunk id in a back-pointer placed just before it.
func (h *Heap) chunkForOffset(offset uintptr) chunkID {
	if h.canonicalOffset(offset) {
		return chunkID((offset - uintptr(h.headerBytes)) / uintptr(ChunkUnit))
	}
	return chunkID((offset - uintptr(h.headerBytes) - uintptr(h.wordBytes)) / uintptr(ChunkUnit))
}

// memToChunk recovers the chunk that owns a user address, panicking if the address cannot
// belong to this heap.
func (h *Heap) memToChunk(mem unsafe.Pointer) chunkID {
	offset := h.memOffset(mem)
	if uintptr(mem) < uintptr(h.base) || offset < uintptr(h.headerBytes) || offset >= h.chunkOffset(h.end) {
		h.fatalf("memory at %p is outside of the heap", mem)
	}

	var c chunkID
	if h.canonicalOffset(offset) {
		c = h.chunkForOffset(offset)
	} else {
		c = h.readBackPointer(mem)
	}

	if c == 0 || c >= h.end {
		h.fatalf("memory at %p maps to invalid chunk %d", mem, c)
	}
	if offset < h.chunkOffset(c)+uintptr(h.headerBytes) || offset >= h.chunkOffset(h.rightChunk(c)) {
		h.fatalf("memory at %p is not covered by its chunk %d (corrupted back-pointer?)", mem, c)
	}

	return c
}
