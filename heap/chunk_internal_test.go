package heap

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/chunkheap/memutils"
)

// alignedRegion returns a region of size bytes starting on a 64-byte boundary, so that chunk
// positions in tests are predictable
func alignedRegion(size int) []byte {
	buf := make([]byte, size+64)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int(memutils.AlignUp(addr, 64) - addr)
	return buf[offset : offset+size]
}

func newInternalHeap(t *testing.T, size int, options CreateOptions) *Heap {
	h, err := New(nil, alignedRegion(size), options)
	require.NoError(t, err)
	require.NoError(t, h.Validate())
	return h
}

func TestSmallHeapLayout(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	require.False(t, h.big)
	require.Equal(t, 2, h.wordBytes)
	require.Equal(t, 4, h.headerBytes)
	require.Equal(t, 4, h.memAlign)
	require.Equal(t, chunkSize(1), h.minChunk)
	require.Equal(t, chunkID(511), h.end)
	require.Equal(t, 9, h.bucketCount)
	require.Equal(t, chunkSize(8), h.chunk0Size)

	require.Equal(t, uint32(511), *h.ctrlWord(ctrlEndChunk))
	require.Equal(t, chunkSize(8), h.chunkSize(0))
	require.True(t, h.chunkUsed(0))

	require.Equal(t, chunkSize(503), h.chunkSize(8))
	require.False(t, h.chunkUsed(8))
	require.Equal(t, chunkID(0), h.leftChunk(8))

	require.Equal(t, chunkSize(0), h.chunkSize(511))
	require.True(t, h.chunkUsed(511))
	require.Equal(t, chunkID(8), h.leftChunk(511))

	require.Equal(t, uint32(1<<8), h.availBuckets())
	require.Equal(t, uint32(8), *h.bucketHead(8))
	require.Equal(t, chunkID(8), h.nextFreeChunk(8))
	require.Equal(t, chunkID(8), h.prevFreeChunk(8))

	// 16-bit fields, little-endian host layout of the size/used word
	sizeWord := unsafe.Slice((*byte)(unsafe.Add(h.base, 8*ChunkUnit+2)), 2)
	require.Equal(t, uint16(503<<1), binary.LittleEndian.Uint16(sizeWord))
}

func TestBigHeapLayout(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{Flags: HeapCreateBigOnly})

	require.True(t, h.big)
	require.Equal(t, 4, h.wordBytes)
	require.Equal(t, 8, h.headerBytes)
	require.Equal(t, 8, h.memAlign)
	require.Equal(t, chunkSize(2), h.minChunk)
	require.Equal(t, chunkID(511), h.end)
	require.Equal(t, 9, h.bucketCount)

	require.Equal(t, chunkSize(503), h.chunkSize(8))
	require.Equal(t, uint32(503<<1), *(*uint32)(unsafe.Add(h.base, 8*ChunkUnit+4)))
}

func TestAttributedHeaderLayout(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{Attributor: &countingAttributor{}})
	require.Equal(t, 8, h.headerBytes)
	require.Equal(t, 8, h.memAlign)
	require.Equal(t, chunkSize(2), h.minChunk)

	h = newInternalHeap(t, 4096, CreateOptions{Flags: HeapCreateBigOnly, Attributor: &countingAttributor{}})
	require.Equal(t, 16, h.headerBytes)
	require.Equal(t, 8, h.memAlign)
	require.Equal(t, chunkSize(3), h.minChunk)
}

func TestBucketIndex(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	for size, bucket := range map[chunkSize]int{
		1:   0,
		2:   1,
		3:   1,
		4:   2,
		7:   2,
		8:   3,
		503: 8,
	} {
		require.Equal(t, bucket, h.bucketIndex(size), "size %d", size)
	}

	h = newInternalHeap(t, 4096, CreateOptions{Flags: HeapCreateBigOnly})
	for size, bucket := range map[chunkSize]int{
		2: 0,
		3: 1,
		4: 1,
		5: 2,
		9: 3,
	} {
		require.Equal(t, bucket, h.bucketIndex(size), "size %d", size)
	}
}

func TestSplitAndMerge(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	h.freeListRemove(8)
	require.Equal(t, uint32(0), h.availBuckets())

	h.splitChunks(8, 20)
	require.Equal(t, chunkSize(12), h.chunkSize(8))
	require.Equal(t, chunkSize(491), h.chunkSize(20))
	require.Equal(t, chunkID(8), h.leftChunk(20))
	require.Equal(t, chunkID(20), h.leftChunk(511))
	require.Equal(t, chunkID(20), h.rightChunk(8))

	h.mergeChunks(8, 20)
	require.Equal(t, chunkSize(503), h.chunkSize(8))
	require.Equal(t, chunkID(8), h.leftChunk(511))

	h.freeListAdd(8)
	require.NoError(t, h.Validate())
}

func TestFreeListRing(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	a := h.Alloc(24)
	b := h.Alloc(24)
	c := h.Alloc(24)
	d := h.Alloc(24)
	require.NotNil(t, d)

	h.Free(a)
	h.Free(c)

	ca := h.memToChunk(a)
	cc := h.memToChunk(c)
	require.Equal(t, chunkSize(4), h.chunkSize(ca))
	require.Equal(t, chunkSize(4), h.chunkSize(cc))

	// both four-unit chunks share bucket 2, and later frees join the tail of the ring
	require.Equal(t, uint32(ca), *h.bucketHead(2))
	require.Equal(t, cc, h.nextFreeChunk(ca))
	require.Equal(t, cc, h.prevFreeChunk(ca))
	require.Equal(t, ca, h.nextFreeChunk(cc))
	require.Equal(t, ca, h.prevFreeChunk(cc))
	require.NotZero(t, h.availBuckets()&(1<<2))

	require.NoError(t, h.Validate())
	h.Free(b)
	h.Free(d)
	require.NoError(t, h.Validate())
	require.Equal(t, chunkSize(503), h.chunkSize(8))
}

func TestBoundedBucketScan(t *testing.T) {
	for _, test := range []struct {
		name       string
		allocLoops int
		firstFits  bool
	}{
		{name: "SingleCandidate", allocLoops: 1, firstFits: false},
		{name: "Default", allocLoops: 0, firstFits: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := newInternalHeap(t, 4096, CreateOptions{AllocLoops: test.allocLoops})

			// Bucket 2 gets a 4-unit chunk at its head, followed by a 7-unit chunk
			small := h.Alloc(28)
			sep1 := h.Alloc(4)
			large := h.Alloc(52)
			sep2 := h.Alloc(4)
			require.NotNil(t, sep2)
			require.Equal(t, chunkSize(4), h.chunkSize(h.memToChunk(small)))
			require.Equal(t, chunkSize(7), h.chunkSize(h.memToChunk(large)))

			h.Free(small)
			h.Free(large)
			require.Equal(t, uint32(h.memToChunk(small)), *h.bucketHead(2))

			// A 5-unit request is best served from bucket 2, but its head is too small
			first := h.Alloc(36)
			require.NotNil(t, first)
			if test.firstFits {
				require.Equal(t, large, first)
			} else {
				require.NotEqual(t, large, first)

				// the head was rotated, so the next search starts at the chunk that fits
				second := h.Alloc(36)
				require.Equal(t, large, second)
				h.Free(second)
			}

			h.Free(first)
			h.Free(sep1)
			h.Free(sep2)
			require.NoError(t, h.Validate())
			require.Equal(t, chunkSize(503), h.chunkSize(8))
		})
	}
}

func TestBackPointer(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	mem := h.AlignedAlloc(64, 10)
	require.NotNil(t, mem)
	require.Zero(t, uintptr(mem)%64)

	offset := h.memOffset(mem)
	require.Equal(t, uintptr(128), offset)
	require.False(t, h.canonicalOffset(offset))
	require.Equal(t, chunkID(15), h.readBackPointer(mem))
	require.Equal(t, chunkID(15), h.memToChunk(mem))

	// prefix, allocation and suffix
	require.Equal(t, chunkSize(7), h.chunkSize(8))
	require.False(t, h.chunkUsed(8))
	require.Equal(t, chunkSize(3), h.chunkSize(15))
	require.True(t, h.chunkUsed(15))
	require.Equal(t, chunkSize(493), h.chunkSize(18))
	require.Equal(t, 16, h.UsableSize(mem))
	require.NoError(t, h.Validate())

	h.Free(mem)
	require.Equal(t, chunkSize(503), h.chunkSize(8))
	require.NoError(t, h.Validate())
}

func TestCorruptBackPointerPanics(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	mem := h.AlignedAlloc(64, 10)
	require.NotNil(t, mem)

	h.writeBackPointer(mem, 400)
	require.Panics(t, func() {
		h.Free(mem)
	})
}

func TestSoloChunk(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{Flags: HeapCreateBigOnly | HeapCreateRuntimeStats})

	mem := h.AlignedAlloc(16, 8)
	require.NotNil(t, mem)
	require.Zero(t, uintptr(mem)%16)
	require.Equal(t, chunkID(9), h.memToChunk(mem))

	// the one-unit prefix can't hold links, so it stays out of the buckets
	require.Equal(t, chunkSize(1), h.chunkSize(8))
	require.False(t, h.chunkUsed(8))
	require.True(t, h.soloFreeHeader(8))
	require.Equal(t, chunkSize(2), h.chunkSize(9))
	require.Equal(t, chunkSize(500), h.chunkSize(11))
	require.Equal(t, 8, h.UsableSize(mem))
	require.NoError(t, h.Validate())

	stats, err := h.RuntimeStats()
	require.NoError(t, err)
	require.Equal(t, 8, stats.AllocatedBytes)
	require.Equal(t, 500*ChunkUnit-8, stats.FreeBytes)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	h.AddDetailedStatistics(&detailed)
	require.Equal(t, 1, detailed.SoloChunkCount)
	require.Equal(t, 8, detailed.SoloBytes)
	require.Equal(t, h.Size(), detailed.AllocatedBytes+detailed.FreeBytes+detailed.HeaderBytes+detailed.SoloBytes)

	h.Free(mem)
	require.Equal(t, chunkSize(503), h.chunkSize(8))
	require.NoError(t, h.Validate())
}

func TestValidateDetectsCorruption(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	a := h.Alloc(100)
	b := h.Alloc(100)
	require.NotNil(t, b)
	require.NoError(t, h.Validate())

	// stomp the left-size field of b's chunk as an overflow out of a would
	h.setLeftChunkSize(h.memToChunk(b), 3)
	require.Error(t, h.Validate())
	require.False(t, h.IsValid())
	_ = a
}

func TestValidateDetectsLostFreeChunk(t *testing.T) {
	h := newInternalHeap(t, 4096, CreateOptions{})

	a := h.Alloc(100)
	require.NotNil(t, a)

	// drop the remainder chunk from its bucket without marking it used
	h.freeListRemove(h.rightChunk(h.memToChunk(a)))
	require.Error(t, h.Validate())
}

type countingAttributor struct {
	charged  int
	released int
}

func (a *countingAttributor) Charge(owner Owner, bytes int) OwnerTag {
	a.charged += bytes
	return OwnerTag(owner.ID)
}

func (a *countingAttributor) ChargeTag(tag OwnerTag, bytes int) {
	a.charged += bytes
}

func (a *countingAttributor) Release(tag OwnerTag, bytes int) {
	a.released += bytes
}
