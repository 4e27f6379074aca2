// Package heap implements a constant-time segregated-fit allocator that manages a single
// caller-supplied region of memory. All bookkeeping lives inside the region itself: chunk 0
// holds the control block, every chunk carries a compact header, and free chunks thread the
// bucket lists through their own payload.
//
// A Heap performs no internal locking. Callers sharing a heap between goroutines must
// serialize every call, including read-only ones such as Validate and UsableSize.
package heap

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/slog"
)

// Control block layout inside chunk 0. The first bytes are reserved for chunk 0's own header,
// sized for the widest possible header.
const (
	ctrlHeaderReserve uintptr = 16
	ctrlEndChunk      uintptr = ctrlHeaderReserve
	ctrlAvailBuckets  uintptr = ctrlEndChunk + 4
	ctrlBuckets       uintptr = ctrlAvailBuckets + 4
	bucketHeadBytes   uintptr = 4
)

// Heap manages a single region of memory. It is created with New and lives for as long as the
// region does; there is nothing to destroy.
type Heap struct {
	logger     *slog.Logger
	flags      CreateFlags
	allocLoops int
	listener   Listener
	attributor Attributor

	region []byte
	base   unsafe.Pointer

	big         bool
	wordBytes   int
	headerBytes int
	memAlign    int
	minChunk    chunkSize
	end         chunkID
	chunk0Size  chunkSize
	bucketCount int

	trackStats bool
	stats      memutils.Statistics
}

// New partitions region into a heap. The region must stay alive and must not be touched by the
// caller, other than through memory granted by the heap, for as long as the heap is in use.
//
// logger - Receives diagnostic output. May be nil.
//
// region - The memory to manage. Its start is rounded up and its end rounded down to ChunkUnit.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, region []byte, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	flags := options.Flags
	if flags&HeapCreateSmallOnly != 0 && flags&HeapCreateBigOnly != 0 {
		return nil, errors.Wrap(memutils.ErrInvalidOptions, "HeapCreateSmallOnly and HeapCreateBigOnly cannot both be specified")
	}

	allocLoops := options.AllocLoops
	if allocLoops == 0 {
		allocLoops = DefaultAllocLoops
	} else if allocLoops < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidOptions, "AllocLoops must not be negative, but it was %d", allocLoops)
	}

	regionBytes := len(region)
	footerBytes := 4
	if bigHeapChunks(regionBytes/ChunkUnit, flags) {
		footerBytes = 8
	}
	if regionBytes <= footerBytes {
		return nil, errors.Wrapf(memutils.ErrHeapTooSmall, "region of %d bytes cannot hold the end marker", regionBytes)
	}

	addr := uintptr(unsafe.Pointer(&region[0]))
	start := memutils.AlignUp(addr, uintptr(ChunkUnit))
	end := memutils.AlignDown(addr+uintptr(regionBytes-footerBytes), uintptr(ChunkUnit))
	if end <= start {
		return nil, errors.Wrapf(memutils.ErrHeapTooSmall, "region of %d bytes holds no whole chunk unit", regionBytes)
	}

	heapChunks := int((end - start) / uintptr(ChunkUnit))
	maxChunks := bigHeapMaxChunks
	if flags&HeapCreateSmallOnly != 0 {
		maxChunks = smallHeapMaxChunks
	}
	if heapChunks > maxChunks {
		return nil, errors.Wrapf(memutils.ErrHeapTooLarge, "region holds %d chunk units, but at most %d are supported", heapChunks, maxChunks)
	}

	h := &Heap{
		logger:     logger,
		flags:      flags,
		allocLoops: allocLoops,
		listener:   options.Listener,
		attributor: options.Attributor,
		region:     region,
		base:       unsafe.Add(unsafe.Pointer(&region[0]), start-addr),
		big:        bigHeapChunks(heapChunks, flags),
		end:        chunkID(heapChunks),
		trackStats: flags&HeapCreateRuntimeStats != 0,
	}

	h.wordBytes = 2
	if h.big {
		h.wordBytes = 4
	}
	h.headerBytes = 2 * h.wordBytes
	if h.attributor != nil {
		h.headerBytes += 2 * h.wordBytes
	}
	h.memAlign = memutils.LowestSetBit(h.headerBytes)
	if h.memAlign > ChunkUnit {
		h.memAlign = ChunkUnit
	}
	memutils.DebugCheckPow2(h.memAlign, "memAlign")
	h.minChunk = h.bytesToChunkSize(1)

	if heapChunks < int(h.minChunk) {
		return nil, errors.Wrapf(memutils.ErrHeapTooSmall, "region holds %d chunk units", heapChunks)
	}

	h.bucketCount = h.bucketIndex(chunkSize(heapChunks)) + 1
	h.chunk0Size = chunkSize(memutils.DivideRoundUp(int(ctrlBuckets)+h.bucketCount*int(bucketHeadBytes), ChunkUnit))
	if int(h.chunk0Size)+int(h.minChunk) > heapChunks {
		return nil, errors.Wrapf(memutils.ErrHeapTooSmall,
			"region holds %d chunk units, but the control block needs %d and the smallest chunk %d",
			heapChunks, h.chunk0Size, h.minChunk)
	}

	*h.ctrlWord(ctrlEndChunk) = uint32(h.end)
	*h.ctrlWord(ctrlAvailBuckets) = 0
	for b := 0; b < h.bucketCount; b++ {
		*h.bucketHead(b) = 0
	}

	// chunk containing the control block
	h.setChunkSize(0, h.chunk0Size)
	h.setLeftChunkSize(0, 0)
	h.setChunkUsed(0, true)

	// chunk containing the free heap
	first := chunkID(h.chunk0Size)
	h.setChunkSize(first, chunkSize(h.end)-h.chunk0Size)
	h.setLeftChunkSize(first, h.chunk0Size)

	// the end marker chunk
	h.setChunkSize(h.end, 0)
	h.setLeftChunkSize(h.end, chunkSize(h.end)-h.chunk0Size)
	h.setChunkUsed(h.end, true)

	h.freeListAdd(first)

	h.logger.Debug("Heap::New",
		slog.Int("RegionBytes", regionBytes),
		slog.Int("Chunks", heapChunks),
		slog.Int("HeaderBytes", h.headerBytes),
		slog.Int("Buckets", h.bucketCount),
		slog.String("Flags", flags.String()),
	)

	return h, nil
}

func (h *Heap) ctrlWord(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Add(h.base, offset))
}

func (h *Heap) bucketHead(b int) *uint32 {
	return h.ctrlWord(ctrlBuckets + uintptr(b)*bucketHeadBytes)
}

func (h *Heap) availBuckets() uint32 {
	return *h.ctrlWord(ctrlAvailBuckets)
}

func (h *Heap) setAvailBuckets(mask uint32) {
	*h.ctrlWord(ctrlAvailBuckets) = mask
}

func (h *Heap) fatalf(format string, args ...any) {
	h.fatal(errors.AssertionFailedf(format, args...))
}

// fatal logs err and panics with it. err must already carry an assertion failure.
func (h *Heap) fatal(err error) {
	h.logger.Error("heap assertion failed", slog.Any("error", err))
	panic(err)
}

// requirePow2 panics unless align is a positive power of two
func (h *Heap) requirePow2(align int) {
	if err := memutils.CheckPow2(align, "alignment"); err != nil {
		h.fatal(errors.WithAssertionFailure(err))
	}
}

// ID identifies the heap to listeners. It is the address of the first managed byte.
func (h *Heap) ID() uintptr { return uintptr(h.base) }

// Size returns the number of bytes available to chunks, headers included, once the control
// block has been carved out of the region
func (h *Heap) Size() int { return int(chunkSize(h.end)-h.chunk0Size) * ChunkUnit }

// HeaderBytes returns the per-chunk header overhead in bytes
func (h *Heap) HeaderBytes() int { return h.headerBytes }

// BigHeap returns true if chunk header fields are 32 bits wide, and false if they are 16 bits
func (h *Heap) BigHeap() bool { return h.big }

// Flags returns the flags the heap was created with
func (h *Heap) Flags() CreateFlags { return h.flags }

// Owns returns whether mem lies in the part of the region handed out to callers. Behavior is
// undefined if mem was freed.
func (h *Heap) Owns(mem unsafe.Pointer) bool {
	if mem == nil || uintptr(mem) < uintptr(h.base) {
		return false
	}

	offset := h.memOffset(mem)
	return offset >= h.chunkOffset(chunkID(h.chunk0Size))+uintptr(h.headerBytes) && offset < h.chunkOffset(h.end)
}

// Slice returns the usable bytes at mem as a byte slice. mem must be a live allocation from
// this heap; nil returns nil.
func (h *Heap) Slice(mem unsafe.Pointer) []byte {
	if mem == nil {
		return nil
	}
	return unsafe.Slice((*byte)(mem), h.UsableSize(mem))
}

// RuntimeStats retrieves the running free, allocated and peak-allocated byte counters. It
// fails with memutils.ErrRuntimeStatsDisabled unless the heap was created with
// HeapCreateRuntimeStats.
func (h *Heap) RuntimeStats() (memutils.Statistics, error) {
	if !h.trackStats {
		return memutils.Statistics{}, errors.WithStack(memutils.ErrRuntimeStatsDisabled)
	}
	return h.stats, nil
}

// ResetMaxAllocated lowers the peak-allocated counter to the current allocated byte count
func (h *Heap) ResetMaxAllocated() error {
	if !h.trackStats {
		return errors.WithStack(memutils.ErrRuntimeStatsDisabled)
	}
	h.stats.ResetMax()
	return nil
}

func (h *Heap) increaseAllocated(bytes int) {
	if h.trackStats {
		h.stats.AddAllocated(bytes)
	}
}

func (h *Heap) decreaseAllocated(bytes int) {
	if h.trackStats {
		h.stats.SubAllocated(bytes)
	}
}
