package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/slog"
)

func (h *Heap) printStatsHeader(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("TotalBytes").Int(stats.TotalBytes)
	json.Name("ChunkHeaderBytes").Int(h.headerBytes)
	json.Name("BigHeap").Bool(h.big)
	json.Name("AllocatedBytes").Int(stats.AllocatedBytes)
	json.Name("FreeBytes").Int(stats.FreeBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("FreeChunks").Int(stats.FreeChunkCount)
	json.Name("SoloChunks").Int(stats.SoloChunkCount)

	if h.trackStats {
		json.Name("MaxAllocatedBytes").Int(h.stats.MaxAllocatedBytes)
	}
}

func (h *Heap) printDetailedMapBuckets(json *jwriter.ObjectState) {
	arrayState := json.Name("Buckets").Array()
	defer arrayState.End()

	for b := 0; b < h.bucketCount; b++ {
		first := chunkID(*h.bucketHead(b))
		if first == 0 {
			continue
		}

		var count, freeBytes int
		c := first
		for n := 0; n == 0 || c != first; n++ {
			count++
			freeBytes += h.usableBytes(h.chunkSize(c))
			c = h.nextFreeChunk(c)
		}

		obj := arrayState.Object()
		obj.Name("Index").Int(b)
		obj.Name("Count").Int(count)
		obj.Name("FreeBytes").Int(freeBytes)
		obj.End()
	}
}

func (h *Heap) printDetailedMapChunks(json *jwriter.ObjectState) {
	arrayState := json.Name("Chunks").Array()
	defer arrayState.End()

	h.visitChunks(func(c chunkID, kind chunkKind) {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(h.chunkOffset(c)))
		obj.Name("Type").String(kind.String())
		obj.Name("Size").Int(int(h.chunkSize(c)) * ChunkUnit)

		if kind == chunkKindUsed && h.attributor != nil {
			obj.Name("Owner").Int(int(h.ownerTag(c)))
		}
	})
}

// PrintDetailedMap writes a JSON object describing the heap to writer: summary counters, every
// non-empty bucket and every chunk in address order
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	objState := writer.Object()
	defer objState.End()

	h.printStatsHeader(&objState, &stats)
	h.printDetailedMapBuckets(&objState)
	h.printDetailedMapChunks(&objState)
}

// BuildStatsString returns the heap's summary counters as a JSON string. If detailed is true,
// the string holds the full map written by PrintDetailedMap instead.
func (h *Heap) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	if detailed {
		h.PrintDetailedMap(&writer)
	} else {
		var stats memutils.DetailedStatistics
		stats.Clear()
		h.AddDetailedStatistics(&stats)

		objState := writer.Object()
		h.printStatsHeader(&objState, &stats)
		objState.End()
	}

	return string(writer.Bytes())
}

// DebugLogAllChunks writes one Debug record per chunk to logger, in address order
func (h *Heap) DebugLogAllChunks(logger *slog.Logger) {
	h.visitChunks(func(c chunkID, kind chunkKind) {
		attrs := []any{
			slog.Int("Offset", int(h.chunkOffset(c))),
			slog.String("Type", kind.String()),
			slog.Int("Size", int(h.chunkSize(c))*ChunkUnit),
		}
		if kind == chunkKindUsed && h.attributor != nil {
			attrs = append(attrs, slog.Int("Owner", int(h.ownerTag(c))))
		}

		logger.Debug("Heap::DebugLogAllChunks", attrs...)
	})
}
