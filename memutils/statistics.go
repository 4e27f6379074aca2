package memutils

import "math"

// Statistics holds the running byte counters of a heap. Byte counts are usable bytes: chunk
// header overhead is not included in either FreeBytes or AllocatedBytes.
type Statistics struct {
	FreeBytes         int
	AllocatedBytes    int
	MaxAllocatedBytes int
}

func (s *Statistics) Clear() {
	s.FreeBytes = 0
	s.AllocatedBytes = 0
	s.MaxAllocatedBytes = 0
}

// AddAllocated increases the allocated byte counter, raising the high-water mark if needed
func (s *Statistics) AddAllocated(bytes int) {
	s.AllocatedBytes += bytes
	if s.AllocatedBytes > s.MaxAllocatedBytes {
		s.MaxAllocatedBytes = s.AllocatedBytes
	}
}

func (s *Statistics) SubAllocated(bytes int) {
	s.AllocatedBytes -= bytes
}

func (s *Statistics) AddFree(bytes int) {
	s.FreeBytes += bytes
}

func (s *Statistics) SubFree(bytes int) {
	s.FreeBytes -= bytes
}

// ResetMax lowers the high-water mark to the currently allocated byte count
func (s *Statistics) ResetMax() {
	s.MaxAllocatedBytes = s.AllocatedBytes
}

// DetailedStatistics is built by walking every chunk of a heap. FreeBytes counts only
// bucketed free chunks, matching the running counters; solo chunks are reported separately.
type DetailedStatistics struct {
	Statistics
	TotalBytes      int
	HeaderBytes     int
	ChunkCount      int
	AllocationCount int
	FreeChunkCount  int
	SoloChunkCount  int
	SoloBytes       int

	AllocationSizeMin int
	AllocationSizeMax int
	FreeChunkSizeMin  int
	FreeChunkSizeMax  int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.TotalBytes = 0
	s.HeaderBytes = 0
	s.ChunkCount = 0
	s.AllocationCount = 0
	s.FreeChunkCount = 0
	s.SoloChunkCount = 0
	s.SoloBytes = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeChunkSizeMin = math.MaxInt
	s.FreeChunkSizeMax = 0
}

func (s *DetailedStatistics) AddAllocation(size int, headerBytes int) {
	s.ChunkCount++
	s.AllocationCount++
	s.AllocatedBytes += size
	s.HeaderBytes += headerBytes

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddFreeChunk(size int, headerBytes int) {
	s.ChunkCount++
	s.FreeChunkCount++
	s.FreeBytes += size
	s.HeaderBytes += headerBytes

	if size < s.FreeChunkSizeMin {
		s.FreeChunkSizeMin = size
	}

	if size > s.FreeChunkSizeMax {
		s.FreeChunkSizeMax = size
	}
}

// AddSoloChunk records a free chunk too small to hold free-list links. All of its bytes are
// unusable until it is coalesced with a neighbor.
func (s *DetailedStatistics) AddSoloChunk(bytes int) {
	s.ChunkCount++
	s.SoloChunkCount++
	s.SoloBytes += bytes
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.FreeBytes += other.FreeBytes
	s.AllocatedBytes += other.AllocatedBytes
	if other.MaxAllocatedBytes > s.MaxAllocatedBytes {
		s.MaxAllocatedBytes = other.MaxAllocatedBytes
	}

	s.TotalBytes += other.TotalBytes
	s.HeaderBytes += other.HeaderBytes
	s.ChunkCount += other.ChunkCount
	s.AllocationCount += other.AllocationCount
	s.FreeChunkCount += other.FreeChunkCount
	s.SoloChunkCount += other.SoloChunkCount
	s.SoloBytes += other.SoloBytes

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}

	if other.FreeChunkSizeMin < s.FreeChunkSizeMin {
		s.FreeChunkSizeMin = other.FreeChunkSizeMin
	}

	if other.FreeChunkSizeMax > s.FreeChunkSizeMax {
		s.FreeChunkSizeMax = other.FreeChunkSizeMax
	}
}
