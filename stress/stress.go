// Package stress drives an allocator with a long randomized sequence of allocations and
// frees, checking that granted blocks never overlap and keep their contents until freed.
package stress

import (
	"io"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/chunkheap/memutils"
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slog"
)

// Allocator is the allocator under test. *heap.Heap satisfies it.
type Allocator interface {
	Alloc(bytes int) unsafe.Pointer
	Free(mem unsafe.Pointer)
}

// Config describes a workload. TotalBytes, OpCount and MaxBlocks are required.
type Config struct {
	// TotalBytes is the capacity of the allocator, used to steer how full the workload keeps it
	TotalBytes int
	// OpCount is the number of allocations and frees to perform
	OpCount int
	// MaxBlocks bounds the number of live blocks. Once reached, the workload only frees.
	MaxBlocks int
	// TargetPercent is the fill level, as a percentage of TotalBytes, at which allocating and
	// freeing are equally likely. It must be below 100.
	TargetPercent int
	// Seed seeds the workload's random source, so that a workload can be replayed
	Seed uint64

	// Validator, if set, is validated every ValidateEvery operations and once at the end
	Validator     memutils.Validatable
	ValidateEvery int

	// Logger receives a Debug summary once the workload completes. May be nil.
	Logger *slog.Logger
}

// Result summarizes a completed workload
type Result struct {
	TotalAllocs      int
	SuccessfulAllocs int
	TotalFrees       int
	// AccumulatedInUseBytes sums the requested bytes held after every operation. Divided by
	// the operation count it gives the average fill level the allocator sustained.
	AccumulatedInUseBytes int
}

type block struct {
	mem     unsafe.Pointer
	size    int
	pattern byte
}

type workload struct {
	config Config
	target Allocator
	rand   *rand.Rand

	blocks      []block
	bytesInUse  int
	nextPattern byte
}

// Run executes the workload described by config against target. Every block that is still
// live when the workload ends is freed before Run returns. An error is returned if the config
// is invalid, a block's contents changed while it was live, or the Validator fails.
func Run(target Allocator, config Config) (Result, error) {
	if config.TotalBytes <= 0 || config.OpCount < 0 || config.MaxBlocks <= 0 {
		return Result{}, errors.Newf("invalid workload: TotalBytes %d, OpCount %d and MaxBlocks %d must be positive",
			config.TotalBytes, config.OpCount, config.MaxBlocks)
	}
	if config.TargetPercent < 0 || config.TargetPercent >= 100 {
		return Result{}, errors.Newf("invalid workload: TargetPercent must be in [0, 100), but it was %d", config.TargetPercent)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &workload{
		config: config,
		target: target,
		rand:   rand.New(rand.NewSource(config.Seed)),
		blocks: make([]block, 0, config.MaxBlocks),
	}

	var result Result
	for i := 0; i < config.OpCount; i++ {
		if w.allocChoice() {
			result.TotalAllocs++
			if w.alloc(w.allocSize()) {
				result.SuccessfulAllocs++
			}
		} else {
			result.TotalFrees++
			if err := w.free(w.rand.Intn(len(w.blocks))); err != nil {
				return result, err
			}
		}
		result.AccumulatedInUseBytes += w.bytesInUse

		if config.Validator != nil && config.ValidateEvery > 0 && (i+1)%config.ValidateEvery == 0 {
			if err := config.Validator.Validate(); err != nil {
				return result, errors.Wrapf(err, "validation failed after operation %d", i)
			}
		}
	}

	for len(w.blocks) > 0 {
		if err := w.free(len(w.blocks) - 1); err != nil {
			return result, err
		}
	}

	if config.Validator != nil {
		if err := config.Validator.Validate(); err != nil {
			return result, errors.Wrap(err, "validation failed after releasing all blocks")
		}
	}

	config.Logger.Debug("stress::Run",
		slog.Int("TotalAllocs", result.TotalAllocs),
		slog.Int("SuccessfulAllocs", result.SuccessfulAllocs),
		slog.Int("TotalFrees", result.TotalFrees),
		slog.Int("AccumulatedInUseBytes", result.AccumulatedInUseBytes),
	)

	return result, nil
}

// allocChoice returns true to allocate and false to free. The chance of freeing rises
// linearly with the fill level, reaching even odds just below TargetPercent. At or above the
// target the workload only frees.
func (w *workload) allocChoice() bool {
	// Edge cases: no blocks allocated, and no space for a new one
	if len(w.blocks) == 0 {
		return true
	}
	if len(w.blocks) >= w.config.MaxBlocks {
		return false
	}

	fullPercent := uint64(100*w.bytesInUse) / uint64(w.config.TotalBytes)
	target := uint64(w.config.TargetPercent)
	if target == 0 {
		target = 1
	}

	freeChance := uint64(0xffffffff)
	if fullPercent < uint64(w.config.TargetPercent) {
		freeChance = fullPercent * (0x80000000 / target)
	}

	return uint64(w.rand.Uint32()) > freeChance
}

// allocSize picks a block size, logarithmically favoring small blocks: blocks twice as large
// are half as frequent
func (w *workload) allocSize() int {
	// A minimum scale of 4 gives the smallest half of the requests an average size of 8
	scale := 4 + bits.LeadingZeros32(w.rand.Uint32())
	if scale > 31 {
		scale = 31
	}

	return int(w.rand.Uint32() & (1<<uint(scale) - 1))
}

func (w *workload) blockBytes(b block) []byte {
	return unsafe.Slice((*byte)(b.mem), b.size)
}

func (w *workload) alloc(size int) bool {
	mem := w.target.Alloc(size)
	if mem == nil {
		return false
	}

	b := block{mem: mem, size: size, pattern: w.nextPattern}
	w.nextPattern++

	data := w.blockBytes(b)
	for i := range data {
		data[i] = b.pattern + byte(i)
	}

	w.blocks = append(w.blocks, b)
	w.bytesInUse += size
	return true
}

func (w *workload) free(index int) error {
	b := w.blocks[index]

	data := w.blockBytes(b)
	for i := range data {
		if data[i] != b.pattern+byte(i) {
			return errors.Newf("block of %d bytes at %p was overwritten at byte %d while it was live", b.size, b.mem, i)
		}
	}

	last := len(w.blocks) - 1
	w.blocks[index] = w.blocks[last]
	w.blocks = w.blocks[:last]
	w.bytesInUse -= b.size

	w.target.Free(b.mem)
	return nil
}
