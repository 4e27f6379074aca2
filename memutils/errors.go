package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrHeapTooSmall is returned when a region cannot hold the control block plus a single
	// minimum-sized chunk
	ErrHeapTooSmall error = errors.New("heap region is too small")
	// ErrHeapTooLarge is returned when a region holds more chunk units than the selected
	// header field width can address
	ErrHeapTooLarge error = errors.New("heap region is too large")
	// ErrRuntimeStatsDisabled is returned by runtime statistics queries on a heap that was
	// created without runtime statistics
	ErrRuntimeStatsDisabled error = errors.New("runtime statistics are not enabled for this heap")
	// ErrInvalidOptions is returned when heap creation options contradict each other
	ErrInvalidOptions error = errors.New("invalid heap options")
)
