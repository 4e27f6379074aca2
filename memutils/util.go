package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns an error wrapping PowerOfTwoError if number is not a power of two. Zero
// is rejected as well.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// LowestSetBit returns the value of the lowest set bit in number, or 0 if number is 0
func LowestSetBit[T Number](number T) T {
	return number & -number
}

// DivideRoundUp divides value by divisor, rounding the quotient up
func DivideRoundUp[T Number](value T, divisor T) T {
	return (value + divisor - 1) / divisor
}
