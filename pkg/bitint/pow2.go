// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used to size FFT windows
and buffers.

	// Round a requested window up to a usable FFT size
	size := bitint.NextPowerOfTwo(1000) // 1024

	// Validate a configured window size
	ok := bitint.IsPowerOfTwo(windowSize)

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved: 8-1 = 0111, Len = 3, 1<<3 = 8.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size, or 1 for size <= 0.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of two have one bit set, so n & (n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns log2(n) for a power of two n, and -1 otherwise.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
