package kernels

import (
	"math/bits"

	"github.com/Kier73/CHIMERA-VPU/internal/shared"
)

// HammingWeight returns the population count of data.
func HammingWeight(data []byte) uint64 {
	var total uint64
	for _, b := range data {
		total += uint64(bits.OnesCount8(b))
	}
	return total
}

// BufferWeight returns the population count of a buffer's backing bytes.
// Nil or empty buffers weigh 0.
func BufferWeight(b *shared.Buffer) uint64 {
	if b == nil {
		return 0
	}
	return HammingWeight(b.Data)
}
