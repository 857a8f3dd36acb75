package ivshrpc

import "fmt"

// SplitBAR carves a BufferSize-byte shared region into the two peer halves
// named by spec.md §6: offset 0..BufferSize/2-1 is peer-A's producer ring
// (peer-B's consumer), and the remaining half is peer-B's producer ring
// (peer-A's consumer). SplitBAR only slices the region; writing fresh ring
// headers into both halves with ring.InitHeader is left to the caller.
func SplitBAR(bar []byte) (aHalf, bHalf []byte, err error) {
	if len(bar) != BufferSize {
		return nil, nil, fmt.Errorf("ivshrpc: BAR must be exactly %d bytes, got %d", BufferSize, len(bar))
	}
	half := BufferSize / 2
	aHalf, bHalf = bar[:half], bar[half:]
	return aHalf, bHalf, nil
}
