package stream

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxVarintLen is the longest varint accepted: 32-bit values only.
const MaxVarintLen = 5

// WriteVarint writes x as a protobuf base-128 varint, all or nothing.
func WriteVarint(dst Sink, x uint32) bool {
	var tmp [MaxVarintLen]byte
	b := protowire.AppendVarint(tmp[:0], uint64(x))
	if dst.Space() < len(b) {
		return false
	}
	dst.WriteStart()
	for _, c := range b {
		dst.UncheckedWrite(c)
	}
	dst.WriteEnd()
	return true
}

// ReadVarint reads a base-128 varint of at most MaxVarintLen bytes that
// fits in 32 bits. Nothing is consumed unless the result is Valid.
func ReadVarint(src Source) (uint32, Status) {
	src.ReadStart()
	var x uint64
	for i := 0; i < MaxVarintLen; i++ {
		c, ok := src.Read()
		if !ok {
			src.ReadAbort()
			return 0, Incomplete
		}
		x |= uint64(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			if x > math.MaxUint32 {
				break
			}
			src.ReadEnd()
			return uint32(x), Valid
		}
	}
	src.ReadAbort()
	return 0, Invalid
}

// ZigZag maps signed integers to unsigned so that small magnitudes stay
// short: 0, -1, 1, -2 become 0, 1, 2, 3.
func ZigZag(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

func UnZigZag(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}
