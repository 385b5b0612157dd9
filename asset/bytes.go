package asset

import (
	"encoding/binary"
	"math"
)

// floatBytes packs float32 values as little-endian bytes.
func floatBytes(fs []float32) []byte {
	out := make([]byte, 0, len(fs)*4)
	for _, f := range fs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
