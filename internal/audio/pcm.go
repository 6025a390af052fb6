package audio

import (
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts float samples to signed 16-bit PCM.
// Input is clamped to [-1, 1]; positive values scale by 32767 and negative values by 32768
// so both ends map exactly. Conversion truncates toward zero and NaN becomes silence.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = sampleToPCM16(s)
	}
	return out
}

// EncodePCM16LE lays out PCM samples as little-endian bytes.
func EncodePCM16LE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeBlock converts a float block straight to little-endian PCM16 bytes.
func EncodeBlock(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sampleToPCM16(s)))
	}
	return out
}

func sampleToPCM16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	case v >= 0:
		return int16(v * 32767)
	default:
		return int16(v * 32768)
	}
}
