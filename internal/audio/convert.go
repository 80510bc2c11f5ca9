package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToFloat32 将 PCM int16 样本转换为 [-1.0, 1.0] 范围的 float32。
func Int16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// Float32ToInt16 将 float32 样本钳位到 [-1.0, 1.0] 后转换为 PCM int16。
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = int16(clamp(s) * math.MaxInt16)
	}
	return out
}

// Float32ToInt 与 Float32ToInt16 相同，但输出 int，供 go-audio 的 IntBuffer 使用。
func Float32ToInt(in []float32) []int {
	out := make([]int, len(in))
	for i, s := range in {
		out[i] = int(clamp(s) * math.MaxInt16)
	}
	return out
}

// BytesToInt16 将小端字节切片转换为 int16 样本，丢弃末尾不完整的字节。
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Int16ToBytes 将 int16 样本转换为小端字节切片。
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// BytesToFloat32 将 16-bit LE 单声道 PCM 直接转换为 float32。
func BytesToFloat32(b []byte) []float32 {
	return Int16ToFloat32(BytesToInt16(b))
}

// Float32ToBytes 将 float32 样本直接转换为 16-bit LE PCM 字节。
func Float32ToBytes(in []float32) []byte {
	return Int16ToBytes(Float32ToInt16(in))
}

// StereoBytesToMono 将交错的 16-bit LE 立体声 PCM 下混为单声道 float32。
// 每帧 4 字节：左声道 2 字节 + 右声道 2 字节，末尾不完整的帧被截掉。
func StereoBytesToMono(pcm []byte) []float32 {
	const bytesPerFrame = 4
	n := len(pcm) / bytesPerFrame
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * bytesPerFrame
		left := int16(binary.LittleEndian.Uint16(pcm[off:]))
		right := int16(binary.LittleEndian.Uint16(pcm[off+2:]))
		out[i] = (float32(left) + float32(right)) / 2.0 / 32768.0
	}
	return out
}

// Float32ToRaw 将样本编码为 32-bit float LE 原始字节（sox 的 -e floating-point 格式）。
func Float32ToRaw(in []float32) []byte {
	out := make([]byte, len(in)*4)
	for i, s := range in {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}

// RawToFloat32 是 Float32ToRaw 的逆操作。
func RawToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func clamp(s float32) float32 {
	if s > 1.0 {
		return 1.0
	}
	if s < -1.0 {
		return -1.0
	}
	return s
}
