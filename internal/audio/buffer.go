package audio

import "math"

// Duration 返回样本数对应的秒数。
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}

// Peak 返回最大绝对幅度。
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// RMS 返回均方根幅度，空缓冲返回 0。
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Scale 原地将所有样本乘以 gain。
func Scale(samples []float32, gain float64) {
	for i, s := range samples {
		samples[i] = float32(float64(s) * gain)
	}
}

// HardClip 原地把样本钳位到 [-1.0, 1.0]。
func HardClip(samples []float32) {
	for i, s := range samples {
		samples[i] = clamp(s)
	}
}

// Copy 返回样本的独立副本。
func Copy(samples []float32) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	return out
}

// ramp 生成从 from 到 to 的 n 点线性序列（含两端），与 numpy.linspace 一致。
func ramp(n int, from, to float64) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = from
		return out
	}
	step := (to - from) / float64(n-1)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	out[n-1] = to
	return out
}
