package audio

import (
	"fmt"
	"math"
)

const (
	silenceFrameSec = 0.025
	silenceHopSec   = 0.010
)

// Interval 是一段静音区间 [Start, End)，单位秒。
type Interval struct {
	Start float64
	End   float64
}

// Duration 返回区间长度（秒）。
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

// frameParams 返回 25ms 帧长和 10ms 帧移对应的样本数。
func frameParams(sampleRate int) (frameLen, hop int) {
	frameLen = int(silenceFrameSec * float64(sampleRate))
	hop = int(silenceHopSec * float64(sampleRate))
	return max(frameLen, 1), max(hop, 1)
}

// DetectSilence 以 25ms 帧、10ms 帧移计算每帧 RMS，RMS < threshold 的连续帧
// 合并为一个静音区间，只保留时长不少于 minDuration 的区间。
// 静音一直延续到结尾时，最后一个区间的 End 为整段时长。
// 不足一帧的输入按一个残帧处理。
func DetectSilence(samples []float32, sampleRate int, threshold, minDuration float64) []Interval {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	frameLen, hop := frameParams(sampleRate)
	frameLen = min(frameLen, len(samples))
	numFrames := 1 + (len(samples)-frameLen)/hop
	rate := float64(sampleRate)
	total := Duration(len(samples), sampleRate)

	const eps = 1e-9
	var regions []Interval
	start := -1

	for i := 0; i < numFrames; i++ {
		off := i * hop
		silent := RMS(samples[off:off+frameLen]) < threshold
		switch {
		case silent && start < 0:
			start = i
		case !silent && start >= 0:
			iv := Interval{Start: float64(start*hop) / rate, End: float64(i*hop) / rate}
			if iv.Duration()+eps >= minDuration {
				regions = append(regions, iv)
			}
			start = -1
		}
	}

	if start >= 0 {
		iv := Interval{Start: float64(start*hop) / rate, End: total}
		if iv.Duration()+eps >= minDuration {
			regions = append(regions, iv)
		}
	}
	return regions
}

// TrimSilence 去掉开头（从 0 开始）和结尾（在最后一帧内结束）的静音，
// 中间的静音保持不变。没有检测到静音时返回原切片。
// 不足一帧且整体 RMS 低于 threshold 的输入视为全静音，返回空切片。
func TrimSilence(samples []float32, sampleRate int, threshold, minDuration float64) []float32 {
	if frameLen, _ := frameParams(sampleRate); sampleRate > 0 && len(samples) < frameLen {
		if RMS(samples) < threshold {
			return samples[:0]
		}
		return samples
	}
	regions := DetectSilence(samples, sampleRate, threshold, minDuration)
	if len(regions) == 0 {
		return samples
	}

	total := Duration(len(samples), sampleRate)
	startT, endT := 0.0, total

	if first := regions[0]; first.Start == 0 {
		startT = first.End
	}
	if last := regions[len(regions)-1]; last.End >= total-silenceFrameSec {
		endT = last.Start
	}

	startIdx := int(math.Round(startT * float64(sampleRate)))
	endIdx := int(math.Round(endT * float64(sampleRate)))
	endIdx = min(endIdx, len(samples))
	if endIdx <= startIdx {
		return samples[:0]
	}
	return samples[startIdx:endIdx]
}

// SilencePosition 指定 AddSilence 插入静音的位置。
type SilencePosition string

const (
	SilenceStart SilencePosition = "start"
	SilenceEnd   SilencePosition = "end"
	SilenceBoth  SilencePosition = "both"
)

// AddSilence 在开头、结尾或两端补 seconds 秒静音，返回新切片。
func AddSilence(samples []float32, sampleRate int, seconds float64, pos SilencePosition) ([]float32, error) {
	if seconds < 0 {
		return nil, &InputError{Param: "seconds", Value: seconds, Msg: "不能为负数"}
	}
	pad := int(seconds * float64(sampleRate))

	var lead, tail int
	switch pos {
	case SilenceStart:
		lead = pad
	case SilenceEnd:
		tail = pad
	case SilenceBoth:
		lead, tail = pad, pad
	default:
		return nil, fmt.Errorf("audio: 静音位置只能是 start、end 或 both: %q", pos)
	}

	out := make([]float32, lead+len(samples)+tail)
	copy(out[lead:], samples)
	return out, nil
}

// NormalizeLevel 把 RMS 调整到 targetDB（dBFS），
// 若增益后峰值超过 1.0 则整体回缩以避免削波。返回新切片。
func NormalizeLevel(samples []float32, targetDB float64) []float32 {
	rms := RMS(samples)
	if rms == 0 {
		return samples
	}
	target := math.Pow(10, targetDB/20)

	out := Copy(samples)
	Scale(out, target/rms)
	if peak := Peak(out); peak > 1.0 {
		Scale(out, 1.0/peak)
	}
	return out
}
