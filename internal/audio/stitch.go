package audio

import (
	"math"

	"go.uber.org/zap"
)

// HeadroomPeak 是拼接后峰值归一化的目标幅度。
const HeadroomPeak = 0.95

// Stitcher 将多个片段按顺序混合成一条单声道波形。
// 无内部可变状态，可在多个 goroutine 中并发使用。
type Stitcher struct {
	sampleRate int
	log        *zap.SugaredLogger
}

// NewStitcher 创建目标采样率为 sampleRate 的拼接器，log 为 nil 时不输出日志。
func NewStitcher(sampleRate int, log *zap.SugaredLogger) *Stitcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Stitcher{sampleRate: sampleRate, log: log}
}

// SampleRate 返回拼接器的目标采样率。
func (s *Stitcher) SampleRate() int {
	return s.sampleRate
}

// Stitch 按顺序拼接 clips，相邻片段之间做 crossfade 秒的线性交叉淡化，
// 最后把峰值归一化到 HeadroomPeak。
//
// 所有片段必须已经是目标采样率；重采样由调用方在此之前完成。
func (s *Stitcher) Stitch(clips []*Clip, crossfade float64) (*StitchResult, error) {
	if len(clips) == 0 {
		return nil, &StitchError{Index: -1, Msg: "没有可拼接的片段"}
	}
	if crossfade < 0 {
		return nil, &StitchError{Index: -1, Msg: "交叉淡化时长不能为负数"}
	}
	for i, c := range clips {
		if c == nil {
			return nil, &StitchError{Index: i, Msg: "片段为空"}
		}
		if c.SampleRate != s.sampleRate {
			return nil, &StitchError{Index: i, Msg: "采样率不一致，需先重采样"}
		}
	}

	rate := float64(s.sampleRate)

	total := 0.0
	for _, c := range clips {
		total += c.Duration()
	}
	total -= float64(len(clips)-1) * crossfade
	if total < 0 {
		total = 0
	}
	// 四舍五入而非截断，保证单片段时长度不因浮点误差少一个样本
	out := make([]float32, int(math.Round(total*rate)))

	crossfadeSamples := int(crossfade * rate)
	cursor := 0
	truncated := 0

	for i, c := range clips {
		seg := c.Samples
		applyGain(seg, c.Volume)
		applyFadeIn(seg, int(c.FadeIn*rate))
		applyFadeOut(seg, int(c.FadeOut*rate))

		if i > 0 && crossfadeSamples > 0 {
			w := cursor - max(0, cursor-crossfadeSamples)
			w = min(w, len(seg))
			if w > 0 {
				mixCrossfade(out[cursor-w:cursor], seg[:w])
				seg = seg[w:]
			}
		}

		n := copy(out[cursor:], seg)
		if n < len(seg) {
			truncated += len(seg) - n
		}
		cursor += n
	}

	if truncated > 0 {
		s.log.Debugf("[stitch] 取整溢出，丢弃 %d 个样本", truncated)
	}

	if peak := Peak(out); peak > 0 {
		Scale(out, HeadroomPeak/peak)
	}

	s.log.Debugf("[stitch] 拼接完成: %d 个片段, %d 个样本 (%.2fs)", len(clips), len(out), Duration(len(out), s.sampleRate))

	return &StitchResult{Samples: out, SampleRate: s.sampleRate, Truncated: truncated}, nil
}

// applyGain 原地应用音量。
func applyGain(seg []float32, volume float64) {
	if volume == 1 {
		return
	}
	Scale(seg, volume)
}

func applyFadeIn(seg []float32, n int) {
	n = min(n, len(seg))
	for i, g := range ramp(n, 0, 1) {
		seg[i] = float32(float64(seg[i]) * g)
	}
}

func applyFadeOut(seg []float32, n int) {
	n = min(n, len(seg))
	start := len(seg) - n
	for i, g := range ramp(n, 1, 0) {
		seg[start+i] = float32(float64(seg[start+i]) * g)
	}
}

// mixCrossfade 用 existing×(1→0) + incoming×(0→1) 覆盖 existing。
func mixCrossfade(existing, incoming []float32) {
	w := len(existing)
	down := ramp(w, 1, 0)
	up := ramp(w, 0, 1)
	for i := 0; i < w; i++ {
		existing[i] = float32(float64(existing[i])*down[i] + float64(incoming[i])*up[i])
	}
}
