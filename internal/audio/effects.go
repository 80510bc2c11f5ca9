package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// TimeStretcher 改变时长但保持音高。factor > 1 变快（变短）。
type TimeStretcher interface {
	Stretch(ctx context.Context, samples []float32, sampleRate int, factor float64) ([]float32, error)
}

// PitchShifter 改变音高但保持时长，semitones 可为负。
type PitchShifter interface {
	Shift(ctx context.Context, samples []float32, sampleRate int, semitones float64) ([]float32, error)
}

// Resampler 把样本从 from 采样率转换到 to 采样率。
type Resampler interface {
	Resample(ctx context.Context, samples []float32, from, to int) ([]float32, error)
}

// ErrNoDSP 表示需要变速或变调，但没有配置对应的处理器。
var ErrNoDSP = errors.New("audio: 未配置变速/变调处理器")

// Effects 组合外部 DSP 能力，对单段音频应用速度、音高和音量。
type Effects struct {
	Stretcher TimeStretcher
	Shifter   PitchShifter
}

// Semitones 把音高倍率换算为半音数。
func Semitones(pitch float64) float64 {
	return 12 * math.Log2(pitch)
}

// Apply 依次应用变速、变调、音量，最后硬钳位到 [-1.0, 1.0]。
// 返回新的切片，不修改输入。speed、pitch、volume 都为 1 时结果与输入逐样本相同。
func (e *Effects) Apply(ctx context.Context, samples []float32, sampleRate int, speed, pitch, volume float64) ([]float32, error) {
	if speed <= 0 {
		return nil, &InputError{Param: "speed", Value: speed, Msg: "必须为正数"}
	}
	if pitch <= 0 {
		return nil, &InputError{Param: "pitch", Value: pitch, Msg: "必须为正数"}
	}

	out := Copy(samples)
	var err error

	if speed != 1.0 {
		if e == nil || e.Stretcher == nil {
			return nil, fmt.Errorf("speed=%v: %w", speed, ErrNoDSP)
		}
		if out, err = e.Stretcher.Stretch(ctx, out, sampleRate, speed); err != nil {
			return nil, fmt.Errorf("audio: 变速失败: %w", err)
		}
	}

	if pitch != 1.0 {
		if e == nil || e.Shifter == nil {
			return nil, fmt.Errorf("pitch=%v: %w", pitch, ErrNoDSP)
		}
		if out, err = e.Shifter.Shift(ctx, out, sampleRate, Semitones(pitch)); err != nil {
			return nil, fmt.Errorf("audio: 变调失败: %w", err)
		}
	}

	if volume != 1.0 {
		Scale(out, volume)
	}

	HardClip(out)
	return out, nil
}
