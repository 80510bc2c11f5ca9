package audio

import "fmt"

// Clip 是待拼接的一段单声道音频。
// Samples 归 Clip 所有，拼接过程中会被原地修改。
type Clip struct {
	Samples    []float32
	SampleRate int
	FadeIn     float64 // 秒
	FadeOut    float64 // 秒
	// Volume 为音量倍率，0 表示静音。直接构造 Clip 时需显式设置，NewClip 默认为 1。
	Volume float64
	// Offset 为该片段在源素材中的起点（秒），仅作记录。
	Offset float64
}

// NewClip 创建音量为 1、无淡入淡出的片段。
func NewClip(samples []float32, sampleRate int) *Clip {
	return &Clip{Samples: samples, SampleRate: sampleRate, Volume: 1.0}
}

// Duration 返回片段时长（秒）。
func (c *Clip) Duration() float64 {
	return Duration(len(c.Samples), c.SampleRate)
}

// StitchResult 是拼接输出，所有样本都在 [-1.0, 1.0] 内。
type StitchResult struct {
	Samples    []float32
	SampleRate int
	// Truncated 是因取整溢出而被丢弃的样本数。
	Truncated int
}

// Duration 返回输出时长（秒）。
func (r *StitchResult) Duration() float64 {
	return Duration(len(r.Samples), r.SampleRate)
}

// InputError 表示调用参数非法，如非正的 speed 或 pitch。
type InputError struct {
	Param string
	Value float64
	Msg   string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("audio: 参数 %s=%v 非法: %s", e.Param, e.Value, e.Msg)
}

// StitchError 表示拼接无法进行。
type StitchError struct {
	// Index 为出问题的片段序号，-1 表示与具体片段无关。
	Index int
	Msg   string
}

func (e *StitchError) Error() string {
	if e.Index < 0 {
		return "audio: 拼接失败: " + e.Msg
	}
	return fmt.Sprintf("audio: 拼接失败 (片段 %d): %s", e.Index, e.Msg)
}
