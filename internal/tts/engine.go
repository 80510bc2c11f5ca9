package tts

import (
	"context"
	"fmt"
)

// Request 是一次分段合成请求。
type Request struct {
	Text  string
	Index int
	// Voice 为引擎原生的音色标识，空表示使用引擎默认音色。
	Voice string
	// Speed/Pitch 为最终生效的倍率，供引擎记录或透传；
	// 变速变调由调用方在合成后统一处理，引擎不应自行应用。
	Speed float64
	Pitch float64
}

// Engine 定义语音合成后端接口。
type Engine interface {
	// Name 返回引擎名称，用于日志和错误信息。
	Name() string
	// Synthesize 将文本转换为音频。
	// 返回单声道 float32 音频样本、采样率（Hz）和错误。
	Synthesize(ctx context.Context, req Request) ([]float32, int, error)
}

// SynthesisError 表示某一分段合成失败，原样携带后端错误。
type SynthesisError struct {
	Index  int
	Engine string
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("tts: 分段 %d 合成失败 (%s): %v", e.Index, e.Engine, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
