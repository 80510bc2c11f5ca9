package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"
)

// EdgeEngine 使用微软 Edge TTS 实现语音合成，
// 通过 edge-tts-go 获取 MP3 音频，再用 go-mp3 解码为 PCM。
type EdgeEngine struct {
	voice string
}

// NewEdgeEngine 创建指定默认语音的 Edge TTS 引擎。
func NewEdgeEngine(voice string) *EdgeEngine {
	return &EdgeEngine{voice: voice}
}

func (e *EdgeEngine) Name() string { return "edge" }

// Synthesize 将文本合成为单声道 float32 音频样本。
// req.Voice 非空时覆盖默认语音，如 "en-US-GuyNeural"。
func (e *EdgeEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	voice := e.voice
	if req.Voice != "" {
		voice = req.Voice
	}
	logger.Debugf("[tts] edge-tts: 分段 %d，%d 个字符，语音=%s", req.Index, len([]rune(req.Text)), voice)

	comm, err := edge.NewCommunicate(req.Text, edge.WithVoice(voice))
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] edge-tts 创建实例失败: %w", err)
	}

	ch, err := comm.Stream()
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] edge-tts 开始流式合成失败: %w", err)
	}

	// Stream() 返回的 map 中，type=="audio" 的条目包含音频数据
	var mp3Buf bytes.Buffer
	for msg := range ch {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}
		if msgType, ok := msg["type"].(string); ok && msgType == "audio" {
			if data, ok := msg["data"].([]byte); ok {
				mp3Buf.Write(data)
			}
		}
	}

	if mp3Buf.Len() == 0 {
		return nil, 0, fmt.Errorf("[tts] edge-tts: 未收到音频数据")
	}
	logger.Debugf("[tts] edge-tts: 收到 %d 字节 MP3 数据", mp3Buf.Len())

	samples, rate, err := audio.DecodeMP3(ctx, mp3Buf.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] edge-tts: %w", err)
	}
	logger.Debugf("[tts] edge-tts: 分段 %d 生成 %d 个样本，采样率 %d Hz", req.Index, len(samples), rate)
	return samples, rate, nil
}
