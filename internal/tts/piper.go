package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/logger"
)

// piperSampleRate 是 piper 输出的固定采样率。
const piperSampleRate = 22050

// PiperEngine 使用 piper CLI 子进程实现离线语音合成。
type PiperEngine struct {
	modelPath string
}

// NewPiperEngine 创建指定模型的 Piper TTS 引擎。
func NewPiperEngine(modelPath string) *PiperEngine {
	return &PiperEngine{modelPath: modelPath}
}

func (p *PiperEngine) Name() string { return "piper" }

// Synthesize 使用 piper CLI 将文本转换为单声道 float32 音频样本。
// piper 输出 signed 16-bit LE 单声道 PCM，采样率 22050 Hz。
// req.Voice 为 .onnx 模型路径时覆盖默认模型。
func (p *PiperEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	model := p.modelPath
	if strings.HasSuffix(req.Voice, ".onnx") {
		model = req.Voice
	}
	logger.Debugf("[tts] piper: 分段 %d，%d 个字符，模型=%s", req.Index, len([]rune(req.Text)), model)

	cmd := exec.CommandContext(ctx, "piper", "--model", model, "--output-raw")
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if s := stderr.String(); s != "" {
			logger.Warnf("[tts] piper stderr: %s", s)
		}
		return nil, 0, fmt.Errorf("[tts] piper 执行失败: %w", err)
	}

	if stdout.Len() == 0 {
		return nil, 0, fmt.Errorf("[tts] piper: 未收到音频数据")
	}

	samples := audio.BytesToFloat32(stdout.Bytes())
	logger.Debugf("[tts] piper: 分段 %d 生成 %d 个样本", req.Index, len(samples))
	return samples, piperSampleRate, nil
}
