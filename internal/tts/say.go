package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/logger"
)

// SayEngine 使用 macOS 内置 say 命令实现离线语音合成。仅在 macOS 上可用。
type SayEngine struct {
	voice string // macOS 语音名称，如 "Samantha"
}

// NewSayEngine 创建 macOS say TTS 引擎。voice 为空时使用系统默认语音。
func NewSayEngine(voice string) *SayEngine {
	return &SayEngine{voice: voice}
}

func (s *SayEngine) Name() string { return "say" }

// Synthesize 先用 say 输出 AIFF，再用 afconvert 转为 16-bit WAV 读回。
// say 的音色名与其他引擎不通用，因此忽略 req.Voice。
func (s *SayEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	logger.Debugf("[tts] say: 分段 %d，%d 个字符", req.Index, len([]rune(req.Text)))

	tmpFile, err := os.CreateTemp("", "narrator-say-*.aiff")
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] say: 创建临时文件失败: %w", err)
	}
	aiffPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(aiffPath)

	wavPath := aiffPath + ".wav"
	defer os.Remove(wavPath)

	args := []string{"-o", aiffPath}
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	args = append(args, req.Text)

	cmd := exec.CommandContext(ctx, "say", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("[tts] say 执行失败: %w, stderr: %s", err, stderr.String())
	}

	convertCmd := exec.CommandContext(ctx, "afconvert",
		"-f", "WAVE",
		"-d", "LEI16@22050",
		"-c", "1",
		aiffPath, wavPath,
	)
	var convertStderr bytes.Buffer
	convertCmd.Stderr = &convertStderr
	if err := convertCmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("[tts] afconvert 执行失败: %w, stderr: %s", err, convertStderr.String())
	}

	samples, rate, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] say: %w", err)
	}
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("[tts] say: 未收到音频数据")
	}

	logger.Debugf("[tts] say: 分段 %d 生成 %d 个样本", req.Index, len(samples))
	return samples, rate, nil
}
