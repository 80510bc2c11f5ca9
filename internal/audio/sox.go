package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

// SoxProcessor 通过 sox 子进程实现变速、变调和重采样。
// 数据以 32-bit float LE 原始单声道 PCM 经 stdin/stdout 传递，不落盘。
type SoxProcessor struct {
	cmd []string
	log *zap.SugaredLogger
}

// NewSoxProcessor 解析 sox 命令行，例如 "sox" 或 "/usr/local/bin/sox -V1"。
func NewSoxProcessor(command string, log *zap.SugaredLogger) (*SoxProcessor, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("[audio] 解析 sox 命令失败: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("[audio] sox 命令为空")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SoxProcessor{cmd: args, log: log}, nil
}

// Stretch 使用 sox tempo 效果改变时长并保持音高。
func (p *SoxProcessor) Stretch(ctx context.Context, samples []float32, sampleRate int, factor float64) ([]float32, error) {
	return p.run(ctx, samples, sampleRate, sampleRate, "tempo", "-s", formatFloat(factor))
}

// Shift 使用 sox pitch 效果移调，参数单位为音分。
func (p *SoxProcessor) Shift(ctx context.Context, samples []float32, sampleRate int, semitones float64) ([]float32, error) {
	return p.run(ctx, samples, sampleRate, sampleRate, "pitch", formatFloat(semitones*100))
}

// Resample 使用 sox rate 效果做高质量重采样。
func (p *SoxProcessor) Resample(ctx context.Context, samples []float32, from, to int) ([]float32, error) {
	if from == to {
		return Copy(samples), nil
	}
	return p.run(ctx, samples, from, to, "rate", "-h", strconv.Itoa(to))
}

func (p *SoxProcessor) run(ctx context.Context, samples []float32, inRate, outRate int, effect ...string) ([]float32, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	args := append([]string{}, p.cmd[1:]...)
	args = append(args, "-q")
	args = append(args, rawFormat(inRate)...)
	args = append(args, "-")
	args = append(args, rawFormat(outRate)...)
	args = append(args, "-")
	args = append(args, effect...)

	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	cmd.Stdin = bytes.NewReader(Float32ToRaw(samples))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if s := stderr.String(); s != "" {
			p.log.Warnf("[audio] sox stderr: %s", s)
		}
		return nil, fmt.Errorf("[audio] sox %v 执行失败: %w", effect, err)
	}

	out := RawToFloat32(stdout.Bytes())
	p.log.Debugf("[audio] sox %v: %d -> %d 个样本", effect, len(samples), len(out))
	return out, nil
}

func rawFormat(rate int) []string {
	return []string{"-t", "raw", "-r", strconv.Itoa(rate), "-e", "floating-point", "-b", "32", "-c", "1", "-L"}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
