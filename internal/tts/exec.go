package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/mattn/go-shellwords"
)

// ExecEngine 通过外部进程合成语音，适合接入本地神经网络模型。
//
// 协议：stdin 写入一行 JSON 请求，进程在 stdout 按行输出
// {"pcm_base64": "...", "final": false}，PCM 为 16-bit LE 单声道，
// 直到 final 为 true 或进程退出。出错时可输出 {"error": "..."}。
type ExecEngine struct {
	cmd        []string
	sampleRate int
}

type execRequest struct {
	Text       string  `json:"text"`
	Index      int     `json:"index"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	Pitch      float64 `json:"pitch"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

// NewExecEngine 解析命令行并创建引擎，例如 "python3 synth.py --model tts.onnx"。
func NewExecEngine(command string, sampleRate int) (*ExecEngine, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("[tts] 解析 exec 命令失败: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("[tts] exec 命令为空")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("[tts] exec 引擎需要正的采样率: %d", sampleRate)
	}
	return &ExecEngine{cmd: args, sampleRate: sampleRate}, nil
}

func (e *ExecEngine) Name() string { return "exec" }

// Synthesize 启动一次子进程完成一个分段的合成。
func (e *ExecEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Index:      req.Index,
		Voice:      req.Voice,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		SampleRate: e.sampleRate,
		Channels:   1,
	})
	if err != nil {
		return nil, 0, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, err
	}
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("[tts] 启动 exec 进程失败: %w", err)
	}

	var pcm bytes.Buffer
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return nil, 0, fmt.Errorf("[tts] exec 输出不是合法 JSON: %w", err)
		}
		if resp.Error != "" {
			cmd.Process.Kill()
			cmd.Wait()
			return nil, 0, fmt.Errorf("[tts] exec 进程报告错误: %s", resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			cmd.Process.Kill()
			cmd.Wait()
			return nil, 0, fmt.Errorf("[tts] exec 音频块 base64 解码失败: %w", err)
		}
		pcm.Write(chunk)
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	// final 之后的输出丢弃，避免子进程阻塞在写管道上
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if s := stderr.String(); s != "" {
			logger.Warnf("[tts] exec stderr: %s", s)
		}
		return nil, 0, fmt.Errorf("[tts] exec 进程退出异常: %w", err)
	}
	if scanErr != nil {
		return nil, 0, fmt.Errorf("[tts] 读取 exec 输出失败: %w", scanErr)
	}
	if pcm.Len() == 0 {
		return nil, 0, fmt.Errorf("[tts] exec: 未收到音频数据")
	}

	samples := audio.BytesToFloat32(pcm.Bytes())
	logger.Debugf("[tts] exec: 分段 %d 生成 %d 个样本", req.Index, len(samples))
	return samples, e.sampleRate, nil
}
