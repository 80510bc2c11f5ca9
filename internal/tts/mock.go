package tts

import (
	"context"
	"math"
	"sync"
	"time"
)

// MockEngine 生成确定性的正弦波，用于测试和离线调试。
// 时长与文本长度成正比，频率随分段序号变化，便于在拼接结果中分辨各段。
type MockEngine struct {
	SampleRate     int
	SecondsPerChar float64
	// Fail 指定某些分段直接返回错误。
	Fail map[int]error
	// Delays 指定某些分段在返回前等待，用于模拟乱序完成。
	Delays map[int]time.Duration

	mu    sync.Mutex
	calls []Request
}

// NewMockEngine 创建默认每字符 10ms 的模拟引擎。
func NewMockEngine(sampleRate int) *MockEngine {
	return &MockEngine{SampleRate: sampleRate, SecondsPerChar: 0.01}
}

func (m *MockEngine) Name() string { return "mock" }

// Synthesize 返回幅度 0.5 的正弦波，频率为 220 + 20×Index Hz。
func (m *MockEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if d := m.Delays[req.Index]; d > 0 {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(d):
		}
	}
	if err := m.Fail[req.Index]; err != nil {
		return nil, 0, err
	}

	n := int(float64(len([]rune(req.Text))) * m.SecondsPerChar * float64(m.SampleRate))
	n = max(n, 1)
	freq := 220 + 20*float64(req.Index)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.SampleRate)))
	}
	return out, m.SampleRate, nil
}

// Calls 返回已收到的请求副本，顺序为调用顺序。
func (m *MockEngine) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
