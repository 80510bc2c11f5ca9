package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Player 使用 malgo (miniaudio) 通过默认扬声器试听拼接结果。
type Player struct {
	ctx    *malgo.AllocatedContext
	log    *zap.SugaredLogger
	mu     sync.Mutex
	closed bool
}

// NewPlayer 初始化播放上下文。
func NewPlayer(log *zap.SugaredLogger) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化播放上下文失败: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Player{ctx: ctx, log: log}, nil
}

// pcmCursor 在设备回调中按帧向外吐出 16-bit PCM。
type pcmCursor struct {
	data []byte
	pos  int
	done chan struct{}
	once sync.Once
}

func (c *pcmCursor) fill(out []byte) {
	n := copy(out, c.data[c.pos:])
	c.pos += n
	clear(out[n:])
	if c.pos >= len(c.data) {
		c.once.Do(func() { close(c.done) })
	}
}

// Play 阻塞播放单声道样本，直到播完或 ctx 被取消。
func (p *Player) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("播放器已关闭")
	}
	p.mu.Unlock()

	cur := &pcmCursor{data: Float32ToBytes(samples), done: make(chan struct{})}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = 1024
	deviceConfig.Periods = 3

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			cur.fill(output[:int(frameCount)*2])
		},
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("初始化播放设备失败: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("启动播放设备失败: %w", err)
	}
	defer device.Stop()

	p.log.Infof("[audio] 开始试听 %.1fs", Duration(len(samples), sampleRate))

	select {
	case <-ctx.Done():
		p.log.Info("[audio] 试听被取消")
		return ctx.Err()
	case <-cur.done:
		return nil
	}
}

// Close 释放播放上下文，可重复调用。
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
