package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iabetor/narrator/internal/logger"
)

// Fallback 按顺序尝试多个引擎，前一个失败时切换到下一个。
// 上下文取消时立即返回，不再尝试后续引擎。
type Fallback struct {
	engines []Engine
}

// NewFallback 创建回退链，至少需要一个引擎。
func NewFallback(engines ...Engine) (*Fallback, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("[tts] 回退链至少需要一个引擎")
	}
	return &Fallback{engines: engines}, nil
}

// Name 返回形如 "edge>piper" 的链路名称。
func (f *Fallback) Name() string {
	names := make([]string, len(f.engines))
	for i, e := range f.engines {
		names[i] = e.Name()
	}
	return strings.Join(names, ">")
}

// Synthesize 依次尝试各引擎，全部失败时返回合并后的错误。
func (f *Fallback) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	var errs []error
	for i, e := range f.engines {
		samples, rate, err := e.Synthesize(ctx, req)
		if err == nil {
			if i > 0 {
				logger.Infof("[tts] 分段 %d 由备用引擎 %s 合成", req.Index, e.Name())
			}
			return samples, rate, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i < len(f.engines)-1 {
			logger.Warnf("[tts] 引擎 %s 合成分段 %d 失败，切换到 %s: %v", e.Name(), req.Index, f.engines[i+1].Name(), err)
		}
	}
	return nil, 0, errors.Join(errs...)
}
