package narrate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/iabetor/narrator/internal/tts"
)

// NewEngine 根据配置创建合成引擎。
// 配置了 fallback 时返回按顺序回退的引擎链，主引擎排在最前。
func NewEngine(cfg config.TTSConfig) (tts.Engine, error) {
	primary, err := newSingleEngine(cfg.Engine, cfg)
	if err != nil {
		return nil, err
	}

	chain := []tts.Engine{primary}
	for _, name := range cfg.Fallback {
		if name == "" || name == cfg.Engine {
			continue
		}
		e, err := newSingleEngine(name, cfg)
		if err != nil {
			// 备用引擎初始化失败不阻止启动
			logger.Warnf("[narrate] 备用引擎 %s 初始化失败，已跳过: %v", name, err)
			continue
		}
		logger.Infof("[narrate] 已启用 TTS 回退引擎: %s", name)
		chain = append(chain, e)
	}

	if len(chain) == 1 {
		return primary, nil
	}
	return tts.NewFallback(chain...)
}

func newSingleEngine(name string, cfg config.TTSConfig) (tts.Engine, error) {
	switch name {
	case "tencent":
		e, err := tts.NewTencentEngine(tts.TencentConfig{
			SecretID:  cfg.Tencent.SecretID,
			SecretKey: cfg.Tencent.SecretKey,
			VoiceType: cfg.Tencent.VoiceType,
			Region:    cfg.Tencent.Region,
			Speed:     cfg.Tencent.Speed,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化腾讯云 TTS 失败: %w", err)
		}
		return e, nil
	case "edge":
		return tts.NewEdgeEngine(cfg.Edge.Voice), nil
	case "piper":
		if cfg.Piper.ModelPath == "" {
			return nil, fmt.Errorf("piper 引擎需要配置 tts.piper.model_path")
		}
		return tts.NewPiperEngine(cfg.Piper.ModelPath), nil
	case "say":
		return tts.NewSayEngine(cfg.Say.Voice), nil
	case "exec":
		e, err := tts.NewExecEngine(cfg.Exec.Command, cfg.Exec.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("初始化外部合成进程失败: %w", err)
		}
		return e, nil
	case "mock":
		return tts.NewMockEngine(cfg.Mock.SampleRate), nil
	default:
		return nil, fmt.Errorf("未知的 TTS 引擎: %s", name)
	}
}

// NewDSP 根据配置创建变速变调处理与重采样器。
// 配置了 sox_command 时全部交给 sox；否则只提供线性重采样，
// 需要变速或变调的分段会以 audio.ErrNoDSP 失败。
func NewDSP(cfg config.AudioConfig, log *zap.SugaredLogger) (*audio.Effects, audio.Resampler, error) {
	if cfg.SoxCommand == "" {
		return &audio.Effects{}, audio.LinearResampler{}, nil
	}
	sox, err := audio.NewSoxProcessor(cfg.SoxCommand, log)
	if err != nil {
		return nil, nil, err
	}
	return &audio.Effects{Stretcher: sox, Shifter: sox}, sox, nil
}
