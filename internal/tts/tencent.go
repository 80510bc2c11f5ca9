package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/logger"
	ttsapi "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
)

// TencentEngine 使用腾讯云 TTS 实现语音合成，支持多种中文音色。
type TencentEngine struct {
	client    *ttsapi.Client
	voiceType int64
	speed     float64
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	VoiceType int64
	Region    string
	// Speed 为腾讯云的语速档位（-2 到 6），与分段的 speed 倍率无关。
	Speed float64
}

// NewTencentEngine 创建腾讯云 TTS 引擎。
func NewTencentEngine(cfg TencentConfig) (*TencentEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS 需要 SecretID 和 SecretKey")
	}
	if cfg.VoiceType == 0 {
		cfg.VoiceType = 1001 // 默认音色：智瑜（女声）
	}
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tts.tencentcloudapi.com"

	client, err := ttsapi.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[tts] 创建腾讯云 TTS 客户端失败: %w", err)
	}

	logger.Infof("[tts] 腾讯云 TTS 引擎已初始化 (voice=%d, region=%s)", cfg.VoiceType, cfg.Region)

	return &TencentEngine{client: client, voiceType: cfg.VoiceType, speed: cfg.Speed}, nil
}

func (e *TencentEngine) Name() string { return "tencent" }

// Synthesize 将文本合成为单声道 float32 音频样本。
// req.Voice 为数字时作为音色 ID 覆盖默认值。
func (e *TencentEngine) Synthesize(ctx context.Context, req Request) ([]float32, int, error) {
	voiceType := e.voiceType
	if v, err := strconv.ParseInt(req.Voice, 10, 64); err == nil && v > 0 {
		voiceType = v
	}
	logger.Debugf("[tts] 腾讯云 TTS: 分段 %d，%d 个字符，音色=%d", req.Index, len([]rune(req.Text)), voiceType)

	request := ttsapi.NewTextToVoiceRequest()
	request.Text = common.StringPtr(req.Text)
	request.VoiceType = common.Int64Ptr(voiceType)
	request.Codec = common.StringPtr("mp3")
	request.Speed = common.Float64Ptr(e.speed)
	request.Volume = common.Float64Ptr(5.0)

	response, err := e.client.TextToVoiceWithContext(ctx, request)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] 腾讯云 TTS 合成失败: %w", err)
	}
	if response.Response == nil || response.Response.Audio == nil {
		return nil, 0, fmt.Errorf("[tts] 腾讯云 TTS: 未返回音频数据")
	}

	mp3Data, err := base64.StdEncoding.DecodeString(*response.Response.Audio)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] Base64 解码失败: %w", err)
	}
	logger.Debugf("[tts] 腾讯云 TTS: 收到 %d 字节 MP3 数据", len(mp3Data))

	samples, rate, err := audio.DecodeMP3(ctx, mp3Data)
	if err != nil {
		return nil, 0, fmt.Errorf("[tts] 腾讯云 TTS: %w", err)
	}
	return samples, rate, nil
}
