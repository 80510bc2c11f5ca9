package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadClip 按扩展名读取 .wav 或 .mp3 文件并构造 Clip。
func LoadClip(ctx context.Context, path string) (*Clip, error) {
	var (
		samples []float32
		rate    int
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, rate, err = ReadWAV(path)
	case ".mp3":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			samples, rate, err = DecodeMP3(ctx, data)
		}
	default:
		return nil, fmt.Errorf("不支持的音频格式: %s", path)
	}
	if err != nil {
		return nil, err
	}
	return NewClip(samples, rate), nil
}
