package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 把 MP3 数据解码为单声道 float32 样本。
// go-mp3 总是输出 16-bit LE 立体声 PCM，这里取左右平均。
func DecodeMP3(ctx context.Context, data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("MP3 数据为空")
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("MP3 解码失败: %w", err)
	}
	sampleRate := decoder.SampleRate()

	var pcm bytes.Buffer
	buf := make([]byte, 16384)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		n, err := decoder.Read(buf)
		pcm.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("读取 PCM 数据失败: %w", err)
		}
	}

	return StereoBytesToMono(pcm.Bytes()), sampleRate, nil
}
