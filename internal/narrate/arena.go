package narrate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/narrator/internal/audio"
)

// arena 按分段序号暂存合成结果。不同 goroutine 只写各自的序号。
type arena interface {
	put(i int, samples []float32) error
	get(i int) ([]float32, error)
}

// memArena 在内存中保存全部分段。
type memArena struct {
	slots [][]float32
}

func (a *memArena) put(i int, samples []float32) error {
	a.slots[i] = samples
	return nil
}

func (a *memArena) get(i int) ([]float32, error) {
	return a.slots[i], nil
}

// fileArena 把每段写成 32-bit float LE 原始文件，适合很长的文档。
// 读回的样本与写入时逐位相同。
type fileArena struct {
	dir string
}

func (a *fileArena) path(i int) string {
	return filepath.Join(a.dir, fmt.Sprintf("segment_%05d.f32", i))
}

func (a *fileArena) put(i int, samples []float32) error {
	if err := os.WriteFile(a.path(i), audio.Float32ToRaw(samples), 0644); err != nil {
		return fmt.Errorf("[narrate] 写入分段 %d 暂存文件失败: %w", i, err)
	}
	return nil
}

func (a *fileArena) get(i int) ([]float32, error) {
	data, err := os.ReadFile(a.path(i))
	if err != nil {
		return nil, fmt.Errorf("[narrate] 读取分段 %d 暂存文件失败: %w", i, err)
	}
	return audio.RawToFloat32(data), nil
}

// newArena 按配置创建暂存区。返回的 cleanup 在任何退出路径上都必须调用。
func (p *Processor) newArena(n int) (arena, func(), error) {
	if p.cfg.Processing.Scratch != "file" {
		return &memArena{slots: make([][]float32, n)}, func() {}, nil
	}

	if err := os.MkdirAll(p.cfg.Storage.TempDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("[narrate] 创建临时目录失败: %w", err)
	}
	dir, err := os.MkdirTemp(p.cfg.Storage.TempDir, "job-*")
	if err != nil {
		return nil, nil, fmt.Errorf("[narrate] 创建任务暂存目录失败: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warnf("[narrate] 清理暂存目录 %s 失败: %v", dir, err)
		}
	}
	return &fileArena{dir: dir}, cleanup, nil
}
