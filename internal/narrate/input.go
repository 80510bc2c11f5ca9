package narrate

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/iabetor/narrator/internal/segment"
)

// DefaultMaxInput 是单次合成允许的最大字符数。
const DefaultMaxInput = 100000

// Estimate 是合成前的粗略估算。
type Estimate struct {
	Characters       int
	Segments         int
	EstimatedSeconds float64
	// FileSizeMB 按每字符约 1KB 估算。
	FileSizeMB float64
}

// ValidateInput 检查文本非空且不超过 limit 个字符，limit <= 0 时使用 DefaultMaxInput。
func ValidateInput(text string, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxInput
	}
	return segment.Validate(text, limit)
}

// EstimateText 按每 chunkSize 字符一段、每段 2 秒估算处理量。
func EstimateText(text string, chunkSize int) Estimate {
	if chunkSize <= 0 {
		chunkSize = segment.DefaultChunkSize
	}
	chars := len([]rune(text))
	segs := max(1, chars/chunkSize)
	return Estimate{
		Characters:       chars,
		Segments:         segs,
		EstimatedSeconds: float64(segs) * 2.0,
		FileSizeMB:       float64(chars) * 0.001,
	}
}

// OutputPath 生成 dir 下形如 "<name>_<unix秒>.wav" 的输出路径。
// name 取 filename 去掉扩展名后的字母、数字、空格、- 和 _，为空时用 "output"。
func OutputPath(dir, filename string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if filename == "" {
		base = ""
	}
	var b strings.Builder
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	name := strings.TrimRight(b.String(), " ")
	if name == "" {
		name = "output"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d.wav", name, now.Unix()))
}

// segmentPath 返回不拼接时第 i 段的输出路径。
func segmentPath(output string, i int) string {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	return fmt.Sprintf("%s.segment_%d.wav", base, i)
}
