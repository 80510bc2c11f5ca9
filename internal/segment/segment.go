// Package segment 把任意长度的文本切分为可独立合成的分段。
//
// 切分以句子为单位贪心累积，相邻分段之间按字符数扩展重叠区，
// 所有偏移量均为清洗后文本中的 rune 下标。
package segment

import (
	"strings"

	"go.uber.org/zap"
)

// 默认切分参数。
const (
	DefaultChunkSize    = 1000
	DefaultMaxChunkSize = 2000
	DefaultOverlapSize  = 50
)

// 元数据键。
const (
	MetaType          = "type"
	MetaSentenceCount = "sentence_count"
	MetaOriginalStart = "original_start"
	MetaOriginalEnd   = "original_end"
	MetaOversized     = "oversized"

	TypeSingle     = "single_segment"
	TypeChunk      = "chunk"
	TypeStructured = "structured"
)

// Segment 是分配给一次合成调用的一段连续文本。创建后视为不可变，
// 覆盖字段只在合成前由解析器设置。
type Segment struct {
	Text  string
	Index int
	// Start/End 为含重叠区的切片范围，rune 偏移。
	Start int
	End   int

	VoiceID *string
	Speed   *float64
	Pitch   *float64

	Metadata map[string]any
}

// CoreSpan 返回去掉重叠区后的原始范围。没有记录时退回 Start/End。
func (s Segment) CoreSpan() (start, end int, ok bool) {
	start, okStart := metaInt(s.Metadata, MetaOriginalStart)
	end, okEnd := metaInt(s.Metadata, MetaOriginalEnd)
	if okStart && okEnd {
		return start, end, true
	}
	return s.Start, s.End, false
}

// Document 是一次解析的结果。
type Document struct {
	Filename string
	// TotalChars 为原始输入的字符数（清洗前）。
	TotalChars int
	// Text 为清洗后的全文，分段偏移量均相对于它。
	Text     string
	Segments []Segment
	Metadata map[string]any
}

// Reconstruct 按序号拼接各分段去除重叠后的文本。
// 对文本切分得到的文档，结果与 Text 完全一致。
func (d *Document) Reconstruct() string {
	runes := []rune(d.Text)
	var b strings.Builder
	for _, seg := range d.Segments {
		start, end, ok := seg.CoreSpan()
		if ok && start >= 0 && end <= len(runes) && start <= end {
			b.WriteString(string(runes[start:end]))
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Options 是切分参数，零值字段取默认值。
type Options struct {
	ChunkSize    int
	MaxChunkSize int
	OverlapSize  int
}

// Segmenter 按句子边界切分文本。无可变状态，可并发使用。
type Segmenter struct {
	opts Options
	log  *zap.SugaredLogger
}

// NewSegmenter 创建切分器，log 为 nil 时不输出日志。
func NewSegmenter(opts Options, log *zap.SugaredLogger) *Segmenter {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = max(DefaultMaxChunkSize, opts.ChunkSize)
	}
	if opts.OverlapSize < 0 {
		opts.OverlapSize = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Segmenter{opts: opts, log: log}
}

// Options 返回生效的切分参数。
func (s *Segmenter) Options() Options {
	return s.opts
}

type sentence struct {
	text       string
	start, end int
}

type chunk struct {
	sentences  int
	start, end int
}

// Segment 清洗文本并切分。空白输入返回 nil。
func (s *Segmenter) Segment(text string) []Segment {
	segs, _ := s.segment(text)
	return segs
}

// segment 额外返回清洗后的文本，供 Document 使用。
func (s *Segmenter) segment(text string) ([]Segment, string) {
	if strings.TrimSpace(text) == "" {
		return nil, ""
	}
	cleaned := CleanText(text)
	runes := []rune(cleaned)
	if len(runes) == 0 {
		return nil, ""
	}

	if len(runes) <= s.opts.ChunkSize {
		return []Segment{{
			Text:     cleaned,
			Index:    0,
			Start:    0,
			End:      len(runes),
			Metadata: map[string]any{MetaType: TypeSingle},
		}}, cleaned
	}

	chunks := s.group(splitSentences(runes))
	segs := make([]Segment, 0, len(chunks))
	last := len(chunks) - 1

	for i, c := range chunks {
		start, end := 0, len(runes)
		if i > 0 {
			start = max(0, c.start-s.opts.OverlapSize)
		}
		if i < last {
			end = min(len(runes), c.end+s.opts.OverlapSize)
		}

		meta := map[string]any{
			MetaType:          TypeChunk,
			MetaSentenceCount: c.sentences,
			MetaOriginalStart: c.start,
			MetaOriginalEnd:   c.end,
		}
		if size := c.end - c.start; size > s.opts.MaxChunkSize {
			meta[MetaOversized] = true
			s.log.Warnf("[segment] 分段 %d 长度 %d 超过上限 %d（单句过长，保持完整）", i, size, s.opts.MaxChunkSize)
		}

		segs = append(segs, Segment{
			Text:     strings.TrimSpace(string(runes[start:end])),
			Index:    i,
			Start:    start,
			End:      end,
			Metadata: meta,
		})
	}

	s.log.Debugf("[segment] 切分完成: %d 字符 -> %d 段", len(runes), len(segs))
	return segs, cleaned
}

// splitSentences 以连续的 . ! ? 为句末切句。每句从上一句末尾开始，
// 因此句间空白归属后一句，所有句子首尾相接覆盖全文。
func splitSentences(runes []rune) []sentence {
	var out []sentence
	lastEnd := 0

	add := func(end int) {
		if t := strings.TrimSpace(string(runes[lastEnd:end])); t != "" {
			out = append(out, sentence{text: t, start: lastEnd, end: end})
		}
		lastEnd = end
	}

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTerminal(runes[j]) {
			j++
		}
		add(j)
		i = j - 1
	}
	if lastEnd < len(runes) {
		add(len(runes))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// group 贪心地把句子累积成块：加入下一句会超过 ChunkSize 且当前块非空时封块。
// 单句超长时独占一块，不再拆分。
func (s *Segmenter) group(sentences []sentence) []chunk {
	var (
		chunks  []chunk
		cur     chunk
		curLen  int
		pending bool
	)
	for _, st := range sentences {
		n := len([]rune(st.text))
		if pending && curLen+n > s.opts.ChunkSize {
			chunks = append(chunks, cur)
			pending = false
			curLen = 0
		}
		if !pending {
			cur = chunk{start: st.start}
			pending = true
		}
		cur.sentences++
		cur.end = st.end
		curLen += n
	}
	if pending {
		chunks = append(chunks, cur)
	}
	return chunks
}

func metaInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
