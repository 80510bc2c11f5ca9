package segment

import (
	"math"
	"strings"
	"unicode/utf8"
)

// 朗读速度（词/分钟）与每段的处理耗时估算（秒）。
const (
	wordsPerMinute    = 150
	secondsPerSegment = 2
)

// Analysis 是文本的基本统计。
type Analysis struct {
	Characters           int     `json:"character_count"`
	Words                int     `json:"word_count"`
	Sentences            int     `json:"sentence_count"`
	ReadingMinutes       float64 `json:"estimated_reading_time_minutes"`
	RequiresSegmentation bool    `json:"requires_segmentation"`
}

// Plan 是处理一个文档前的预估。
type Plan struct {
	Document         string   `json:"document"`
	Segments         int      `json:"total_segments"`
	EstimatedSeconds int      `json:"estimated_processing_time"`
	RequiresStitch   bool     `json:"requires_stitching"`
	ChunkSize        int      `json:"recommended_chunk_size"`
	Analysis         Analysis `json:"analysis"`
}

// Analyze 统计字符、词、句子数并估算朗读时长。
func (s *Segmenter) Analyze(text string) Analysis {
	chars := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))

	sentences := 0
	for _, st := range splitSentences([]rune(text)) {
		if strings.Trim(st.text, ".!? ") != "" {
			sentences++
		}
	}

	return Analysis{
		Characters:           chars,
		Words:                words,
		Sentences:            sentences,
		ReadingMinutes:       math.Round(float64(words)/wordsPerMinute*10) / 10,
		RequiresSegmentation: chars > s.opts.ChunkSize,
	}
}

// Plan 给出文档的处理预估：分段数、按每段 2 秒估算的耗时、是否需要拼接。
func (s *Segmenter) Plan(doc *Document) Plan {
	var b strings.Builder
	for _, seg := range doc.Segments {
		b.WriteString(seg.Text)
	}
	n := len(doc.Segments)
	return Plan{
		Document:         doc.Filename,
		Segments:         n,
		EstimatedSeconds: n * secondsPerSegment,
		RequiresStitch:   n > 1,
		ChunkSize:        s.opts.ChunkSize,
		Analysis:         s.Analyze(b.String()),
	}
}
