package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Descriptor 是结构化输入中的一个分段描述。
type Descriptor struct {
	Text     string         `json:"text"`
	VoiceID  *string        `json:"voice_id,omitempty"`
	Speed    *float64       `json:"speed,omitempty"`
	Pitch    *float64       `json:"pitch,omitempty"`
	StartPos *int           `json:"start_pos,omitempty"`
	EndPos   *int           `json:"end_pos,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// simpleDoc 对应 {"text": "...", "voice_id": "...", "speed": 1.0, "pitch": 1.0}。
type simpleDoc struct {
	Text    string   `json:"text"`
	VoiceID string   `json:"voice_id"`
	Speed   *float64 `json:"speed"`
	Pitch   *float64 `json:"pitch"`
}

// ParseText 切分纯文本输入。
func (s *Segmenter) ParseText(text, filename string) *Document {
	segs, cleaned := s.segment(text)
	return &Document{
		Filename:   filename,
		TotalChars: utf8.RuneCountInString(text),
		Text:       cleaned,
		Segments:   segs,
		Metadata: map[string]any{
			"source": "text_input",
			"type":   "raw_text",
		},
	}
}

// ParseStructured 把分段描述按顺序直接映射为分段，不经过切句与合并。
// 描述未给出位置时，按各段文本首尾相接计算偏移。
func (s *Segmenter) ParseStructured(descs []Descriptor) ([]Segment, error) {
	segs := make([]Segment, 0, len(descs))
	offset := 0
	for i, d := range descs {
		if strings.TrimSpace(d.Text) == "" {
			return nil, &SegmentationError{Index: i, Msg: "text 为空"}
		}
		if d.Speed != nil && *d.Speed <= 0 {
			return nil, &SegmentationError{Index: i, Msg: fmt.Sprintf("speed 必须为正数: %v", *d.Speed)}
		}
		if d.Pitch != nil && *d.Pitch <= 0 {
			return nil, &SegmentationError{Index: i, Msg: fmt.Sprintf("pitch 必须为正数: %v", *d.Pitch)}
		}

		n := utf8.RuneCountInString(d.Text)
		start, end := offset, offset+n
		if d.StartPos != nil && d.EndPos != nil {
			if *d.StartPos < 0 || *d.EndPos < *d.StartPos {
				return nil, &SegmentationError{Index: i, Msg: fmt.Sprintf("位置非法: [%d, %d)", *d.StartPos, *d.EndPos)}
			}
			start, end = *d.StartPos, *d.EndPos
		}
		offset += n

		meta := map[string]any{MetaType: TypeStructured}
		for k, v := range d.Metadata {
			meta[k] = v
		}

		segs = append(segs, Segment{
			Text:     d.Text,
			Index:    i,
			Start:    start,
			End:      end,
			VoiceID:  d.VoiceID,
			Speed:    d.Speed,
			Pitch:    d.Pitch,
			Metadata: meta,
		})
	}
	return segs, nil
}

// ParseJSON 解析 JSON 输入，支持三种形式：
//
//	{"text": "...", "voice_id": "...", "speed": 1.0, "pitch": 1.0}
//	{"segments": [{"text": "...", "voice_id": "..."}, ...]}
//	["第一段", "第二段", ...]
func (s *Segmenter) ParseJSON(data []byte, filename string) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &SegmentationError{Index: -1, Msg: "JSON 无效", Err: err}
	}

	meta := map[string]any{
		"source": "json_file",
		"type":   "structured",
	}

	switch v := raw.(type) {
	case map[string]any:
		if _, ok := v["segments"]; ok {
			var doc struct {
				Segments []Descriptor `json:"segments"`
			}
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, &SegmentationError{Index: -1, Msg: "segments 格式错误", Err: err}
			}
			segs, err := s.ParseStructured(doc.Segments)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			for _, seg := range segs {
				b.WriteString(seg.Text)
			}
			text := b.String()
			return &Document{
				Filename:   filename,
				TotalChars: utf8.RuneCountInString(text),
				Text:       text,
				Segments:   segs,
				Metadata:   meta,
			}, nil
		}
		if _, ok := v["text"]; ok {
			var doc simpleDoc
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, &SegmentationError{Index: -1, Msg: "text 格式错误", Err: err}
			}
			d := s.ParseText(doc.Text, filename)
			d.Metadata = meta
			applyOverrides(d.Segments, doc)
			return d, nil
		}
		return nil, &SegmentationError{Index: -1, Msg: "JSON 对象需包含 text 或 segments 字段"}

	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			if str, ok := item.(string); ok {
				parts[i] = str
			} else {
				parts[i] = fmt.Sprint(item)
			}
		}
		d := s.ParseText(strings.Join(parts, " "), filename)
		d.Metadata = meta
		return d, nil

	case string:
		d := s.ParseText(v, filename)
		d.Metadata = meta
		return d, nil

	default:
		return nil, &SegmentationError{Index: -1, Msg: fmt.Sprintf("不支持的 JSON 类型: %T", raw)}
	}
}

// applyOverrides 把文档级覆盖写入每个分段，零值视为未设置。
func applyOverrides(segs []Segment, doc simpleDoc) {
	for i := range segs {
		if doc.VoiceID != "" {
			id := doc.VoiceID
			segs[i].VoiceID = &id
		}
		if doc.Speed != nil && *doc.Speed != 0 {
			v := *doc.Speed
			segs[i].Speed = &v
		}
		if doc.Pitch != nil && *doc.Pitch != 0 {
			v := *doc.Pitch
			segs[i].Pitch = &v
		}
	}
}

// ParseFile 读取文件并切分。.json 文件按结构化输入解析，JSON 无效时退回按文本处理；
// 其他文件按文本读取，依次尝试 UTF-8、带 BOM 的 UTF-8、latin-1 / cp1252。
func (s *Segmenter) ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取输入文件失败: %w", err)
	}
	name := filepath.Base(path)

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if json.Valid(data) {
			doc, err := s.ParseJSON(data, name)
			if err != nil {
				return nil, err
			}
			doc.Metadata["file_size"] = len(data)
			return doc, nil
		}
		s.log.Warnf("[segment] %s 不是有效的 JSON，按纯文本处理", name)
	}

	text, enc, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("无法解码文件 %s: %w", name, err)
	}
	doc := s.ParseText(text, name)
	doc.Metadata = map[string]any{
		"source":    "text_file",
		"type":      "plain_text",
		"file_size": len(data),
		"encoding":  enc,
	}
	return doc, nil
}

// decodeText 猜测编码并解码为 UTF-8。含 0x80-0x9F 字节时按 cp1252，
// 这一区间在 latin-1 中只是 C1 控制字符。
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
			out, err := decodeWith(unicode.UTF8BOM, data)
			return out, "utf-8-sig", err
		}
		return string(data), "utf-8", nil
	}

	for _, b := range data {
		if b >= 0x80 && b <= 0x9F {
			out, err := decodeWith(charmap.Windows1252, data)
			return out, "cp1252", err
		}
	}
	out, err := decodeWith(charmap.ISO8859_1, data)
	return out, "latin-1", err
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
