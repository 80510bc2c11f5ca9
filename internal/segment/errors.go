package segment

import "fmt"

// InputError 表示输入文本本身不可用，例如为空或超过长度上限。
type InputError struct {
	Chars int
	Limit int
	Msg   string
}

func (e *InputError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("segment: %s (%d/%d 字符)", e.Msg, e.Chars, e.Limit)
	}
	return "segment: " + e.Msg
}

// SegmentationError 表示结构化输入格式错误。
type SegmentationError struct {
	// Index 为出错的分段描述序号，-1 表示与具体分段无关。
	Index int
	Msg   string
	Err   error
}

func (e *SegmentationError) Error() string {
	msg := e.Msg
	if e.Index >= 0 {
		msg = fmt.Sprintf("分段 %d: %s", e.Index, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("segment: %s: %v", msg, e.Err)
	}
	return "segment: " + msg
}

func (e *SegmentationError) Unwrap() error {
	return e.Err
}

// Validate 检查文本非空且不超过 limit 个字符，limit <= 0 表示不限。
func Validate(text string, limit int) error {
	n := len([]rune(text))
	if CleanText(text) == "" {
		return &InputError{Chars: n, Msg: "文本为空"}
	}
	if limit > 0 && n > limit {
		return &InputError{Chars: n, Limit: limit, Msg: "文本过长"}
	}
	return nil
}
