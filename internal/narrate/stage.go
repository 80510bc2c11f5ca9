package narrate

import (
	"sync"

	"github.com/iabetor/narrator/internal/logger"
)

// Stage 表示一次合成任务所处的阶段。
type Stage int

const (
	// StagePending 已创建，尚未开始。
	StagePending Stage = iota
	// StageSegmenting 正在解析与分段。
	StageSegmenting
	// StageSynthesizing 正在逐段合成。
	StageSynthesizing
	// StageStitching 正在拼接。
	StageStitching
	// StageWriting 正在写出音频文件。
	StageWriting
	// StageDone 已完成。
	StageDone
	// StageFailed 已失败。
	StageFailed
)

var stageNames = [...]string{
	"Pending",
	"Segmenting",
	"Synthesizing",
	"Stitching",
	"Writing",
	"Done",
	"Failed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "Unknown"
}

// Tracker 管理线程安全的阶段转换。
type Tracker struct {
	mu       sync.RWMutex
	job      string
	current  Stage
	onChange func(job string, from, to Stage)
}

// NewTracker 创建初始阶段为 Pending 的跟踪器。
func NewTracker(job string, onChange func(job string, from, to Stage)) *Tracker {
	return &Tracker{job: job, current: StagePending, onChange: onChange}
}

// Current 返回当前阶段。
func (t *Tracker) Current() Stage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Advance 尝试切换阶段。合法的转换为：
//
//	Pending      → Segmenting
//	Segmenting   → Synthesizing
//	Synthesizing → Stitching 或 Writing（不拼接时）
//	Stitching    → Writing
//	Writing      → Done
//
// 除 Done 外的任何阶段都可以转换到 Failed。
func (t *Tracker) Advance(to Stage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validAdvance(t.current, to) {
		logger.Debugf("[narrate] 任务 %s 非法阶段转换 %s → %s", t.job, t.current, to)
		return false
	}

	from := t.current
	t.current = to
	logger.Debugf("[narrate] 任务 %s: %s → %s", t.job, from, to)

	if t.onChange != nil {
		t.onChange(t.job, from, to)
	}
	return true
}

func validAdvance(from, to Stage) bool {
	if to == StageFailed {
		return from != StageDone && from != StageFailed
	}
	switch from {
	case StagePending:
		return to == StageSegmenting
	case StageSegmenting:
		return to == StageSynthesizing
	case StageSynthesizing:
		return to == StageStitching || to == StageWriting
	case StageStitching:
		return to == StageWriting
	case StageWriting:
		return to == StageDone
	}
	return false
}
