// Package narrate 把文本切分、逐段合成、后处理并拼接成一条音频。
package narrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/segment"
	"github.com/iabetor/narrator/internal/tts"
	"github.com/iabetor/narrator/internal/voice"
)

// Deps 是 Processor 的外部依赖，由 main 组装后传入。
// Catalog、Cache、Jobs 可为 nil。
type Deps struct {
	Segmenter *segment.Segmenter
	Engine    tts.Engine
	Catalog   *voice.Catalog
	Effects   *audio.Effects
	Resampler audio.Resampler
	Cache     *audio.SegmentCache
	Jobs      *JobStore
	Log       *zap.SugaredLogger
	// OnStage 在任务阶段变化时回调。
	OnStage func(job string, from, to Stage)
}

// Request 是一次合成的调用参数，零值字段表示沿用音色默认值。
type Request struct {
	VoiceID string
	Speed   *float64
	Pitch   *float64
	// Output 为输出路径，为空时在输出目录下自动生成。
	Output string
	// Stitch 覆盖配置中的 stitch_audio。
	Stitch *bool
	// Pad 覆盖配置中的 pad_seconds。
	Pad *float64
	// Intro、Outro 覆盖配置中的片头片尾文件。
	Intro string
	Outro string
}

// Result 是一次合成的结果。
type Result struct {
	JobID string
	// OutputPaths 拼接时只有一个文件，否则每段一个。
	OutputPaths []string
	Duration    float64
	SampleRate  int
	Segments    int
	Truncated   int
}

// Processor 协调分段合成与拼接。可被多个 goroutine 同时调用。
type Processor struct {
	cfg       *config.Config
	seg       *segment.Segmenter
	engine    tts.Engine
	catalog   *voice.Catalog
	effects   *audio.Effects
	resampler audio.Resampler
	cache     *audio.SegmentCache
	jobs      *JobStore
	stitcher  *audio.Stitcher
	log       *zap.SugaredLogger
	onStage   func(job string, from, to Stage)

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	now       func() time.Time
}

// NewProcessor 创建协调器。
func NewProcessor(cfg *config.Config, d Deps) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[narrate] 配置为空")
	}
	if d.Engine == nil {
		return nil, fmt.Errorf("[narrate] 未配置合成引擎")
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	if d.Segmenter == nil {
		d.Segmenter = segment.NewSegmenter(segment.Options{
			ChunkSize:    cfg.Segment.ChunkSize,
			MaxChunkSize: cfg.Segment.MaxChunkSize,
			OverlapSize:  cfg.Segment.Overlap(),
		}, d.Log)
	}
	if d.Effects == nil {
		d.Effects = &audio.Effects{}
	}
	if d.Resampler == nil {
		d.Resampler = audio.LinearResampler{}
	}

	return &Processor{
		cfg:       cfg,
		seg:       d.Segmenter,
		engine:    d.Engine,
		catalog:   d.Catalog,
		effects:   d.Effects,
		resampler: d.Resampler,
		cache:     d.Cache,
		jobs:      d.Jobs,
		stitcher:  audio.NewStitcher(cfg.Audio.SampleRate, d.Log),
		log:       d.Log,
		onStage:   d.OnStage,
		now:       time.Now,
	}, nil
}

// Estimate 估算合成 text 的处理量。
func (p *Processor) Estimate(text string) Estimate {
	return EstimateText(text, p.seg.Options().ChunkSize)
}

// Status 返回任务统计。Active 为本进程中正在运行的任务数；
// 配置了任务存储时 Completed/Failed 取历史总数。
func (p *Processor) Status(ctx context.Context) (Stats, error) {
	st := Stats{
		Active:    int(p.active.Load()),
		Completed: int(p.completed.Load()),
		Failed:    int(p.failed.Load()),
	}
	if p.jobs == nil {
		return st, nil
	}
	hist, err := p.jobs.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Completed = hist.Completed
	st.Failed = hist.Failed
	return st, nil
}

// ProcessText 合成一段纯文本。
func (p *Processor) ProcessText(ctx context.Context, text string, req Request) (*Result, error) {
	if err := ValidateInput(text, p.cfg.Processing.MaxInput); err != nil {
		return nil, err
	}
	return p.ProcessDocument(ctx, p.seg.ParseText(text, "text_input"), req)
}

// ProcessFile 读取文本或 JSON 文件并合成。
func (p *Processor) ProcessFile(ctx context.Context, path string, req Request) (*Result, error) {
	doc, err := p.seg.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateInput(doc.Text, p.cfg.Processing.MaxInput); err != nil {
		return nil, err
	}
	return p.ProcessDocument(ctx, doc, req)
}

// task 是一个待合成分段的最终参数。
type task struct {
	req     tts.Request
	voiceID string
}

// ProcessDocument 合成已切分好的文档。
// 分段在有界并发下合成，结果按序号存放，拼接严格按序号进行；
// 任一分段失败时取消其余分段并返回该错误。
func (p *Processor) ProcessDocument(ctx context.Context, doc *segment.Document, req Request) (res *Result, err error) {
	if doc == nil || len(doc.Segments) == 0 {
		return nil, &segment.InputError{Msg: "文档没有可合成的分段"}
	}

	base, err := p.resolveVoice(ctx, req.VoiceID)
	if err != nil {
		return nil, err
	}

	jobID, err := p.startJob(ctx, doc, base.ID)
	if err != nil {
		return nil, err
	}
	tracker := NewTracker(jobID, p.onStage)
	tracker.Advance(StageSegmenting)

	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.finishJob(ctx, jobID, tracker, res, err)
	}()

	tasks, err := p.plan(ctx, doc, base, req)
	if err != nil {
		return nil, err
	}

	stitch := p.cfg.Processing.Stitch()
	if req.Stitch != nil {
		stitch = *req.Stitch
	}
	output := req.Output
	if output == "" {
		output = OutputPath(p.cfg.Storage.OutputDir, doc.Filename, p.now())
	}

	var frame framing
	if stitch {
		if frame, err = p.resolveFraming(ctx, req); err != nil {
			return nil, err
		}
	}

	p.log.Infof("[narrate] 任务 %s 开始: %d 段, 音色 %s, 引擎 %s", jobID, len(tasks), base.ID, p.engine.Name())

	tracker.Advance(StageSynthesizing)
	store, cleanup, err := p.newArena(len(tasks))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := p.synthesizeAll(ctx, tasks, store); err != nil {
		return nil, err
	}

	res = &Result{JobID: jobID, SampleRate: p.cfg.Audio.SampleRate, Segments: len(tasks)}
	if stitch {
		tracker.Advance(StageStitching)
		err = p.stitchTo(output, store, len(tasks), frame, res, tracker)
	} else {
		tracker.Advance(StageWriting)
		err = p.writeSegments(output, store, len(tasks), res)
	}
	if err != nil {
		return nil, err
	}

	p.log.Infof("[narrate] 任务 %s 完成: %.2fs, 输出 %s", jobID, res.Duration, strings.Join(res.OutputPaths, ", "))
	return res, nil
}

// resolveVoice 取音色配置，未配置音色目录时使用中性默认值。
func (p *Processor) resolveVoice(ctx context.Context, id string) (*voice.Voice, error) {
	if p.catalog == nil {
		if id == "" {
			id = voice.DefaultID
		}
		return &voice.Voice{ID: id, Speed: 1.0, Pitch: 1.0}, nil
	}
	v, err := p.catalog.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("[narrate] 获取音色失败: %w", err)
	}
	return v, nil
}

// plan 为每个分段确定音色与速度、音高。
// 优先级：分段覆盖 > 请求覆盖 > 音色默认值。
func (p *Processor) plan(ctx context.Context, doc *segment.Document, base *voice.Voice, req Request) ([]task, error) {
	voices := map[string]*voice.Voice{base.ID: base}
	tasks := make([]task, len(doc.Segments))

	for i, seg := range doc.Segments {
		v := base
		if seg.VoiceID != nil && *seg.VoiceID != "" && *seg.VoiceID != base.ID {
			cached, ok := voices[*seg.VoiceID]
			if !ok {
				var err error
				if cached, err = p.resolveVoice(ctx, *seg.VoiceID); err != nil {
					return nil, &segment.SegmentationError{Index: i, Msg: "分段音色不可用", Err: err}
				}
				voices[*seg.VoiceID] = cached
			}
			v = cached
		}

		speed := pick(seg.Speed, req.Speed, v.Speed)
		pitch := pick(seg.Pitch, req.Pitch, v.Pitch)
		if speed <= 0 || pitch <= 0 {
			return nil, &audio.InputError{Param: "speed/pitch", Value: min(speed, pitch), Msg: fmt.Sprintf("分段 %d 的倍率必须为正数", i)}
		}

		tasks[i] = task{
			req: tts.Request{
				Text:  seg.Text,
				Index: i,
				Voice: v.Model,
				Speed: speed,
				Pitch: pitch,
			},
			voiceID: v.ID,
		}
	}
	return tasks, nil
}

func pick(segVal, reqVal *float64, def float64) float64 {
	switch {
	case segVal != nil:
		return *segVal
	case reqVal != nil:
		return *reqVal
	case def > 0:
		return def
	}
	return 1.0
}

// synthesizeAll 在 Workers 个并发内合成全部分段。
func (p *Processor) synthesizeAll(ctx context.Context, tasks []task, store arena) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Processing.Workers))

	for _, t := range tasks {
		g.Go(func() error {
			samples, err := p.render(gctx, t)
			if err != nil {
				return err
			}
			return store.put(t.req.Index, samples)
		})
	}
	return g.Wait()
}

// render 合成单个分段，并完成重采样、变速变调和可选的静音裁剪。
func (p *Processor) render(ctx context.Context, t task) ([]float32, error) {
	rate := p.cfg.Audio.SampleRate
	key := audio.CacheKey(p.engine.Name(), t.req.Voice, t.req.Speed, t.req.Pitch, t.req.Text)
	if samples, cachedRate, ok := p.cache.Lookup(key); ok && cachedRate == rate {
		p.log.Debugf("[narrate] 分段 %d 命中缓存", t.req.Index)
		return samples, nil
	}

	if secs := p.cfg.Processing.SegmentTimeout; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	start := time.Now()
	raw, srcRate, err := p.engine.Synthesize(ctx, t.req)
	if err == nil && len(raw) == 0 {
		err = errors.New("引擎返回空音频")
	}
	if err != nil {
		return nil, &tts.SynthesisError{Index: t.req.Index, Engine: p.engine.Name(), Err: err}
	}
	p.log.Debugf("[narrate] 分段 %d 合成完成 (%d 字符, %.2fs 音频, 耗时 %v)",
		t.req.Index, len([]rune(t.req.Text)), audio.Duration(len(raw), srcRate), time.Since(start))

	if srcRate != rate {
		if raw, err = p.resampler.Resample(ctx, raw, srcRate, rate); err != nil {
			return nil, fmt.Errorf("[narrate] 分段 %d 重采样失败: %w", t.req.Index, err)
		}
	}

	out, err := p.effects.Apply(ctx, raw, rate, t.req.Speed, t.req.Pitch, 1.0)
	if err != nil {
		return nil, fmt.Errorf("[narrate] 分段 %d 后处理失败: %w", t.req.Index, err)
	}

	if p.cfg.Audio.TrimSilence {
		out = audio.TrimSilence(out, rate, p.cfg.Audio.SilenceThreshold, p.cfg.Audio.SilenceMinDuration)
		if len(out) == 0 {
			p.log.Warnf("[narrate] 分段 %d 裁剪后为空", t.req.Index)
		}
	}

	if p.cache.Enabled() {
		entry := audio.CacheEntry{Engine: p.engine.Name(), Voice: t.req.Voice, Chars: len([]rune(t.req.Text))}
		if err := p.cache.Store(key, entry, out, rate); err != nil {
			p.log.Warnf("[narrate] 分段 %d 写入缓存失败: %v", t.req.Index, err)
		}
	}
	return out, nil
}

// stitchTo 按序号拼接全部分段并写出单个文件。
// framing 是拼接结果外围的片头、片尾与首尾静音。
type framing struct {
	intro, outro *audio.Clip
	pad          float64
}

// resolveFraming 解析请求与配置中的片头片尾和补白，片头片尾重采样到输出采样率。
func (p *Processor) resolveFraming(ctx context.Context, req Request) (framing, error) {
	f := framing{pad: p.cfg.Audio.PadSeconds}
	if req.Pad != nil {
		f.pad = *req.Pad
	}
	if f.pad < 0 {
		return f, &audio.InputError{Param: "pad", Value: f.pad, Msg: "不能为负数"}
	}

	intro, outro := p.cfg.Audio.IntroFile, p.cfg.Audio.OutroFile
	if req.Intro != "" {
		intro = req.Intro
	}
	if req.Outro != "" {
		outro = req.Outro
	}
	var err error
	if f.intro, err = p.loadFrameClip(ctx, intro); err != nil {
		return f, err
	}
	if f.outro, err = p.loadFrameClip(ctx, outro); err != nil {
		return f, err
	}
	return f, nil
}

func (p *Processor) loadFrameClip(ctx context.Context, path string) (*audio.Clip, error) {
	if path == "" {
		return nil, nil
	}
	clip, err := audio.LoadClip(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("[narrate] 加载 %s 失败: %w", path, err)
	}
	rate := p.cfg.Audio.SampleRate
	if clip.SampleRate != rate {
		samples, err := p.resampler.Resample(ctx, clip.Samples, clip.SampleRate, rate)
		if err != nil {
			return nil, fmt.Errorf("[narrate] %s 重采样失败: %w", path, err)
		}
		clip = audio.NewClip(samples, rate)
	}
	return clip, nil
}

// stitchTo 按序号拼接全部分段并写出单个文件。片头片尾参与交叉淡化，补白在电平处理之后添加。
func (p *Processor) stitchTo(output string, store arena, n int, frame framing, res *Result, tracker *Tracker) error {
	rate := p.cfg.Audio.SampleRate
	clips := make([]*audio.Clip, 0, n+2)
	if frame.intro != nil {
		clips = append(clips, frame.intro)
	}
	for i := 0; i < n; i++ {
		samples, err := store.get(i)
		if err != nil {
			return err
		}
		clips = append(clips, audio.NewClip(samples, rate))
	}
	if frame.outro != nil {
		clips = append(clips, frame.outro)
	}

	stitched, err := p.stitcher.Stitch(clips, p.cfg.Audio.Crossfade())
	if err != nil {
		return err
	}
	if stitched.Truncated > 0 {
		p.log.Warnf("[narrate] 拼接时截断了 %d 个样本", stitched.Truncated)
	}
	samples := stitched.Samples
	if p.cfg.Audio.TargetLevelDB != 0 {
		samples = audio.NormalizeLevel(samples, p.cfg.Audio.TargetLevelDB)
	}
	if frame.pad > 0 {
		if samples, err = audio.AddSilence(samples, rate, frame.pad, audio.SilenceBoth); err != nil {
			return err
		}
	}

	tracker.Advance(StageWriting)
	if err := writeOutput(output, samples, rate); err != nil {
		return err
	}
	res.OutputPaths = []string{output}
	res.Duration = audio.Duration(len(samples), rate)
	res.Truncated = stitched.Truncated
	return nil
}

// writeSegments 不拼接，每段写出 "<output>.segment_<i>.wav"。
func (p *Processor) writeSegments(output string, store arena, n int, res *Result) error {
	rate := p.cfg.Audio.SampleRate
	for i := range n {
		samples, err := store.get(i)
		if err != nil {
			return err
		}
		path := segmentPath(output, i)
		if err := writeOutput(path, samples, rate); err != nil {
			return err
		}
		res.OutputPaths = append(res.OutputPaths, path)
		res.Duration += audio.Duration(len(samples), rate)
	}
	return nil
}

func writeOutput(path string, samples []float32, rate int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("[narrate] 创建输出目录失败: %w", err)
		}
	}
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		return fmt.Errorf("[narrate] 写出 %s 失败: %w", path, err)
	}
	return nil
}

func (p *Processor) startJob(ctx context.Context, doc *segment.Document, voiceID string) (string, error) {
	if p.jobs == nil {
		return uuid.NewString(), nil
	}
	return p.jobs.Start(ctx, doc.Filename, voiceID, len(doc.Segments))
}

// finishJob 记录任务结果。调用方的 ctx 可能已取消，这里不随之放弃写入。
func (p *Processor) finishJob(ctx context.Context, id string, tracker *Tracker, res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		p.failed.Add(1)
		tracker.Advance(StageFailed)
		p.log.Errorf("[narrate] 任务 %s 失败: %v", id, err)
		if p.jobs != nil {
			if ferr := p.jobs.Fail(ctx, id, err); ferr != nil {
				p.log.Warnf("%v", ferr)
			}
		}
		return
	}

	p.completed.Add(1)
	tracker.Advance(StageDone)
	if p.jobs != nil {
		if ferr := p.jobs.Finish(ctx, id, strings.Join(res.OutputPaths, ";"), res.Duration); ferr != nil {
			p.log.Warnf("%v", ferr)
		}
	}
}
