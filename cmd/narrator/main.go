package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/iabetor/narrator/internal/api"
	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/database"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/iabetor/narrator/internal/narrate"
	"github.com/iabetor/narrator/internal/segment"
	"github.com/iabetor/narrator/internal/voice"
)

const defaultConfigPath = "configs/narrator.yaml"

// floatFlag 记录浮点参数是否被显式设置。
type floatFlag struct {
	val *float64
}

func (f *floatFlag) String() string {
	if f.val == nil {
		return ""
	}
	return fmt.Sprint(*f.val)
}

func (f *floatFlag) Set(s string) error {
	var v float64
	if _, err := fmt.Sscan(s, &v); err != nil {
		return err
	}
	f.val = &v
	return nil
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "配置文件路径")
	text := flag.String("text", "", "要合成的文本")
	in := flag.String("in", "", "输入文件（.txt 或 .json）")
	out := flag.String("out", "", "输出 WAV 路径，默认在输出目录下自动生成")
	voiceID := flag.String("voice", "", "音色 ID，默认使用默认音色")
	noStitch := flag.Bool("no-stitch", false, "不拼接，每段单独输出")
	play := flag.Bool("play", false, "合成完成后试听")
	listVoices := flag.Bool("list-voices", false, "列出可用音色")
	estimate := flag.Bool("estimate", false, "只估算处理量，不合成")
	status := flag.Bool("status", false, "显示任务统计与最近任务")
	serve := flag.Bool("serve", false, "启动 HTTP 服务")
	intro := flag.String("intro", "", "片头音频（.wav 或 .mp3），覆盖配置")
	outro := flag.String("outro", "", "片尾音频（.wav 或 .mp3），覆盖配置")
	exportVoice := flag.String("export-voice", "", "把指定音色导出为 YAML（路径取 -out，默认 <id>.yaml）")
	importVoice := flag.String("import-voice", "", "从 YAML 导入音色，ID 取 -voice，为空时用文件中的 ID")
	var speed, pitch, pad floatFlag
	flag.Var(&speed, "speed", "语速倍率，覆盖音色默认值")
	flag.Var(&pitch, "pitch", "音高倍率，覆盖音色默认值")
	flag.Var(&pad, "pad", "拼接结果首尾各补多少秒静音，覆盖配置")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cfg.Log.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，取消进行中的合成
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在停止...", sig)
		cancel()
	}()

	if err := run(ctx, cfg, options{
		text:        *text,
		in:          *in,
		out:         *out,
		voiceID:     *voiceID,
		speed:       speed.val,
		pitch:       pitch.val,
		pad:         pad.val,
		intro:       *intro,
		outro:       *outro,
		noStitch:    *noStitch,
		play:        *play,
		listVoices:  *listVoices,
		exportVoice: *exportVoice,
		importVoice: *importVoice,
		estimate:    *estimate,
		status:      *status,
		serve:       *serve,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("[main] 已取消")
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}

// loadConfig 读取配置文件；默认路径不存在时使用内置默认值。
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

type options struct {
	text, in, out     string
	voiceID           string
	speed, pitch, pad *float64
	intro, outro      string
	noStitch          bool
	play              bool
	listVoices        bool
	exportVoice       string
	importVoice       string
	estimate          bool
	status            bool
	serve             bool
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	seg := segment.NewSegmenter(segment.Options{
		ChunkSize:    cfg.Segment.ChunkSize,
		MaxChunkSize: cfg.Segment.MaxChunkSize,
		OverlapSize:  cfg.Segment.Overlap(),
	}, logger.Named("segment"))

	if opts.estimate {
		return printEstimate(seg, opts)
	}

	db, err := database.Open(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	catalog, err := voice.NewCatalog(ctx, db, logger.Named("voice"))
	if err != nil {
		return fmt.Errorf("初始化音色目录失败: %w", err)
	}
	if len(cfg.Voices) > 0 {
		n, err := catalog.ImportConfig(ctx, cfg.Voices)
		if err != nil {
			return fmt.Errorf("导入配置中的音色失败: %w", err)
		}
		logger.Debugf("[main] 已从配置导入 %d 个音色", n)
	}

	if opts.listVoices {
		return printVoices(ctx, catalog)
	}
	if opts.exportVoice != "" {
		path := opts.out
		if path == "" {
			path = opts.exportVoice + ".yaml"
		}
		if err := catalog.Export(ctx, opts.exportVoice, path); err != nil {
			return err
		}
		fmt.Printf("音色 %s 已导出到 %s\n", opts.exportVoice, path)
		return nil
	}
	if opts.importVoice != "" {
		id, err := catalog.Import(ctx, opts.importVoice, opts.voiceID)
		if err != nil {
			return err
		}
		fmt.Printf("已导入音色 %s\n", id)
		return nil
	}

	jobs := narrate.NewJobStore(db)
	if opts.status {
		return printStatus(ctx, jobs)
	}

	if !opts.serve && opts.text == "" && opts.in == "" {
		flag.Usage()
		return fmt.Errorf("需要 -text、-in 或 -serve")
	}

	engine, err := narrate.NewEngine(cfg.TTS)
	if err != nil {
		return fmt.Errorf("创建合成引擎失败: %w", err)
	}
	effects, resampler, err := narrate.NewDSP(cfg.Audio, logger.Named("audio"))
	if err != nil {
		return fmt.Errorf("初始化音频处理失败: %w", err)
	}
	cache, err := audio.NewSegmentCache(cfg.Storage.CacheDir, cfg.Storage.CacheMaxMB, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("初始化分段缓存失败: %w", err)
	}

	proc, err := narrate.NewProcessor(cfg, narrate.Deps{
		Segmenter: seg,
		Engine:    engine,
		Catalog:   catalog,
		Effects:   effects,
		Resampler: resampler,
		Cache:     cache,
		Jobs:      jobs,
		Log:       logger.Named("narrate"),
		OnStage: func(job string, _, to narrate.Stage) {
			logger.Infof("[main] 任务 %s: %s", job, to)
		},
	})
	if err != nil {
		return err
	}

	if opts.serve {
		h := api.NewHandler(api.Options{
			Processor: proc,
			Segmenter: seg,
			Catalog:   catalog,
			Jobs:      jobs,
			Storage:   cfg.Storage,
			Log:       logger.Named("api"),
		})
		return api.Serve(ctx, api.NewApp(cfg.Server, h), cfg.Server.Listen, logger.Named("api"))
	}

	req := narrate.Request{
		VoiceID: opts.voiceID,
		Speed:   opts.speed,
		Pitch:   opts.pitch,
		Output:  opts.out,
		Pad:     opts.pad,
		Intro:   opts.intro,
		Outro:   opts.outro,
	}
	if opts.noStitch {
		stitch := false
		req.Stitch = &stitch
	}

	var res *narrate.Result
	if opts.in != "" {
		res, err = proc.ProcessFile(ctx, opts.in, req)
	} else {
		res, err = proc.ProcessText(ctx, opts.text, req)
	}
	if err != nil {
		return err
	}

	fmt.Printf("任务 %s 完成: %d 段, 时长 %.2fs\n", res.JobID, res.Segments, res.Duration)
	for _, p := range res.OutputPaths {
		fmt.Printf("  %s\n", p)
	}

	if opts.play {
		return playOutputs(ctx, res.OutputPaths)
	}
	return nil
}

func printEstimate(seg *segment.Segmenter, opts options) error {
	var doc *segment.Document
	var err error
	switch {
	case opts.in != "":
		doc, err = seg.ParseFile(opts.in)
		if err != nil {
			return err
		}
	case opts.text != "":
		doc = seg.ParseText(opts.text, "text_input")
	default:
		return fmt.Errorf("需要 -text 或 -in")
	}

	est := narrate.EstimateText(doc.Text, seg.Options().ChunkSize)
	plan := seg.Plan(doc)
	fmt.Printf("字符数:     %d\n", est.Characters)
	fmt.Printf("词数:       %d\n", plan.Analysis.Words)
	fmt.Printf("句子数:     %d\n", plan.Analysis.Sentences)
	fmt.Printf("阅读时长:   %.1f 分钟\n", plan.Analysis.ReadingMinutes)
	fmt.Printf("实际分段:   %d (需要拼接: %v)\n", plan.Segments, plan.RequiresStitch)
	fmt.Printf("预计耗时:   %.0fs\n", est.EstimatedSeconds)
	fmt.Printf("预计大小:   %.2f MB\n", est.FileSizeMB)
	return nil
}

func printVoices(ctx context.Context, catalog *voice.Catalog) error {
	voices, err := catalog.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t名称\t模型\t语言\t性别\t语速\t音高\t")
	for _, v := range voices {
		id := v.ID
		if v.IsDefault {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t\n", id, v.Name, v.Model, v.Language, v.Gender, v.Speed, v.Pitch)
	}
	return w.Flush()
}

func printStatus(ctx context.Context, jobs *narrate.JobStore) error {
	st, err := jobs.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("运行中: %d  已完成: %d  失败: %d\n", st.Active, st.Completed, st.Failed)

	recent, err := jobs.Recent(ctx, 10)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\t文件\t音色\t分段\t状态\t时长\t开始时间\t")
	for _, j := range recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1fs\t%s\t\n",
			j.ID[:8], j.Filename, j.VoiceID, j.Segments, j.Status, j.Duration, j.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func playOutputs(ctx context.Context, paths []string) error {
	player, err := audio.NewPlayer(logger.Named("audio"))
	if err != nil {
		return fmt.Errorf("初始化音频播放失败: %w", err)
	}
	defer player.Close()

	for _, p := range paths {
		samples, rate, err := audio.ReadWAV(p)
		if err != nil {
			return err
		}
		if err := player.Play(ctx, samples, rate); err != nil {
			return err
		}
	}
	return nil
}
