package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是 narrator 的顶层配置结构。
type Config struct {
	Segment    SegmentConfig          `yaml:"segment"`
	Audio      AudioConfig            `yaml:"audio"`
	Processing ProcessingConfig       `yaml:"processing"`
	TTS        TTSConfig              `yaml:"tts"`
	Voices     map[string]VoiceConfig `yaml:"voices"`
	Storage    StorageConfig          `yaml:"storage"`
	Log        LogConfig              `yaml:"log"`
	Server     ServerConfig           `yaml:"server"`
}

// SegmentConfig 文本分段配置，长度单位均为字符（rune）。
type SegmentConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	MaxChunkSize int `yaml:"max_chunk_size"`
	// OverlapSize 为 nil 时取默认值 50，显式写 0 表示不重叠。
	OverlapSize *int `yaml:"overlap_size"`
}

// Overlap 返回相邻分段的重叠字符数。
func (s SegmentConfig) Overlap() int {
	if s.OverlapSize == nil {
		return 0
	}
	return *s.OverlapSize
}

// AudioConfig 输出音频与拼接配置。
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	// CrossfadeDuration 为 nil 时取默认值 0.5 秒，显式写 0 表示直接拼接。
	CrossfadeDuration  *float64 `yaml:"crossfade_duration"`
	SilenceThreshold   float64  `yaml:"silence_threshold"`
	SilenceMinDuration float64  `yaml:"silence_min_duration"`
	TrimSilence        bool     `yaml:"trim_silence"`
	// TargetLevelDB 非零时，拼接后再做一次 RMS 电平归一化。
	TargetLevelDB float64 `yaml:"target_level_db"`
	// PadSeconds 为拼接结果首尾各补的静音时长。
	PadSeconds float64 `yaml:"pad_seconds"`
	// IntroFile、OutroFile 为拼接时放在首尾的音频文件，只在拼接模式下生效。
	IntroFile string `yaml:"intro_file"`
	OutroFile string `yaml:"outro_file"`
	// SoxCommand 是变速/变调/重采样使用的 sox 命令行，为空则禁用。
	SoxCommand string `yaml:"sox_command"`
}

// Crossfade 返回交叉淡化时长（秒）。
func (a AudioConfig) Crossfade() float64 {
	if a.CrossfadeDuration == nil {
		return 0
	}
	return *a.CrossfadeDuration
}

// ProcessingConfig 协调器配置。
type ProcessingConfig struct {
	Workers int `yaml:"workers"`
	// Scratch 决定每段音频的暂存方式：memory 或 file。
	Scratch     string `yaml:"scratch"`
	StitchAudio *bool  `yaml:"stitch_audio"`
	MaxInput    int    `yaml:"max_input_chars"`
	// SegmentTimeout 单段合成超时（秒）。
	SegmentTimeout int `yaml:"segment_timeout"`
}

// Stitch 返回是否拼接，未配置时默认为 true。
func (p ProcessingConfig) Stitch() bool {
	return p.StitchAudio == nil || *p.StitchAudio
}

// TTSConfig 语音合成后端配置。
type TTSConfig struct {
	// Engine 为主引擎，Fallback 为主引擎失败时依次尝试的引擎。
	Engine   string        `yaml:"engine"`
	Fallback []string      `yaml:"fallback"`
	Edge     EdgeConfig    `yaml:"edge"`
	Piper    PiperConfig   `yaml:"piper"`
	Tencent  TencentConfig `yaml:"tencent"`
	Say      SayConfig     `yaml:"say"`
	Exec     ExecConfig    `yaml:"exec"`
	Mock     MockConfig    `yaml:"mock"`
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string  `yaml:"secret_id"`
	SecretKey string  `yaml:"secret_key"`
	VoiceType int64   `yaml:"voice_type"`
	Region    string  `yaml:"region"`
	Speed     float64 `yaml:"speed"`
}

// EdgeConfig Edge TTS 配置。
type EdgeConfig struct {
	Voice string `yaml:"voice"`
}

// PiperConfig Piper TTS 配置。
type PiperConfig struct {
	ModelPath string `yaml:"model_path"`
}

// SayConfig macOS say 配置。
type SayConfig struct {
	Voice string `yaml:"voice"`
}

// ExecConfig 外部进程合成配置，协议为 stdin JSON / stdout JSON lines。
type ExecConfig struct {
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

// MockConfig 确定性测试后端配置。
type MockConfig struct {
	SampleRate int `yaml:"sample_rate"`
}

// VoiceConfig 描述音色目录中的一个音色。
type VoiceConfig struct {
	Name             string  `yaml:"name"`
	Model            string  `yaml:"model"`
	Vocoder          string  `yaml:"vocoder"`
	SpeakerEmbedding string  `yaml:"speaker_embedding"`
	Language         string  `yaml:"language"`
	Gender           string  `yaml:"gender"`
	Speed            float64 `yaml:"speed"`
	Pitch            float64 `yaml:"pitch"`
	Description      string  `yaml:"description"`
}

// StorageConfig 文件路径配置。
type StorageConfig struct {
	BaseDir   string `yaml:"base_dir"`
	OutputDir string `yaml:"output_dir"`
	TempDir   string `yaml:"temp_dir"`
	Database  string `yaml:"database"`
	// CacheDir 为空或 CacheMaxMB 为 0 时禁用分段音频缓存。
	CacheDir   string `yaml:"cache_dir"`
	CacheMaxMB int64  `yaml:"cache_max_mb"`
}

// ServerConfig HTTP 接口配置。
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// BodyLimitMB 限制上传文件与请求体大小。
	BodyLimitMB int `yaml:"body_limit_mb"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开；配置文件同目录下的 .env 会先被载入，
// 已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容，填充默认值并校验。
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	return nil
}

// Default 返回只含默认值的配置，供无配置文件时使用。
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Validate 检查数值型配置的取值范围。
func (c *Config) Validate() error {
	if c.Segment.ChunkSize <= 0 {
		return fmt.Errorf("segment.chunk_size 必须为正数: %d", c.Segment.ChunkSize)
	}
	if c.Segment.MaxChunkSize < c.Segment.ChunkSize {
		return fmt.Errorf("segment.max_chunk_size (%d) 不能小于 chunk_size (%d)",
			c.Segment.MaxChunkSize, c.Segment.ChunkSize)
	}
	if c.Segment.Overlap() < 0 {
		return fmt.Errorf("segment.overlap_size 不能为负数: %d", c.Segment.Overlap())
	}
	if c.Audio.Crossfade() < 0 {
		return fmt.Errorf("audio.crossfade_duration 不能为负数: %v", c.Audio.Crossfade())
	}
	if c.Audio.PadSeconds < 0 {
		return fmt.Errorf("audio.pad_seconds 不能为负数: %v", c.Audio.PadSeconds)
	}
	switch c.Processing.Scratch {
	case "memory", "file":
	default:
		return fmt.Errorf("processing.scratch 只支持 memory 或 file: %q", c.Processing.Scratch)
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Segment.ChunkSize == 0 {
		cfg.Segment.ChunkSize = 1000
	}
	if cfg.Segment.MaxChunkSize == 0 {
		cfg.Segment.MaxChunkSize = 2000
	}
	if cfg.Segment.OverlapSize == nil {
		overlap := 50
		cfg.Segment.OverlapSize = &overlap
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 22050
	}
	if cfg.Audio.CrossfadeDuration == nil {
		crossfade := 0.5
		cfg.Audio.CrossfadeDuration = &crossfade
	}
	if cfg.Audio.SilenceThreshold == 0 {
		cfg.Audio.SilenceThreshold = 0.01
	}
	if cfg.Audio.SilenceMinDuration == 0 {
		cfg.Audio.SilenceMinDuration = 0.1
	}
	if cfg.Processing.Workers == 0 {
		cfg.Processing.Workers = 4
	}
	if cfg.Processing.Scratch == "" {
		cfg.Processing.Scratch = "memory"
	}
	if cfg.Processing.MaxInput == 0 {
		cfg.Processing.MaxInput = 100000
	}
	if cfg.Processing.SegmentTimeout == 0 {
		cfg.Processing.SegmentTimeout = 120
	}
	if cfg.TTS.Engine == "" {
		cfg.TTS.Engine = "edge"
	}
	if cfg.TTS.Edge.Voice == "" {
		cfg.TTS.Edge.Voice = "en-US-AriaNeural"
	}
	if cfg.TTS.Mock.SampleRate == 0 {
		cfg.TTS.Mock.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.TTS.Exec.SampleRate == 0 {
		cfg.TTS.Exec.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.BodyLimitMB == 0 {
		cfg.Server.BodyLimitMB = 16
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Storage.BaseDir == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.Storage.BaseDir = filepath.Join(home, ".narrator")
		} else {
			cfg.Storage.BaseDir = "./.narrator-data"
		}
	}
	cfg.Storage.BaseDir = expandHome(cfg.Storage.BaseDir)

	// 相对路径一律挂到 BaseDir 下
	cfg.Storage.OutputDir = underBase(cfg.Storage.BaseDir, cfg.Storage.OutputDir, "output")
	cfg.Storage.TempDir = underBase(cfg.Storage.BaseDir, cfg.Storage.TempDir, "temp")
	cfg.Storage.Database = underBase(cfg.Storage.BaseDir, cfg.Storage.Database, "narrator.db")
	if cfg.Storage.CacheDir != "" {
		cfg.Storage.CacheDir = underBase(cfg.Storage.BaseDir, cfg.Storage.CacheDir, "cache")
	}
	cfg.Audio.IntroFile = expandHome(cfg.Audio.IntroFile)
	cfg.Audio.OutroFile = expandHome(cfg.Audio.OutroFile)
	if cfg.Log.File != "" {
		cfg.Log.File = underBase(cfg.Storage.BaseDir, cfg.Log.File, "narrator.log")
	}

	// 去除密钥两端可能的空白（环境变量展开后常见）
	cfg.TTS.Tencent.SecretID = strings.TrimSpace(cfg.TTS.Tencent.SecretID)
	cfg.TTS.Tencent.SecretKey = strings.TrimSpace(cfg.TTS.Tencent.SecretKey)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	// Go 不会自动展开 ~，需要手动替换为用户主目录
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return filepath.Join(home, p[2:])
}

func underBase(base, p, fallback string) string {
	if p == "" {
		p = fallback
	}
	p = expandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
