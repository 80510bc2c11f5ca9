// Package api 以 HTTP 接口暴露合成、音色管理与任务状态。
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"github.com/iabetor/narrator/internal/audio"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/narrate"
	"github.com/iabetor/narrator/internal/segment"
	"github.com/iabetor/narrator/internal/tts"
	"github.com/iabetor/narrator/internal/voice"
)

// SupportedFormats 是可上传的输入文件扩展名。
var SupportedFormats = []string{".txt", ".md", ".json", ".text"}

// outputMaxAge 是 /cleanup 保留输出文件的时长。
const outputMaxAge = time.Hour

// Handler 汇总 HTTP 路由所需的依赖。
type Handler struct {
	proc      *narrate.Processor
	seg       *segment.Segmenter
	catalog   *voice.Catalog
	jobs      *narrate.JobStore
	outputDir string
	tempDir   string
	log       *zap.SugaredLogger
	now       func() time.Time
}

// Options 是 NewHandler 的参数。Jobs 可为 nil。
type Options struct {
	Processor *narrate.Processor
	Segmenter *segment.Segmenter
	Catalog   *voice.Catalog
	Jobs      *narrate.JobStore
	Storage   config.StorageConfig
	Log       *zap.SugaredLogger
}

// NewHandler 创建路由处理器。
func NewHandler(o Options) *Handler {
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	return &Handler{
		proc:      o.Processor,
		seg:       o.Segmenter,
		catalog:   o.Catalog,
		jobs:      o.Jobs,
		outputDir: o.Storage.OutputDir,
		tempDir:   o.Storage.TempDir,
		log:       o.Log,
		now:       time.Now,
	}
}

// NewApp 创建注册好全部路由的 fiber 应用。
func NewApp(cfg config.ServerConfig, h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "narrator",
		BodyLimit:             max(1, cfg.BodyLimitMB) * 1024 * 1024,
		ErrorHandler:          h.handleError,
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	h.Register(app)
	return app
}

// Register 注册路由。
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.health)

	app.Get("/voices", h.listVoices)
	app.Get("/voices/:id", h.getVoice)
	app.Post("/voices", h.addVoice)
	app.Delete("/voices/:id", h.removeVoice)
	app.Post("/voices/:id/set-default", h.setDefault)

	app.Post("/tts/text", h.ttsText)
	app.Post("/tts/file", h.ttsFile)
	app.Post("/tts/estimate", h.estimate)
	app.Post("/analyze/file", h.analyzeFile)

	app.Get("/audio/:filename", h.getAudio)
	app.Get("/status", h.status)
	app.Delete("/cleanup", h.cleanup)
}

// Serve 监听 addr，直到 ctx 取消后优雅关闭。
func Serve(ctx context.Context, app *fiber.App, addr string, log *zap.SugaredLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("[api] 监听 %s", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("[api] 正在关闭...")
		return app.ShutdownWithContext(shutdownCtx)
	}
}

// handleError 把领域错误映射为 HTTP 状态码，统一返回 {"error": "..."}。
func (h *Handler) handleError(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		h.log.Errorf("[api] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func statusOf(err error) int {
	var fe *fiber.Error
	var inErr *segment.InputError
	var segErr *segment.SegmentationError
	var audioErr *audio.InputError
	var synthErr *tts.SynthesisError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &inErr), errors.As(err, &segErr), errors.As(err, &audioErr):
		return fiber.StatusBadRequest
	case errors.Is(err, voice.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, voice.ErrBuiltin):
		return fiber.StatusConflict
	case errors.As(err, &synthErr):
		return fiber.StatusBadGateway
	case errors.Is(err, audio.ErrNoDSP):
		return fiber.StatusNotImplemented
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": h.now().Unix()})
}

// voiceInfo 是音色的对外表示。
type voiceInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Description string  `json:"description"`
	Language    string  `json:"language"`
	Gender      string  `json:"gender"`
	Speed       float64 `json:"speed"`
	Pitch       float64 `json:"pitch"`
	Builtin     bool    `json:"builtin"`
	IsDefault   bool    `json:"is_default"`
}

func toVoiceInfo(v *voice.Voice) voiceInfo {
	return voiceInfo{
		ID:          v.ID,
		Name:        v.Name,
		Model:       v.Model,
		Description: v.Description,
		Language:    v.Language,
		Gender:      v.Gender,
		Speed:       v.Speed,
		Pitch:       v.Pitch,
		Builtin:     v.Builtin,
		IsDefault:   v.IsDefault,
	}
}

func (h *Handler) listVoices(c *fiber.Ctx) error {
	voices, err := h.catalog.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]voiceInfo, len(voices))
	for i := range voices {
		out[i] = toVoiceInfo(&voices[i])
	}
	return c.JSON(out)
}

func (h *Handler) getVoice(c *fiber.Ctx) error {
	v, err := h.catalog.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toVoiceInfo(v))
}

// voiceRequest 是 POST /voices 的请求体。
type voiceRequest struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Model            string  `json:"model"`
	Vocoder          string  `json:"vocoder"`
	SpeakerEmbedding string  `json:"speaker_embedding"`
	Description      string  `json:"description"`
	Language         string  `json:"language"`
	Gender           string  `json:"gender"`
	Speed            float64 `json:"speed"`
	Pitch            float64 `json:"pitch"`
}

func (r voiceRequest) voice() voice.Voice {
	v := voice.Voice{
		ID:               r.ID,
		Name:             r.Name,
		Model:            r.Model,
		Vocoder:          r.Vocoder,
		SpeakerEmbedding: r.SpeakerEmbedding,
		Description:      r.Description,
		Language:         r.Language,
		Gender:           r.Gender,
		Speed:            r.Speed,
		Pitch:            r.Pitch,
	}
	if v.Speed == 0 {
		v.Speed = 1.0
	}
	if v.Pitch == 0 {
		v.Pitch = 1.0
	}
	return v
}

func (h *Handler) addVoice(c *fiber.Ctx) error {
	var req voiceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	v := req.voice()
	if err := v.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.catalog.Add(c.UserContext(), v); err != nil {
		return err
	}
	stored, err := h.catalog.Get(c.UserContext(), v.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toVoiceInfo(stored))
}

func (h *Handler) removeVoice(c *fiber.Ctx) error {
	if err := h.catalog.Remove(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) setDefault(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.catalog.SetDefault(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "default": id})
}

// ttsRequest 是 /tts/text 与 /tts/estimate 的请求体。
type ttsRequest struct {
	Text     string   `json:"text"`
	VoiceID  string   `json:"voice_id"`
	Speed    *float64 `json:"speed"`
	Pitch    *float64 `json:"pitch"`
	Stitch   *bool    `json:"stitch_audio"`
	Pad      *float64 `json:"pad_seconds"`
	Filename string   `json:"filename"`
}

// ttsResponse 是合成接口的响应体。
type ttsResponse struct {
	Success   bool     `json:"success"`
	JobID     string   `json:"job_id"`
	AudioURLs []string `json:"audio_urls"`
	Filenames []string `json:"filenames"`
	Duration  float64  `json:"duration"`
	Segments  int      `json:"segments"`
	Truncated int      `json:"truncated_samples"`
}

func (h *Handler) request(voiceID string, speed, pitch *float64, stitch *bool, filename string) narrate.Request {
	if filename == "" {
		filename = "api_request"
	}
	return narrate.Request{
		VoiceID: voiceID,
		Speed:   speed,
		Pitch:   pitch,
		Stitch:  stitch,
		Output:  narrate.OutputPath(h.outputDir, filename, h.now()),
	}
}

func (h *Handler) respond(c *fiber.Ctx, res *narrate.Result) error {
	out := ttsResponse{
		Success:   true,
		JobID:     res.JobID,
		Duration:  res.Duration,
		Segments:  res.Segments,
		Truncated: res.Truncated,
	}
	for _, p := range res.OutputPaths {
		name := filepath.Base(p)
		out.Filenames = append(out.Filenames, name)
		out.AudioURLs = append(out.AudioURLs, "/audio/"+name)
	}
	return c.JSON(out)
}

func (h *Handler) ttsText(c *fiber.Ctx) error {
	var req ttsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	r := h.request(req.VoiceID, req.Speed, req.Pitch, req.Stitch, req.Filename)
	r.Pad = req.Pad
	res, err := h.proc.ProcessText(c.UserContext(), req.Text, r)
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

// saveUpload 把上传文件以原始文件名写入临时目录下的独立子目录。
// 返回的 cleanup 删除该子目录。
func (h *Handler) saveUpload(c *fiber.Ctx) (string, func(), error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	name := filepath.Base(fh.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", nil, fiber.NewError(fiber.StatusBadRequest, "no filename provided")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(SupportedFormats, ext) {
		return "", nil, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q, supported: %s", ext, strings.Join(SupportedFormats, ", ")))
	}

	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(h.tempDir, "upload-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }
	path := filepath.Join(dir, name)
	if err := c.SaveFile(fh, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func parseOptionalFloat(c *fiber.Ctx, key string) (*float64, error) {
	s := c.FormValue(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s: %q", key, s))
	}
	return &v, nil
}

func (h *Handler) ttsFile(c *fiber.Ctx) error {
	speed, err := parseOptionalFloat(c, "speed")
	if err != nil {
		return err
	}
	pitch, err := parseOptionalFloat(c, "pitch")
	if err != nil {
		return err
	}
	pad, err := parseOptionalFloat(c, "pad_seconds")
	if err != nil {
		return err
	}
	var stitch *bool
	if s := c.FormValue("stitch_audio"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid stitch_audio: %q", s))
		}
		stitch = &b
	}

	path, cleanup, err := h.saveUpload(c)
	if err != nil {
		return err
	}
	defer cleanup()

	r := h.request(c.FormValue("voice_id"), speed, pitch, stitch, filepath.Base(path))
	r.Pad = pad
	res, err := h.proc.ProcessFile(c.UserContext(), path, r)
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *Handler) estimate(c *fiber.Ctx) error {
	var req ttsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	est := h.proc.Estimate(req.Text)
	return c.JSON(fiber.Map{
		"character_count":                   est.Characters,
		"estimated_segments":                est.Segments,
		"estimated_processing_time_seconds": est.EstimatedSeconds,
		"estimated_file_size_mb":            est.FileSizeMB,
	})
}

func (h *Handler) analyzeFile(c *fiber.Ctx) error {
	path, cleanup, err := h.saveUpload(c)
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := h.seg.ParseFile(path)
	if err != nil {
		return err
	}
	return c.JSON(h.seg.Plan(doc))
}

func (h *Handler) getAudio(c *fiber.Ctx) error {
	name := filepath.Base(c.Params("filename"))
	if !strings.HasSuffix(strings.ToLower(name), ".wav") {
		return fiber.NewError(fiber.StatusNotFound, "audio file not found")
	}
	path := filepath.Join(h.outputDir, name)
	if _, err := os.Stat(path); err != nil {
		return fiber.NewError(fiber.StatusNotFound, "audio file not found")
	}
	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.SendFile(path)
}

func (h *Handler) status(c *fiber.Ctx) error {
	ctx := c.UserContext()
	st, err := h.proc.Status(ctx)
	if err != nil {
		return err
	}
	voices, err := h.catalog.List(ctx)
	if err != nil {
		return err
	}
	body := fiber.Map{
		"status": "running",
		"voices": len(voices),
		"processing": fiber.Map{
			"active_jobs":    st.Active,
			"completed_jobs": st.Completed,
			"failed_jobs":    st.Failed,
		},
	}
	if h.jobs != nil {
		recent, err := h.jobs.Recent(ctx, 10)
		if err != nil {
			return err
		}
		body["recent_jobs"] = recent
	}
	return c.JSON(body)
}

// cleanup 清空临时目录，并删除超过一小时的输出文件。
func (h *Handler) cleanup(c *fiber.Ctx) error {
	removed := 0
	if entries, err := os.ReadDir(h.tempDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if os.Remove(filepath.Join(h.tempDir, e.Name())) == nil {
				removed++
			}
		}
	}

	cutoff := h.now().Add(-outputMaxAge)
	matches, _ := filepath.Glob(filepath.Join(h.outputDir, "*.wav"))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(path) == nil {
			removed++
		}
	}

	h.log.Infof("[api] 清理完成，删除 %d 个文件", removed)
	return c.JSON(fiber.Map{"success": true, "removed": removed})
}
