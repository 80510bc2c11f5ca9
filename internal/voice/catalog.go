// Package voice 管理音色目录：内置音色、自定义音色与默认音色，持久化在 SQLite 中。
package voice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/database"
)

// DefaultID 是 Get 中代表当前默认音色的别名。
const DefaultID = "default"

var (
	ErrNotFound = errors.New("voice: 音色不存在")
	ErrBuiltin  = errors.New("voice: 内置音色不可删除")
)

// Voice 是一个音色配置。
// Model 为合成引擎的原生音色标识，例如 Edge 的 "en-US-GuyNeural"。
type Voice struct {
	ID               string    `yaml:"id"`
	Name             string    `yaml:"name"`
	Model            string    `yaml:"model"`
	Vocoder          string    `yaml:"vocoder,omitempty"`
	SpeakerEmbedding string    `yaml:"speaker_embedding,omitempty"`
	Language         string    `yaml:"language"`
	Gender           string    `yaml:"gender"`
	Speed            float64   `yaml:"speed"`
	Pitch            float64   `yaml:"pitch"`
	Description      string    `yaml:"description,omitempty"`
	Builtin          bool      `yaml:"-"`
	IsDefault        bool      `yaml:"-"`
	CreatedAt        time.Time `yaml:"-"`
}

// Validate 检查音色配置是否可用。
func (v *Voice) Validate() error {
	switch {
	case v.ID == "" || v.ID == DefaultID:
		return fmt.Errorf("voice: 音色 ID 非法: %q", v.ID)
	case v.Name == "":
		return fmt.Errorf("voice: 音色名称不能为空")
	case v.Model == "":
		return fmt.Errorf("voice: 音色 %s 缺少 model", v.ID)
	case v.Speed < 0.1 || v.Speed > 3.0:
		return fmt.Errorf("voice: speed 需在 0.1 到 3.0 之间: %v", v.Speed)
	case v.Pitch < 0.5 || v.Pitch > 2.0:
		return fmt.Errorf("voice: pitch 需在 0.5 到 2.0 之间: %v", v.Pitch)
	}
	return nil
}

// builtins 是首次启动时写入的内置音色。
var builtins = []Voice{
	{ID: "microsoft_speecht5", Name: "Microsoft SpeechT5", Model: "en-US-JennyNeural", Language: "en-US", Gender: "neutral", Speed: 1.0, Pitch: 1.0, Description: "High-quality neural TTS voice"},
	{ID: "coqui_tts", Name: "Coqui TTS", Model: "en-GB-SoniaNeural", Language: "en", Gender: "neutral", Speed: 1.0, Pitch: 1.0, Description: "Open-source style voice"},
	{ID: "narrator", Name: "Narrator", Model: "en-US-GuyNeural", Language: "en-US", Gender: "male", Speed: 0.9, Pitch: 1.0, Description: "Professional narrator voice"},
	{ID: "storyteller", Name: "Storyteller", Model: "en-US-AriaNeural", Language: "en-US", Gender: "female", Speed: 0.85, Pitch: 1.0, Description: "Engaging storytelling voice"},
}

// Catalog 是音色目录。
type Catalog struct {
	db  *database.DB
	log *zap.SugaredLogger
}

// NewCatalog 创建目录并确保内置音色存在。
func NewCatalog(ctx context.Context, db *database.DB, log *zap.SugaredLogger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Catalog{db: db, log: log}
	if err := c.ensureBuiltins(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureBuiltins(ctx context.Context) error {
	for _, v := range builtins {
		_, err := c.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO voices
			 (id, name, model, vocoder, speaker_embedding, language, gender, speed, pitch, description, builtin, is_default, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)`,
			v.ID, v.Name, v.Model, v.Vocoder, v.SpeakerEmbedding, v.Language, v.Gender, v.Speed, v.Pitch, v.Description, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("写入内置音色 %s 失败: %w", v.ID, err)
		}
	}

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM voices WHERE is_default = 1`).Scan(&n); err != nil {
		return fmt.Errorf("查询默认音色失败: %w", err)
	}
	if n == 0 {
		return c.SetDefault(ctx, builtins[0].ID)
	}
	return nil
}

const voiceColumns = `id, name, model, vocoder, speaker_embedding, language, gender, speed, pitch, description, builtin, is_default, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoice(row rowScanner) (*Voice, error) {
	var v Voice
	var createdAt sql.NullTime
	err := row.Scan(&v.ID, &v.Name, &v.Model, &v.Vocoder, &v.SpeakerEmbedding, &v.Language, &v.Gender,
		&v.Speed, &v.Pitch, &v.Description, &v.Builtin, &v.IsDefault, &createdAt)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		v.CreatedAt = createdAt.Time
	}
	return &v, nil
}

// List 返回全部音色，默认音色排在最前，其余按名称排序。
func (c *Catalog) List(ctx context.Context) ([]Voice, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+voiceColumns+` FROM voices`)
	if err != nil {
		return nil, fmt.Errorf("查询音色失败: %w", err)
	}
	defer rows.Close()

	var out []Voice
	for rows.Next() {
		v, err := scanVoice(rows)
		if err != nil {
			return nil, fmt.Errorf("读取音色失败: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get 按 ID 查找音色，"default" 或空字符串返回默认音色。
func (c *Catalog) Get(ctx context.Context, id string) (*Voice, error) {
	var row *sql.Row
	if id == "" || id == DefaultID {
		row = c.db.QueryRowContext(ctx, `SELECT `+voiceColumns+` FROM voices WHERE is_default = 1 LIMIT 1`)
	} else {
		row = c.db.QueryRowContext(ctx, `SELECT `+voiceColumns+` FROM voices WHERE id = ?`, id)
	}
	v, err := scanVoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("查询音色失败: %w", err)
	}
	return v, nil
}

// Add 新增或覆盖一个自定义音色。内置音色不能被覆盖。
func (c *Catalog) Add(ctx context.Context, v Voice) error {
	if v.Speed == 0 {
		v.Speed = 1.0
	}
	if v.Pitch == 0 {
		v.Pitch = 1.0
	}
	if v.Language == "" {
		v.Language = "en-US"
	}
	if v.Gender == "" {
		v.Gender = "neutral"
	}
	if err := v.Validate(); err != nil {
		return err
	}
	if existing, err := c.Get(ctx, v.ID); err == nil && existing.Builtin {
		return fmt.Errorf("%w: %s", ErrBuiltin, v.ID)
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO voices
		 (id, name, model, vocoder, speaker_embedding, language, gender, speed, pitch, description, builtin, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, model = excluded.model, vocoder = excluded.vocoder,
		   speaker_embedding = excluded.speaker_embedding, language = excluded.language,
		   gender = excluded.gender, speed = excluded.speed, pitch = excluded.pitch,
		   description = excluded.description`,
		v.ID, v.Name, v.Model, v.Vocoder, v.SpeakerEmbedding, v.Language, v.Gender, v.Speed, v.Pitch, v.Description, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("保存音色失败: %w", err)
	}
	c.log.Infof("[voice] 已添加音色: %s (%s)", v.ID, v.Name)
	return nil
}

// Remove 删除自定义音色。删除的是默认音色时，默认回到第一个内置音色。
func (c *Catalog) Remove(ctx context.Context, id string) error {
	v, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if v.Builtin {
		return fmt.Errorf("%w: %s", ErrBuiltin, id)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM voices WHERE id = ?`, v.ID); err != nil {
		return fmt.Errorf("删除音色失败: %w", err)
	}
	c.log.Infof("[voice] 已删除音色: %s", v.ID)
	if v.IsDefault {
		return c.SetDefault(ctx, builtins[0].ID)
	}
	return nil
}

// SetDefault 设置默认音色。
func (c *Catalog) SetDefault(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE voices SET is_default = (id = ?)`, id)
	if err != nil {
		return fmt.Errorf("设置默认音色失败: %w", err)
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM voices WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.log.Debugf("[voice] 默认音色: %s", id)
	}
	return tx.Commit()
}

// ImportConfig 把配置文件 voices 段中的音色写入目录，返回导入数量。
// 与内置音色同名的条目被跳过。
func (c *Catalog) ImportConfig(ctx context.Context, voices map[string]config.VoiceConfig) (int, error) {
	ids := make([]string, 0, len(voices))
	for id := range voices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	imported := 0
	for _, id := range ids {
		vc := voices[id]
		v := Voice{
			ID: id, Name: vc.Name, Model: vc.Model, Vocoder: vc.Vocoder,
			SpeakerEmbedding: vc.SpeakerEmbedding, Language: vc.Language, Gender: vc.Gender,
			Speed: vc.Speed, Pitch: vc.Pitch, Description: vc.Description,
		}
		if err := c.Add(ctx, v); err != nil {
			if errors.Is(err, ErrBuiltin) {
				c.log.Warnf("[voice] 配置中的 %s 与内置音色重名，已跳过", id)
				continue
			}
			return imported, fmt.Errorf("导入音色 %s 失败: %w", id, err)
		}
		imported++
	}
	return imported, nil
}

// Export 把音色写为 YAML 文件。
func (c *Catalog) Export(ctx context.Context, id, path string) error {
	v, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化音色失败: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Import 从 YAML 文件读取音色并保存，返回保存时使用的 ID。
// id 为空时沿用文件中的 ID。
func (c *Catalog) Import(ctx context.Context, path, id string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取音色文件失败: %w", err)
	}
	var v Voice
	if err := yaml.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("解析音色文件失败: %w", err)
	}
	if id != "" {
		v.ID = id
	}
	return v.ID, c.Add(ctx, v)
}
