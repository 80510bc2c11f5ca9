package narrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/narrator/internal/database"
)

// 任务状态。
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job 是一次合成任务的记录。
type Job struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	VoiceID    string     `json:"voice_id"`
	Segments   int        `json:"segments"`
	Status     string     `json:"status"`
	OutputPath string     `json:"output_path,omitempty"`
	Duration   float64    `json:"duration"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats 汇总任务数量。
type Stats struct {
	Active    int
	Completed int
	Failed    int
}

// JobStore 把任务历史写入 SQLite。
type JobStore struct {
	db  *database.DB
	now func() time.Time
}

// NewJobStore 创建任务存储，db 需已完成迁移。
func NewJobStore(db *database.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// Start 登记一个运行中的任务并返回其 ID。
func (s *JobStore) Start(ctx context.Context, filename, voiceID string, segments int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, filename, voice_id, segments, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, filename, voiceID, segments, JobRunning, s.now())
	if err != nil {
		return "", fmt.Errorf("[narrate] 登记任务失败: %w", err)
	}
	return id, nil
}

// Finish 把任务标记为完成。
func (s *JobStore) Finish(ctx context.Context, id, outputPath string, duration float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, output_path = ?, duration = ?, finished_at = ? WHERE id = ?`,
		JobCompleted, outputPath, duration, s.now(), id)
	if err != nil {
		return fmt.Errorf("[narrate] 更新任务 %s 失败: %w", id, err)
	}
	return nil
}

// Fail 把任务标记为失败并记录原因。
func (s *JobStore) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		JobFailed, msg, s.now(), id)
	if err != nil {
		return fmt.Errorf("[narrate] 更新任务 %s 失败: %w", id, err)
	}
	return nil
}

// Get 按 ID 读取任务。
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobColumns+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("[narrate] 任务不存在: %s", id)
	}
	return j, err
}

// Recent 按开始时间倒序返回最近的 limit 个任务。
func (s *JobStore) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, jobColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("[narrate] 查询任务失败: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Stats 按状态统计任务数量。
func (s *JobStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("[narrate] 统计任务失败: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case JobRunning:
			st.Active = n
		case JobCompleted:
			st.Completed = n
		case JobFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

const jobColumns = `SELECT id, filename, voice_id, segments, status, output_path, duration, error, started_at, finished_at FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var finished sql.NullTime
	err := row.Scan(&j.ID, &j.Filename, &j.VoiceID, &j.Segments, &j.Status,
		&j.OutputPath, &j.Duration, &j.Error, &j.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}
