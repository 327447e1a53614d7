package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/urban-engineer/sved/errors"
)

// PostgresStore implements Store on top of plain SQL over
// database/sql; see schema.sql for the table definitions. No ORM is
// used, per the record-store redesign note.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres store: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) LoadEncodeTask(ctx context.Context, id int64) (EncodeTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			t.id, t.status, t.progress, t.encode_framerate, t.seconds_remaining,
			t.encode_type, t.encode_value, t.worker,
			t.encode_start_datetime, t.encode_end_datetime,
			sf.id, sf.name, sf.directory, sf.size_bytes, sf.duration, sf.frame_rate, sf.frames,
			p.id, p.name, p.codec, p.encode_type, p.encode_value, p.preset, p.tune,
			p.extra_args, p.keep_original_main_audio,
			cf.id, cf.name, cf.directory, cf.size_bytes, cf.duration, cf.frame_rate, cf.frames
		FROM encode_tasks t
		JOIN files sf ON sf.id = t.source_file_id
		JOIN profiles p ON p.id = t.profile_id
		LEFT JOIN files cf ON cf.id = t.compressed_file_id
		WHERE t.id = $1`, id)

	var t EncodeTask
	var cf File
	var cfID, cfSize, cfFrames sql.NullInt64
	var cfName, cfDir sql.NullString
	var cfDuration, cfFPS sql.NullFloat64

	err := row.Scan(
		&t.ID, &t.Status, &t.Progress, &t.EncodeFramerate, &t.SecondsRemaining,
		&t.EncodeType, &t.EncodeValue, &t.Worker,
		&t.EncodeStartDatetime, &t.EncodeEndDatetime,
		&t.SourceFile.ID, &t.SourceFile.Name, &t.SourceFile.Directory, &t.SourceFile.SizeBytes,
		&t.SourceFile.Duration, &t.SourceFile.FrameRate, &t.SourceFile.Frames,
		&t.Profile.ID, &t.Profile.Name, &t.Profile.Codec, &t.Profile.EncodeType, &t.Profile.EncodeValue,
		&t.Profile.Preset, &t.Profile.Tune, &t.Profile.ExtraArgs, &t.Profile.KeepOriginalMainAudio,
		&cfID, &cfName, &cfDir, &cfSize, &cfDuration, &cfFPS, &cfFrames,
	)
	if err == sql.ErrNoRows {
		return EncodeTask{}, errors.ErrTaskNotFound
	}
	if err != nil {
		return EncodeTask{}, fmt.Errorf("loading encode task %d: %w", id, err)
	}
	if cfID.Valid {
		cf.ID, cf.Name, cf.Directory = cfID.Int64, cfName.String, cfDir.String
		cf.SizeBytes, cf.Duration, cf.FrameRate, cf.Frames = cfSize.Int64, cfDuration.Float64, cfFPS.Float64, cfFrames.Int64
		t.CompressedFile = &cf
	}
	return t, nil
}

func (s *PostgresStore) LoadMetricTask(ctx context.Context, id int64) (MetricTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			t.id, t.status, t.progress, t.processing_framerate, t.seconds_remaining,
			t.psnr, t.ms_ssim, t.vmaf, t.neg_mode, t.subsample_rate, t.worker,
			t.analyze_start_datetime, t.analyze_end_datetime,
			sf.id, sf.name, sf.directory, sf.size_bytes, sf.duration, sf.frame_rate, sf.frames,
			cf.id, cf.name, cf.directory, cf.size_bytes, cf.duration, cf.frame_rate, cf.frames
		FROM metric_tasks t
		JOIN files sf ON sf.id = t.source_file_id
		JOIN files cf ON cf.id = t.compressed_file_id
		WHERE t.id = $1`, id)

	var t MetricTask
	err := row.Scan(
		&t.ID, &t.Status, &t.Progress, &t.ProcessingFramerate, &t.SecondsRemaining,
		&t.PSNR, &t.MSSSIM, &t.VMAF, &t.NegMode, &t.SubsampleRate, &t.Worker,
		&t.AnalyzeStartDatetime, &t.AnalyzeEndDatetime,
		&t.SourceFile.ID, &t.SourceFile.Name, &t.SourceFile.Directory, &t.SourceFile.SizeBytes,
		&t.SourceFile.Duration, &t.SourceFile.FrameRate, &t.SourceFile.Frames,
		&t.CompressedFile.ID, &t.CompressedFile.Name, &t.CompressedFile.Directory, &t.CompressedFile.SizeBytes,
		&t.CompressedFile.Duration, &t.CompressedFile.FrameRate, &t.CompressedFile.Frames,
	)
	if err == sql.ErrNoRows {
		return MetricTask{}, errors.ErrTaskNotFound
	}
	if err != nil {
		return MetricTask{}, fmt.Errorf("loading metric task %d: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateEncodeTaskProgress(ctx context.Context, id int64, u ProgressUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE encode_tasks SET
			worker = $2,
			progress = $3,
			encode_framerate = COALESCE($4, encode_framerate),
			seconds_remaining = COALESCE($5, seconds_remaining),
			encode_type = COALESCE($6, encode_type),
			encode_value = COALESCE($7, encode_value),
			status = GREATEST(status, $8)
		WHERE id = $1`,
		id, u.Worker, u.Progress, u.FPS, u.ETASeconds, u.EncodeType, u.EncodeValue, StatusInProgress)
	if err != nil {
		return fmt.Errorf("updating encode task %d progress: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdateMetricTaskProgress(ctx context.Context, id int64, u ProgressUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE metric_tasks SET
			worker = $2,
			progress = $3,
			processing_framerate = COALESCE($4, processing_framerate),
			seconds_remaining = COALESCE($5, seconds_remaining),
			status = GREATEST(status, $6)
		WHERE id = $1`,
		id, u.Worker, u.Progress, u.FPS, u.ETASeconds, StatusInProgress)
	if err != nil {
		return fmt.Errorf("updating metric task %d progress: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkEncodeTaskDownloading(ctx context.Context, id int64, worker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE encode_tasks SET
			worker = $2, status = $3, progress = 0, encode_framerate = 0,
			seconds_remaining = -1, encode_start_datetime = $4
		WHERE id = $1`, id, worker, StatusDownloading, time.Now().UTC())
	return err
}

func (s *PostgresStore) MarkMetricTaskSourceDownloading(ctx context.Context, id int64, worker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE metric_tasks SET
			worker = $2, status = $3, progress = 0, processing_framerate = 0, seconds_remaining = -1
		WHERE id = $1`, id, worker, StatusDownloading)
	return err
}

func (s *PostgresStore) MarkMetricTaskCompressedDownloading(ctx context.Context, id int64, worker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE metric_tasks SET
			worker = $2, status = $3, analyze_start_datetime = $4
		WHERE id = $1`, id, worker, StatusDownloading, time.Now().UTC())
	return err
}

func (s *PostgresStore) FinalizeEncodeTask(ctx context.Context, id int64, worker string, compressed File) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var compressedID int64
	err = tx.QueryRowContext(ctx, `SELECT compressed_file_id FROM encode_tasks WHERE id = $1`, id).Scan(&compressedID)
	if err != nil {
		return fmt.Errorf("loading compressed file id for task %d: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE files SET size_bytes = $2, duration = $3, frame_rate = $4, frames = $5, probe_info = $6
		WHERE id = $1`,
		compressedID, compressed.SizeBytes, compressed.Duration, compressed.FrameRate, compressed.Frames, compressed.ProbeInfo)
	if err != nil {
		return fmt.Errorf("updating compressed file %d: %w", compressedID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE encode_tasks SET worker = $2, status = $3, encode_end_datetime = $4 WHERE id = $1`,
		id, worker, StatusComplete, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("completing encode task %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) RequeueEncodeTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE encode_tasks SET status = $2 WHERE id = $1`, id, StatusQueued)
	return err
}

func (s *PostgresStore) RequeueMetricTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE metric_tasks SET status = $2 WHERE id = $1`, id, StatusQueued)
	return err
}

// CreateFrames deletes any existing rows for the task then bulk
// inserts the new set, so a retried report upload is idempotent.
func (s *PostgresStore) CreateFrames(ctx context.Context, taskID int64, frames []Frame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM frames WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("clearing frames for task %d: %w", taskID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (task_id, frame_number, psnr, ms_ssim, vmaf) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range frames {
		if _, err := stmt.ExecContext(ctx, taskID, f.FrameNum, f.PSNR, f.MSSSIM, f.VMAF); err != nil {
			return fmt.Errorf("inserting frame %d for task %d: %w", f.FrameNum, taskID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) CreatePooledMetric(ctx context.Context, m PooledMetric) error {
	table := pooledTableName(m.Metric)
	if table == "" {
		return fmt.Errorf("unknown pooled metric kind %q", m.Metric)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM `+table+` WHERE task_id = $1`, m.TaskID)
	if err != nil {
		return fmt.Errorf("clearing %s for task %d: %w", table, m.TaskID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (task_id, min, max, mean, harmonic_mean, one_percent_low, point_one_percent_low)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.TaskID, m.Min, m.Max, m.Mean, m.HarmonicMean, m.OnePercentLow, m.PointOnePercentLow)
	if err != nil {
		return fmt.Errorf("inserting %s for task %d: %w", table, m.TaskID, err)
	}
	return nil
}

func (s *PostgresStore) GetPooledMetric(ctx context.Context, taskID int64, metric string) (PooledMetric, error) {
	table := pooledTableName(metric)
	if table == "" {
		return PooledMetric{}, fmt.Errorf("unknown pooled metric kind %q", metric)
	}
	m := PooledMetric{TaskID: taskID, Metric: metric}
	err := s.db.QueryRowContext(ctx, `
		SELECT min, max, mean, harmonic_mean, one_percent_low, point_one_percent_low
		FROM `+table+` WHERE task_id = $1`, taskID,
	).Scan(&m.Min, &m.Max, &m.Mean, &m.HarmonicMean, &m.OnePercentLow, &m.PointOnePercentLow)
	if err == sql.ErrNoRows {
		return PooledMetric{}, errors.ErrTaskNotFound
	}
	if err != nil {
		return PooledMetric{}, fmt.Errorf("loading %s for task %d: %w", table, taskID, err)
	}
	return m, nil
}

func pooledTableName(metric string) string {
	switch metric {
	case MetricPSNR:
		return "pooled_psnr"
	case MetricMSSSIM:
		return "pooled_ms_ssim"
	case MetricVMAF:
		return "pooled_vmaf"
	default:
		return ""
	}
}

func (s *PostgresStore) FinalizeMetricReport(ctx context.Context, id int64, worker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE metric_tasks SET worker = $2, status = $3, analyze_end_datetime = $4 WHERE id = $1`,
		id, worker, StatusComplete, time.Now().UTC())
	return err
}

func (s *PostgresStore) CreateFile(ctx context.Context, f File) (File, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO files (name, directory, size_bytes, duration, frame_rate, frames, probe_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		f.Name, f.Directory, f.SizeBytes, f.Duration, f.FrameRate, f.Frames, f.ProbeInfo,
	).Scan(&f.ID)
	if err != nil {
		return File{}, fmt.Errorf("creating file %s/%s: %w", f.Directory, f.Name, err)
	}
	return f, nil
}

func (s *PostgresStore) GetEncodeSourcePath(ctx context.Context, id int64) (string, string, error) {
	return s.pathFromQuery(ctx, `
		SELECT sf.directory, sf.name FROM encode_tasks t JOIN files sf ON sf.id = t.source_file_id WHERE t.id = $1`, id)
}

func (s *PostgresStore) GetMetricSourcePath(ctx context.Context, id int64) (string, string, error) {
	return s.pathFromQuery(ctx, `
		SELECT sf.directory, sf.name FROM metric_tasks t JOIN files sf ON sf.id = t.source_file_id WHERE t.id = $1`, id)
}

func (s *PostgresStore) GetMetricCompressedPath(ctx context.Context, id int64) (string, string, error) {
	return s.pathFromQuery(ctx, `
		SELECT cf.directory, cf.name FROM metric_tasks t JOIN files cf ON cf.id = t.compressed_file_id WHERE t.id = $1`, id)
}

func (s *PostgresStore) pathFromQuery(ctx context.Context, query string, id int64) (string, string, error) {
	var dir, name string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&dir, &name)
	if err == sql.ErrNoRows {
		return "", "", errors.ErrTaskNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("resolving path for task %d: %w", id, err)
	}
	return dir, name, nil
}
