// Package store defines the narrow repository interface the
// coordinator uses as its only mutation path to persistent state,
// per the record-store abstraction design note: no ORM, no
// process-wide mutable cache, every write goes through one of these
// methods.
package store

import "context"

// TaskKind distinguishes EncodeTask from MetricTask rows, since both
// share endpoint shapes but live in separate tables.
type TaskKind string

const (
	KindEncode TaskKind = "encode"
	KindMetric TaskKind = "metrics"
)

// ProgressUpdate is the overwrite-only set of fields a progress POST
// may change. Nil optional fields are left untouched by
// UpdateEncodeTaskProgress/UpdateMetricTaskProgress; callers pass
// pointers so "not present in the POST body" is distinguishable from
// "explicitly zero".
type ProgressUpdate struct {
	Worker      string
	Progress    float64
	FPS         *float64
	ETASeconds  *int
	EncodeType  *string
	EncodeValue *int
}

// Store is the only mutation path to durable task/file state.
// Implementations must make FinalizeEncodeTask and
// FinalizeMetricReport safe to call twice with the same arguments,
// since upload POSTs may be retried by the worker after a dropped ack.
type Store interface {
	// LoadEncodeTask and LoadMetricTask return the task plus its
	// referenced File rows, or errors.ErrTaskNotFound.
	LoadEncodeTask(ctx context.Context, id int64) (EncodeTask, error)
	LoadMetricTask(ctx context.Context, id int64) (MetricTask, error)

	// UpdateEncodeTaskProgress and UpdateMetricTaskProgress apply a
	// progress POST: adopt a differing Worker header (logging is the
	// caller's responsibility), advance status to IN_PROGRESS if
	// below it, and overwrite the listed fields.
	UpdateEncodeTaskProgress(ctx context.Context, id int64, update ProgressUpdate) error
	UpdateMetricTaskProgress(ctx context.Context, id int64, update ProgressUpdate) error

	// MarkEncodeTaskDownloading/MarkMetricTaskSourceDownloading/
	// MarkMetricTaskCompressedDownloading implement the GET-triggered
	// transitions to DOWNLOADING described in spec §4.2.
	MarkEncodeTaskDownloading(ctx context.Context, id int64, worker string) error
	MarkMetricTaskSourceDownloading(ctx context.Context, id int64, worker string) error
	MarkMetricTaskCompressedDownloading(ctx context.Context, id int64, worker string) error

	// FinalizeEncodeTask records a successfully uploaded compressed
	// artifact: updates the compressed File's probed fields, stamps
	// encode_end_datetime, and sets status to COMPLETE.
	FinalizeEncodeTask(ctx context.Context, id int64, worker string, compressed File) error

	// RequeueEncodeTask resets status to QUEUED after a size-mismatched
	// upload, without touching the compressed File row.
	RequeueEncodeTask(ctx context.Context, id int64) error
	RequeueMetricTask(ctx context.Context, id int64) error

	// CreateFrames bulk-inserts Frame rows for a MetricTask. Must be
	// safe to call twice for the same task id (idempotent retry) -
	// implementations should delete-then-insert or upsert on
	// (task, frame_number).
	CreateFrames(ctx context.Context, taskID int64, frames []Frame) error

	// CreatePooledMetric inserts or replaces the Pooled<Metric> row
	// for a task.
	CreatePooledMetric(ctx context.Context, metric PooledMetric) error

	// GetPooledMetric backs the per-metric pooled-result sub-resource
	// linked from a metric task's JSON representation.
	GetPooledMetric(ctx context.Context, taskID int64, metric string) (PooledMetric, error)

	// FinalizeMetricReport stamps analyze_end_datetime and sets status
	// to COMPLETE after frames and pooled metrics have been written.
	FinalizeMetricReport(ctx context.Context, id int64, worker string) error

	// CreateFile registers a newly-scanned or newly-produced File.
	CreateFile(ctx context.Context, f File) (File, error)

	// GetEncodeSourcePath/GetMetricSourcePath/GetMetricCompressedPath
	// resolve the on-disk path a task's encode/metric file GET should
	// stream bytes from.
	GetEncodeSourcePath(ctx context.Context, id int64) (dir, name string, err error)
	GetMetricSourcePath(ctx context.Context, id int64) (dir, name string, err error)
	GetMetricCompressedPath(ctx context.Context, id int64) (dir, name string, err error)
}
