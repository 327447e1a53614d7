package config

import "time"

var Version string

// Used so that tests can generate fixed timestamps instead of time.Now().
var Clock TimestampGenerator = RealTimestampGenerator{}

// DefaultDownloadChunkBytes is the chunk size the worker reads input
// artifacts in while streaming them to the work directory.
const DefaultDownloadChunkBytes = 8 * 1024

// DefaultRetryInterval is the fixed back-off the worker uses for
// transient network failures (connection reset, non-200, chunked
// encoding errors) on both download and upload.
var DefaultRetryInterval = 30 * time.Second

// DefaultHeartbeatInterval is how often the worker logs a
// "still running" heartbeat line while a child transcoder/analysis
// process is running.
var DefaultHeartbeatInterval = 10 * time.Second

// DefaultCRFStart/DefaultCRFMax bound the CRF escalation loop.
const (
	DefaultCRFStart = 18
	DefaultCRFMax   = 24
)

// Scene-rule size budgets, expressed as a fraction of the source
// video-stream byte size, keyed by resolution category.
const (
	SceneBudget720p  = 0.30
	SceneBudget1080p = 0.60
	SceneBudget2160p = 0.70
)

// InvalidDirName is the subdirectory under the output root that
// size-mismatched uploads are quarantined into.
const InvalidDirName = "invalid"

// QueueEnvelopeTypeEncode / QueueEnvelopeTypeMetric are the two
// contractual `type` values on the queue envelope.
const (
	QueueEnvelopeTypeEncode = "encode"
	QueueEnvelopeTypeMetric = "metrics"
)
