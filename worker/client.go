// Package worker implements the Worker Agent (spec §4.3): claim an
// envelope, download the task's input artifact(s), run the local
// transcode or analysis subprocess, upload the result, then
// acknowledge the queue message.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/urban-engineer/sved/config"
	coordinatorerrors "github.com/urban-engineer/sved/errors"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/progress"
)

// fileInfo mirrors handlers.fileJSON; it is redefined here rather than
// shared because the worker has no business depending on the
// coordinator's handler package.
type fileInfo struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate"`
	Frames    int64   `json:"frames"`
}

// EncodeTaskInfo is the worker's view of one claimed encode task.
type EncodeTaskInfo struct {
	ID          int64    `json:"id"`
	EncodeType  string   `json:"encode_type"`
	EncodeValue int      `json:"encode_value"`
	SourceFile  fileInfo `json:"source_file"`
	Profile     struct {
		Name                  string `json:"name"`
		Codec                 string `json:"codec"`
		Preset                string `json:"preset"`
		Tune                  string `json:"tune"`
		ExtraArgs             string `json:"extra_args"`
		KeepOriginalMainAudio bool   `json:"keep_original_main_audio"`
	} `json:"profile"`
}

// MetricTaskInfo is the worker's view of one claimed metric task.
type MetricTaskInfo struct {
	ID             int64    `json:"id"`
	PSNR           bool     `json:"psnr"`
	MSSSIM         bool     `json:"ms_ssim"`
	VMAF           bool     `json:"vmaf"`
	NegMode        bool     `json:"neg_mode"`
	SubsampleRate  int      `json:"subsample_rate"`
	SourceFile     fileInfo `json:"source_file"`
	CompressedFile fileInfo `json:"compressed_file"`
}

// Client is the worker's transport to the coordinator. Claim and
// progress calls give up after a few bounded retries (the caller
// decides what "fail" means -
// claim lets the broker redeliver, progress just logs and moves on);
// Download/Upload retry indefinitely on transient failure per spec
// §4.3. A claim that 404s returns an error satisfying
// errors.IsObjectNotFound/IsUnretriable - the task row is gone, so
// redelivery can never succeed.
type Client interface {
	ClaimEncodeTask(ctx context.Context, url string) (EncodeTaskInfo, error)
	ClaimMetricTask(ctx context.Context, url string) (MetricTaskInfo, error)
	PostProgress(taskURL string, update progress.Update) error
	Download(ctx context.Context, url, destPath, workerID string) error
	Upload(ctx context.Context, url, srcPath, workerID string) error
}

// HTTPClient is the real Client: explicit timeouts, manual request
// construction, chunked transfer encoding for uploads.
type HTTPClient struct {
	Retryable     *retryablehttp.Client
	RetryInterval time.Duration
	ChunkBytes    int
}

// NewHTTPClient builds a Client, wiring `log` into retryablehttp's
// leveled logger. The retryable client
// backs claim and progress calls only - a handful of bounded retries
// on connection errors/5xx, with a hard non-200 propagating
// immediately, same as retryablehttp's default policy.
func NewHTTPClient(retryInterval time.Duration) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.Logger = log.NewRetryableHTTPLogger()
	rc.RetryMax = 3
	return &HTTPClient{
		Retryable:     rc,
		RetryInterval: retryInterval,
		ChunkBytes:    config.DefaultDownloadChunkBytes,
	}
}

func (c *HTTPClient) ClaimEncodeTask(ctx context.Context, url string) (EncodeTaskInfo, error) {
	var info EncodeTaskInfo
	if err := c.getJSON(ctx, url, &info); err != nil {
		return EncodeTaskInfo{}, err
	}
	return info, nil
}

func (c *HTTPClient) ClaimMetricTask(ctx context.Context, url string) (MetricTaskInfo, error) {
	var info MetricTaskInfo
	if err := c.getJSON(ctx, url, &info); err != nil {
		return MetricTaskInfo{}, err
	}
	return info, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("worker: building claim request: %w", err)
	}
	resp, err := c.Retryable.Do(req)
	if err != nil {
		return fmt.Errorf("worker: claiming %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return coordinatorerrors.NewObjectNotFoundError(fmt.Sprintf("claiming %s", url), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: claiming %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("worker: decoding claim response from %s: %w", url, err)
	}
	return nil
}

// PostProgress implements progress.Poster; it goes through the
// retryable client's bounded retries, and the Reporter logs an error
// that remains. encode_type/encode_value are sent only once an encode
// strategy has been recorded on the update.
func (c *HTTPClient) PostProgress(taskURL string, update progress.Update) error {
	payload := map[string]interface{}{
		"progress": update.Progress,
		"fps":      update.FPS,
		"eta":      update.ETASeconds,
	}
	if update.EncodeType != "" {
		payload["encode_type"] = update.EncodeType
		payload["encode_value"] = update.EncodeValue
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, taskURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Retryable.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: progress POST to %s: status %d", taskURL, resp.StatusCode)
	}
	return nil
}

// Download streams url's body to destPath in fixed-size chunks,
// retrying the whole transfer after RetryInterval on connection
// reset, a non-200 response, or any read error - indefinitely, per
// spec §4.3. destPath is truncated and re-written on every attempt.
func (c *HTTPClient) Download(ctx context.Context, url, destPath, workerID string) error {
	for {
		err := c.downloadOnce(ctx, url, destPath, workerID)
		if err == nil {
			return nil
		}
		log.LogNoTaskID("download failed, retrying", "url", url, "err", err, "retry_in", c.RetryInterval)
		if !sleepOrDone(ctx, c.RetryInterval) {
			return ctx.Err()
		}
	}
}

func (c *HTTPClient) downloadOnce(ctx context.Context, url, destPath, workerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Worker", workerID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer f.Close()

	buf := make([]byte, c.chunkSize())
	_, err = io.CopyBuffer(f, resp.Body, buf)
	return err
}

// Upload streams srcPath's bytes to url as the request body, setting
// the Worker and size headers the coordinator requires, retrying
// indefinitely on failure exactly like Download.
func (c *HTTPClient) Upload(ctx context.Context, url, srcPath, workerID string) error {
	for {
		err := c.uploadOnce(ctx, url, srcPath, workerID)
		if err == nil {
			return nil
		}
		log.LogNoTaskID("upload failed, retrying", "url", url, "err", err, "retry_in", c.RetryInterval)
		if !sleepOrDone(ctx, c.RetryInterval) {
			return ctx.Err()
		}
	}
}

func (c *HTTPClient) uploadOnce(ctx context.Context, url, srcPath, workerID string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return err
	}
	req.Header.Set("Worker", workerID)
	req.Header.Set("size", strconv.FormatInt(stat.Size(), 10))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = -1 // force chunked transfer encoding, same as a streamed upload of unknown final size

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) chunkSize() int {
	if c.ChunkBytes <= 0 {
		return config.DefaultDownloadChunkBytes
	}
	return c.ChunkBytes
}

// sleepOrDone waits d or returns false early if ctx is canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
