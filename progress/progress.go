package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/urban-engineer/sved/log"
)

// Clock is a package-level var so tests can substitute a mock clock,
// same pattern as the upstream progress reporter this is adapted from.
var Clock = clock.New()

var progressReportBuckets = []float64{0, 0.25, 0.5, 0.75, 1}

const minProgressReportInterval = 10 * time.Second
const progressCheckInterval = 1 * time.Second

// Update is the body the worker POSTs to the coordinator's task-detail
// endpoint. FPS/ETA are rolling averages computed by the encode
// control loop; EncodeType/EncodeValue are empty until
// Reporter.SetEncodeStrategy records the parameters the control loop
// finished with (CRF or ABR), and every later update carries them.
type Update struct {
	Progress    float64
	FPS         float64
	ETASeconds  int
	EncodeType  string
	EncodeValue int
}

// Poster sends a progress Update to the coordinator for one task. The
// worker's HTTP client implements this.
type Poster interface {
	PostProgress(taskURL string, update Update) error
}

// Reporter rate-limits and forwards progress updates for a single
// task to the coordinator, decoupling "how often the encode loop
// computes progress" from "how often the network is bothered" per
// spec.md's recommendation that a minimum inter-update interval be
// enforced.
type Reporter struct {
	ctx    context.Context
	cancel context.CancelFunc
	poster Poster
	taskID string
	url    string

	mu                   sync.Mutex
	getProgress          func() float64
	scaleStart, scaleEnd float64
	encodeType           string
	encodeValue          int
	fps                  float64
	etaSeconds           int

	lastReport   time.Time
	lastProgress float64
}

func NewReporter(ctx context.Context, poster Poster, url, taskID string) *Reporter {
	ctx, cancel := context.WithCancel(ctx)
	p := &Reporter{
		ctx:    ctx,
		cancel: cancel,
		poster: poster,
		taskID: taskID,
		url:    url,
	}
	go p.mainLoop()
	return p
}

func (p *Reporter) Stop() {
	p.cancel()
}

// Track sets the progress source function and the fraction of the
// overall task this stage of work scales to (e.g. a CRF re-encode
// attempt might scale 0..1 across the whole upload, or a two-pass
// sequence might allot 0.5 to each pass).
func (p *Reporter) Track(getProgress func() float64, end float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if end < p.scaleStart || end > 1 {
		log.LogError(p.taskID, fmt.Sprintf("invalid end progress set taskID=%s lastProgress=%f endProgress=%f", p.taskID, p.lastProgress, end), errors.New("invalid end progress set"))
		if end > 1 {
			end = 1
		} else {
			end = p.scaleStart
		}
	}
	p.getProgress, p.scaleStart, p.scaleEnd = getProgress, p.scaleEnd, end
}

func (p *Reporter) Set(val float64) {
	p.Track(func() float64 { return 1 }, val)
}

// SetMetrics records the rolling fps/eta the encode control loop has
// computed from the transcoder's progress stream; it is merged into
// the next progress POST.
func (p *Reporter) SetMetrics(fps float64, etaSeconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fps, p.etaSeconds = fps, etaSeconds
}

// SetEncodeStrategy records the encode_type/encode_value to report on
// the next update, e.g. after the control loop falls back to ABR.
func (p *Reporter) SetEncodeStrategy(encodeType string, encodeValue int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encodeType, p.encodeValue = encodeType, encodeValue
}

func (p *Reporter) mainLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.LogError(p.taskID, fmt.Sprintf("panic reporting progress: value=%q stack:\n%s", r, string(debug.Stack())), errors.New("panic reporting task progress"))
		}
	}()
	timer := Clock.Ticker(progressCheckInterval)
	defer timer.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			p.reportOnce()
		}
	}
}

func (p *Reporter) reportOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getProgress == nil {
		return
	}

	progress := p.calcProgress()
	if progress <= p.lastProgress {
		return
	}
	if !shouldReportProgress(progress, p.lastProgress, p.lastReport) {
		return
	}

	update := Update{
		Progress:    progress * 100,
		FPS:         p.fps,
		ETASeconds:  p.etaSeconds,
		EncodeType:  p.encodeType,
		EncodeValue: p.encodeValue,
	}
	if err := p.poster.PostProgress(p.url, update); err != nil {
		log.LogError(p.taskID, fmt.Sprintf("error updating task progress taskID=%s progress=%v", p.taskID, progress), err)
		return
	}
	p.lastReport, p.lastProgress = Clock.Now(), progress
}

func shouldReportProgress(newVal, oldVal float64, lastReportedAt time.Time) bool {
	return progressBucket(newVal) != progressBucket(oldVal) ||
		Clock.Since(lastReportedAt) >= minProgressReportInterval
}

func (p *Reporter) calcProgress() float64 {
	val := p.getProgress()
	val = math.Max(val, 0)
	val = math.Min(val, 0.99)
	val = p.scaleStart + val*(p.scaleEnd-p.scaleStart)
	val = math.Round(val*1000) / 1000
	return val
}

func progressBucket(progress float64) int {
	return sort.SearchFloat64s(progressReportBuckets, progress)
}
