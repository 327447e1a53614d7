package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/encode"
	coordinatorerrors "github.com/urban-engineer/sved/errors"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/metrics"
	"github.com/urban-engineer/sved/progress"
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

// Delivery is the worker's view of one claimed queue message,
// decoupled from queue.Broker's concrete amqp wrapper so Agent.process
// can be driven by a fake in tests.
type Delivery struct {
	Envelope    queue.Envelope
	Ack         func() error
	Requeue     func() error
	NackDiscard func() error
}

func fromQueueDelivery(d queue.Delivery) Delivery {
	return Delivery{Envelope: d.Envelope, Ack: d.Ack, Requeue: d.Requeue, NackDiscard: d.NackDiscard}
}

// Agent drives the claim/stage/download/run/upload/cleanup/ack
// lifecycle described in spec §4.3, one task at a time.
type Agent struct {
	Client   Client
	Prober   video.Prober
	WorkerID string
	WorkDir  string

	FFmpegBinary      string
	HeartbeatInterval time.Duration

	// NewRunner builds the encode.Runner for one subprocess invocation;
	// left nil in production so newRunner's default (a real
	// encode.ExecRunner) is used. Tests substitute a fake here instead
	// of requiring a real ffmpeg binary on PATH.
	NewRunner func(sourceFPS float64, heartbeat func()) encode.Runner
}

func (a *Agent) newRunner(sourceFPS float64, heartbeat func()) encode.Runner {
	if a.NewRunner != nil {
		return a.NewRunner(sourceFPS, heartbeat)
	}
	return encode.ExecRunner{Binary: a.ffmpegBinary(), SourceFPS: sourceFPS, Heartbeat: heartbeat}
}

// Run consumes deliveries from broker until its channel closes
// (connection lost or the broker is shut down), processing one at a
// time; callers that want concurrency run several Agents.
func (a *Agent) Run(ctx context.Context, broker *queue.Broker, consumerTag string) error {
	deliveries, err := broker.Consume(consumerTag)
	if err != nil {
		return err
	}
	for raw := range deliveries {
		a.process(ctx, fromQueueDelivery(raw))
	}
	return nil
}

// process dispatches one delivery by envelope type and resolves it:
// ack on success, ack-and-log on an unretriable failure (the claimed
// task's row is gone), requeue on any other failure, or discard a
// message of a type this worker doesn't understand.
func (a *Agent) process(ctx context.Context, d Delivery) {
	taskID := fmt.Sprint(d.Envelope.ID)

	var err error
	switch {
	case d.Envelope.IsEncode():
		err = a.runEncodeTask(ctx, d.Envelope)
	case d.Envelope.IsMetric():
		err = a.runMetricTask(ctx, d.Envelope)
	default:
		log.Log(taskID, "discarding queue message with unknown envelope type", "type", d.Envelope.Type)
		if nerr := d.NackDiscard(); nerr != nil {
			log.LogError(taskID, "cannot discard poison message", nerr)
		}
		return
	}

	if err != nil {
		if coordinatorerrors.IsUnretriable(err) {
			// The coordinator reports the task row no longer exists
			// (a 404 claim); redelivering this message forever would
			// only wedge the queue, so it is treated as terminal.
			log.LogError(taskID, "task is unretriable, acking and dropping", err)
			if aerr := d.Ack(); aerr != nil {
				log.LogError(taskID, "cannot ack unretriable task", aerr)
			}
			return
		}
		log.LogError(taskID, "task failed, requeuing for redelivery", err)
		if nerr := d.Requeue(); nerr != nil {
			log.LogError(taskID, "cannot requeue failed task", nerr)
		}
		return
	}
	if aerr := d.Ack(); aerr != nil {
		log.LogError(taskID, "cannot ack completed task", aerr)
	}
}

func (a *Agent) ffmpegBinary() string {
	if a.FFmpegBinary == "" {
		return "ffmpeg"
	}
	return a.FFmpegBinary
}

func (a *Agent) heartbeatInterval() time.Duration {
	if a.HeartbeatInterval <= 0 {
		return config.DefaultHeartbeatInterval
	}
	return a.HeartbeatInterval
}

// heartbeat is invoked on a ticker for the duration of any child
// subprocess. The broker connection itself does not need app-level
// pumping (amqp091-go reads and answers heartbeat frames on its own
// connection goroutine), so this is a liveness log line rather than a
// literal keep-alive; see DESIGN.md for the reasoning.
func (a *Agent) heartbeat(taskID string) func() {
	return func() {
		log.Log(taskID, "still running")
	}
}

// runEncodeTask implements the claim/stage/download/run/upload
// sequence for one encode task.
func (a *Agent) runEncodeTask(ctx context.Context, env queue.Envelope) error {
	taskID := fmt.Sprint(env.ID)

	info, err := a.Client.ClaimEncodeTask(ctx, env.URL)
	if err != nil {
		return fmt.Errorf("claiming encode task: %w", err)
	}

	work, err := a.stage(env.ID)
	if err != nil {
		return err
	}
	defer a.cleanup(taskID, work)

	sourcePath := filepath.Join(work, info.SourceFile.Name)
	if err := a.Client.Download(ctx, env.URL+"/file", sourcePath, a.WorkerID); err != nil {
		return fmt.Errorf("downloading source: %w", err)
	}

	source, err := a.Prober.ProbeFile(taskID, sourcePath)
	if err != nil {
		return fmt.Errorf("probing source: %w", err)
	}
	videoTrack, err := source.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return fmt.Errorf("source has no video stream: %w", err)
	}

	outputPath := filepath.Join(work, "out"+filepath.Ext(info.SourceFile.Name))

	reporter := progress.NewReporter(ctx, a.Client, env.URL, taskID)
	defer reporter.Stop()

	state := &progressState{}
	reporter.Track(state.get, 1)
	tracker := encode.NewTracker(videoTrack.Frames)
	onProgress := func(block encode.ProgressBlock) {
		u := tracker.Update(block)
		state.set(u.Progress / 100)
		reporter.SetMetrics(u.FPS, u.ETASeconds)
	}

	runner := a.newRunner(videoTrack.FPS, a.heartbeat(taskID))
	loopSpec := encode.LoopSpec{
		InputPath: sourcePath, OutputPath: outputPath, WorkDir: work,
		Source: source, Prober: a.Prober, TaskID: taskID,
		Profile: store.Profile{
			Name: info.Profile.Name, Codec: info.Profile.Codec,
			Preset: info.Profile.Preset, Tune: info.Profile.Tune,
			ExtraArgs: info.Profile.ExtraArgs, KeepOriginalMainAudio: info.Profile.KeepOriginalMainAudio,
		},
		EncodeType: info.EncodeType, EncodeValue: info.EncodeValue,
		HasSubtitles: source.HasSubtitles,
	}

	result, err := encode.Run(ctx, runner, loopSpec, onProgress)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	reporter.SetEncodeStrategy(result.EncodeType, result.EncodeValue)
	state.set(1)

	if err := a.Client.Upload(ctx, env.URL+"/file", outputPath, a.WorkerID); err != nil {
		return fmt.Errorf("uploading compressed artifact: %w", err)
	}
	return nil
}

// runMetricTask implements the claim/stage/download/run/upload
// sequence for one metric task: download both the reference and
// compressed artifacts, run the quality-analysis filter, upload the
// resulting report.
func (a *Agent) runMetricTask(ctx context.Context, env queue.Envelope) error {
	taskID := fmt.Sprint(env.ID)

	info, err := a.Client.ClaimMetricTask(ctx, env.URL)
	if err != nil {
		return fmt.Errorf("claiming metric task: %w", err)
	}

	work, err := a.stage(env.ID)
	if err != nil {
		return err
	}
	defer a.cleanup(taskID, work)

	refPath := filepath.Join(work, "ref"+filepath.Ext(info.SourceFile.Name))
	if err := a.Client.Download(ctx, env.URL+"/files/source", refPath, a.WorkerID); err != nil {
		return fmt.Errorf("downloading reference: %w", err)
	}
	compressedPath := filepath.Join(work, "compressed"+filepath.Ext(info.CompressedFile.Name))
	if err := a.Client.Download(ctx, env.URL+"/files/compressed", compressedPath, a.WorkerID); err != nil {
		return fmt.Errorf("downloading compressed artifact: %w", err)
	}

	ref, err := a.Prober.ProbeFile(taskID, refPath)
	if err != nil {
		return fmt.Errorf("probing reference: %w", err)
	}
	refTrack, err := ref.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return fmt.Errorf("reference has no video stream: %w", err)
	}
	compressed, err := a.Prober.ProbeFile(taskID, compressedPath)
	if err != nil {
		return fmt.Errorf("probing compressed artifact: %w", err)
	}
	compressedTrack, err := compressed.GetTrack(video.TrackTypeVideo)
	if err != nil {
		return fmt.Errorf("compressed artifact has no video stream: %w", err)
	}

	reportPath := filepath.Join(work, "report.json")
	argv := metrics.BuildCommand(metrics.CommandSpec{
		ReferencePath: refPath, CompressedPath: compressedPath, ReportPath: reportPath,
		PSNR: info.PSNR, MSSSIM: info.MSSSIM, NegMode: info.NegMode,
		SubsampleRate:        info.SubsampleRate,
		ReferenceInterlaced:  !refTrack.IsProgressive(),
		CompressedInterlaced: !compressedTrack.IsProgressive(),
	})

	reporter := progress.NewReporter(ctx, a.Client, env.URL, taskID)
	defer reporter.Stop()
	state := &progressState{}
	reporter.Track(state.get, 1)
	tracker := encode.NewTracker(refTrack.Frames)
	onProgress := func(block encode.ProgressBlock) {
		u := tracker.Update(block)
		state.set(u.Progress / 100)
		reporter.SetMetrics(u.FPS, u.ETASeconds)
	}

	runner := a.newRunner(refTrack.FPS, a.heartbeat(taskID))
	// BuildCommand's argv[0] is the binary name itself; ExecRunner
	// takes the binary separately, so it is stripped here.
	if err := runner.Run(ctx, argv[1:], onProgress); err != nil {
		return fmt.Errorf("running quality analysis: %w", err)
	}
	state.set(1)

	if err := a.Client.Upload(ctx, env.URL+"/report", reportPath, a.WorkerID); err != nil {
		return fmt.Errorf("uploading quality report: %w", err)
	}
	return nil
}
