package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/video"
	"github.com/urban-engineer/sved/worker"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func main() {
	if err := run(); err != nil {
		log.LogNoTaskID("worker exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := config.FromArgs("worker", os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := cli.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := worker.ValidateWorkDir(cli.WorkDir, cli.InputDir); err != nil {
		return fmt.Errorf("invalid work dir: %w", err)
	}
	if cli.FFprobeBinary != "" {
		ffprobe.SetFFProbeBinPath(cli.FFprobeBinary)
	}

	workerID := cli.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	amqpURL := fmt.Sprintf("amqp://%s:%d", cli.RabbitBroker, cli.RabbitBrokerPort)
	broker, err := queue.Dial(amqpURL, cli.RabbitQueue)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	agent := &worker.Agent{
		Client:            worker.NewHTTPClient(cli.RetryInterval),
		Prober:            video.Probe{},
		WorkerID:          workerID,
		WorkDir:           cli.WorkDir,
		FFmpegBinary:      cli.FFmpegBinary,
		HeartbeatInterval: cli.HeartbeatInterval,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.LogNoTaskID("starting worker", "version", config.Version, "worker_id", workerID)
	return agent.Run(ctx, broker, workerID)
}
