package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urban-engineer/sved/api"
	"github.com/urban-engineer/sved/config"
	"github.com/urban-engineer/sved/handlers"
	"github.com/urban-engineer/sved/log"
	"github.com/urban-engineer/sved/queue"
	"github.com/urban-engineer/sved/store"
	"github.com/urban-engineer/sved/video"
)

func main() {
	if err := run(); err != nil {
		log.LogNoTaskID("coordinator exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := config.FromArgs("coordinator", os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := cli.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.NewPostgresStore(cli.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	amqpURL := fmt.Sprintf("amqp://%s:%d", cli.RabbitBroker, cli.RabbitBrokerPort)
	broker, err := queue.Dial(amqpURL, cli.RabbitQueue)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer broker.Close()

	h := handlers.New(st, broker, video.Probe{}, cli)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return api.ListenAndServe(ctx, cli, h)
}
