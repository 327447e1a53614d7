package config

import (
	"errors"
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Cli holds every value needed to construct either binary's
// dependencies (handlers.Collection for the coordinator, worker.Agent
// for the worker).
// It is built once at startup by FromArgs and then threaded explicitly
// through the program; nothing here is re-read lazily once parsed.
type Cli struct {
	// paths.*
	InputDir  string
	OutputDir string

	// rabbitmq.*
	RabbitBroker     string
	RabbitBrokerPort int
	RabbitQueue      string

	// flags.*
	AutoDelete bool

	// Coordinator-only.
	HTTPAddr         string
	PostgresDSN      string
	MaxUploadBytes   int64
	ProgressMinWait  time.Duration

	// Worker-only.
	WorkerID          string
	WorkDir           string
	FFmpegBinary      string
	FFprobeBinary     string
	RetryInterval     time.Duration
	HeartbeatInterval time.Duration
}

// FromArgs parses a config file, environment variables, and CLI flags
// (in increasing priority: env overrides the file, and an explicitly
// set flag overrides both) into a Cli value, using ff/v3's
// flag+env+file layering.
func FromArgs(programName string, args []string) (Cli, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)

	cli := Cli{}
	fs.StringVar(&cli.InputDir, "input-dir", "", "root directory of source media (paths.input)")
	fs.StringVar(&cli.OutputDir, "output-dir", "", "root directory for produced artifacts (paths.output)")
	fs.StringVar(&cli.RabbitBroker, "rabbitmq-broker", "", "broker hostname (rabbitmq.broker)")
	fs.IntVar(&cli.RabbitBrokerPort, "rabbitmq-broker-port", 5672, "broker port (rabbitmq.broker_port)")
	fs.StringVar(&cli.RabbitQueue, "rabbitmq-queue", "tasks", "durable queue name (rabbitmq.queue)")
	fs.BoolVar(&cli.AutoDelete, "auto-delete", false, "delete source file after a successful encode upload (flags.auto-delete)")

	fs.StringVar(&cli.HTTPAddr, "http-addr", ":8080", "coordinator HTTP listen address")
	fs.StringVar(&cli.PostgresDSN, "postgres-dsn", "", "Postgres connection string for the record store")
	fs.Int64Var(&cli.MaxUploadBytes, "max-upload-bytes", 30*1024*1024*1024, "maximum accepted artifact/report upload size")
	fs.DurationVar(&cli.ProgressMinWait, "progress-min-interval", 10*time.Second, "minimum wall-clock interval between progress POSTs; parsed but not read by the coordinator, which accepts every progress POST")

	fs.StringVar(&cli.WorkerID, "worker-id", "", "identity sent in the Worker header; defaults to a generated id")
	fs.StringVar(&cli.WorkDir, "work-dir", "", "root directory the worker stages per-task work directories under")
	fs.StringVar(&cli.FFmpegBinary, "ffmpeg-binary", "ffmpeg", "path to the ffmpeg binary")
	fs.StringVar(&cli.FFprobeBinary, "ffprobe-binary", "ffprobe", "path to the ffprobe binary")
	fs.DurationVar(&cli.RetryInterval, "retry-interval", DefaultRetryInterval, "fixed back-off between transient download/upload retries")
	fs.DurationVar(&cli.HeartbeatInterval, "heartbeat-interval", DefaultHeartbeatInterval, "interval for the worker's still-running log line during a subprocess; stored on worker.Agent, but encode.ExecRunner ticks every DefaultHeartbeatInterval and does not read this value")

	if err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("PIPELINE"),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return Cli{}, err
	}

	return cli, cli.Validate()
}

// Validate enforces the fatal-at-startup checks spec.md calls for:
// input/output roots must differ, and the broker must be configured.
func (c Cli) Validate() error {
	if c.InputDir == "" {
		return errors.New("paths.input is required (set --input-dir or PIPELINE_INPUT_DIR)")
	}
	if c.OutputDir == "" {
		return errors.New("paths.output is required (set --output-dir or PIPELINE_OUTPUT_DIR)")
	}
	if c.InputDir == c.OutputDir {
		return errors.New("paths.input and paths.output must not be equal")
	}
	if c.RabbitBroker == "" {
		return errors.New("rabbitmq.broker is required (set --rabbitmq-broker or PIPELINE_RABBITMQ_BROKER)")
	}
	return nil
}
