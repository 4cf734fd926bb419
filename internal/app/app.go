// Package app assembles configured components for each process role.
package app

import (
	"context"
	"errors"

	"github.com/joshsymonds/remediator/internal/awsclient"
	"github.com/joshsymonds/remediator/internal/config"
	"github.com/joshsymonds/remediator/internal/dispatch"
	"github.com/joshsymonds/remediator/internal/engine"
	"github.com/joshsymonds/remediator/internal/normalizer"
	"github.com/joshsymonds/remediator/internal/router"
	"github.com/joshsymonds/remediator/internal/scaler"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/internal/validator"
	"github.com/joshsymonds/remediator/internal/worker"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Options are the process-wide flags shared by every command.
type Options struct {
	ConfigPath string
	LogFormat  string
	Debug      bool
}

// App holds the resolved configuration and AWS clients.
type App struct {
	Config  *config.Config
	Clients *awsclient.Clients
	Logger  logger.Logger
	closers []func() error
}

// Load reads configuration and builds AWS clients.
func Load(ctx context.Context, opts Options, getenv func(string) string) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath, getenv)
	if err != nil {
		return nil, err
	}

	log := logger.GetGlobalLogger()
	clients, err := awsclient.New(ctx, awsclient.Options{
		Logger:   log,
		Region:   cfg.AWS.Region,
		Profile:  cfg.AWS.Profile,
		Endpoint: cfg.AWS.EndpointURL,
		Debug:    opts.Debug,
	})
	if err != nil {
		return nil, err
	}
	return New(cfg, clients, log), nil
}

// New wraps already resolved configuration and clients.
func New(cfg *config.Config, clients *awsclient.Clients, log logger.Logger) *App {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &App{Config: cfg, Clients: clients, Logger: log}
}

// Close releases resources opened by the builders.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Store returns the local store when LOCAL_STORE_DIR is set, otherwise S3.
func (a *App) Store() storage.ObjectStore {
	if a.Config.LocalStoreDir != "" {
		return storage.NewLocalStoreWithLogger(a.Config.LocalStoreDir, a.Logger)
	}
	return storage.NewS3Store(a.Clients.S3, a.Logger)
}

// Recorder returns the metrics recorder. Disabled metrics yield a no-op recorder.
func (a *App) Recorder() *telemetry.Recorder {
	if a.Config.Metrics.Disabled {
		return telemetry.NewRecorder(nil, a.Config.Metrics.NamespacePrefix, a.Logger)
	}
	return telemetry.NewRecorder(
		telemetry.NewCloudWatchPublisher(a.Clients.CloudWatch),
		a.Config.Metrics.NamespacePrefix,
		a.Logger,
	)
}

// Notifier returns every configured notification sink, or nil when none is configured.
func (a *App) Notifier() telemetry.Notifier {
	var sinks telemetry.MultiNotifier
	if a.Config.Notifications.QueueURL != "" {
		sinks = append(sinks, telemetry.NewSQSNotifier(a.Clients.SQS, a.Config.Notifications.QueueURL))
	}
	if len(a.Config.Notifications.Brokers) > 0 && a.Config.Notifications.Topic != "" {
		k := telemetry.NewKafkaNotifier(telemetry.NewKafkaWriter(a.Config.Notifications.Brokers, a.Config.Notifications.Topic))
		a.closers = append(a.closers, k.Close)
		sinks = append(sinks, k)
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

// Pipeline builds the ingestion path. The rule table is loaded once; a load
// failure leaves only the default policy.
func (a *App) Pipeline(ctx context.Context) *dispatch.Pipeline {
	cfg := a.Config
	table := router.Load(ctx, a.Store(), cfg.Policy.Bucket, cfg.Policy.MappingKey, cfg.Policy.DefaultKey, a.Logger)

	return dispatch.NewPipeline(
		normalizer.New(normalizer.WithLogger(a.Logger), normalizer.WithEnrichment(cfg.EnableEnrichment)),
		validator.NewGate(validator.DefaultTable(a.Clients.S3, a.Clients.IAM, a.Logger), a.Logger),
		router.New(table, cfg.Policy.DefaultKey, a.Logger),
		dispatch.New(a.Clients.SQS, cfg.Queue.URL, cfg.Policy.Bucket, a.Recorder(), a.Logger),
		a.Logger,
	)
}

// Worker builds the queue consumer with a custodian engine.
func (a *App) Worker() *worker.Worker {
	cfg := a.Config

	runner := engine.NewCustodian(a.Logger)
	runner.Binary = cfg.Worker.EngineBinary
	runner.WorkDir = cfg.Worker.WorkDir
	runner.Region = cfg.AWS.Region
	runner.Timeout = cfg.EngineTimeout()

	opts := []worker.Option{
		worker.WithLogger(a.Logger),
		worker.WithMetrics(a.Recorder()),
	}
	if n := a.Notifier(); n != nil {
		opts = append(opts, worker.WithNotifier(n))
	}

	return worker.New(worker.Config{
		QueueURL:          cfg.Queue.URL,
		PolicyBucket:      cfg.Policy.Bucket,
		PolicyKey:         cfg.Policy.FallbackKey,
		OutputBucket:      cfg.Worker.OutputBucket,
		WorkDir:           cfg.Worker.WorkDir,
		MaxMessages:       int32(cfg.Queue.MaxMessages),       // #nosec G115 - validated to 1..10
		WaitTimeSeconds:   int32(cfg.Queue.WaitTimeSeconds),   // #nosec G115 - validated to 0..20
		VisibilityTimeout: int32(cfg.Queue.VisibilityTimeout), // #nosec G115 - validated to 0..43200
		MaxEmptyReceives:  cfg.Worker.MaxEmptyReceives,
		PollErrorBackoff:  cfg.PollErrorBackoff(),
	}, a.Clients.SQS, a.Store(), runner, opts...)
}

// Scaler builds the autoscaler controller.
func (a *App) Scaler() *scaler.Controller {
	cfg := a.Config
	return scaler.New(scaler.Config{
		Cluster:         cfg.Scaler.Cluster,
		Service:         cfg.Scaler.Service,
		QueueURL:        cfg.Queue.URL,
		MinTasks:        cfg.Scaler.MinTasks,
		MaxTasks:        cfg.Scaler.MaxTasks,
		MessagesPerTask: cfg.Scaler.MessagesPerTask,
	}, a.Clients.ECS, a.Clients.SQS, a.Recorder(), a.Logger)
}
