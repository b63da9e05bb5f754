// Package cli wires the agent components together and drives them from the
// command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	otlp_util "github.com/bluexlab/otlp-util-go"
	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/ca"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/config"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/health"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/lifecycle"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/scheduler"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/storage/file"
)

const appName string = "cert-agent"

// Version is stamped by the build with -ldflags.
var Version = "dev"

type CLI struct {
	Daemon struct {
	} `cmd:"" help:"Run the agent as a long running daemon"`
	Once struct {
	} `cmd:"" help:"Run a single renewal cycle and exit"`
	Version struct {
	} `cmd:"" help:"Print the agent version"`
	Config string `short:"c" long:"config" help:"Path to the configuration file" type:"existingfile" default:"config.yaml"`
}

type App struct{}

func (a *App) Run() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.UsageOnError())
	switch ctx.Command() {
	case "daemon":
		a.runDaemon(cli)
	case "once":
		a.runOnce(cli)
	case "version":
		fmt.Println(Version)
	default:
	}
}

// lockableStore is the file store surface the CLI needs beyond CertStore.
// The single instance lock is an application concern, not a lifecycle one.
type lockableStore interface {
	storage.CertStore
	AcquireLock() error
	ReleaseLock() error
}

func (a *App) loadConfig(cli CLI) config.Config {
	cfg, err := config.FromFile(cli.Config)
	if err != nil {
		logrus.Errorf("failed to load config: %v", err)
		os.Exit(128)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Errorf("invalid config: %v", err)
		os.Exit(128)
	}
	return cfg
}

func (a *App) openStore(cfg config.Config) lockableStore {
	store, err := file.NewStore(cfg.CertDir)
	if err != nil {
		logrus.Errorf("failed to open certificate directory: %v", err)
		os.Exit(128)
	}
	if err := store.AcquireLock(); err != nil {
		logrus.Errorf("failed to acquire agent lock: %v", err)
		os.Exit(128)
	}
	return store
}

func (a *App) initExporter(ctx context.Context, cfg config.Config) func() {
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		return func() {}
	}

	exporter, err := otlp_util.InitExporter(
		otlp_util.WithContext(ctx),
		otlp_util.WithEndPoint(endpoint),
		otlp_util.WithServiceName(appName),
		otlp_util.WithInSecure(),
		otlp_util.WithErrorHandler(func(err error) {
			logrus.Warnf("OTLP error: %v", err)
		}),
	)
	if err != nil {
		logrus.Errorf("failed to initialize OTLP exporter: %v", err)
		os.Exit(128)
	}
	return func() { _ = exporter.Shutdown(ctx) }
}

func (a *App) runDaemon(cli CLI) {
	ctx := context.Background()
	cfg := a.loadConfig(cli)

	shutdownExporter := a.initExporter(ctx, cfg)
	defer shutdownExporter()

	store := a.openStore(cfg)
	defer func() { _ = store.ReleaseLock() }()

	solver, err := ca.NewHTTP01Solver(cfg.CA.Solver.Listen)
	if err != nil {
		logrus.Errorf("failed to create challenge solver: %v", err)
		os.Exit(128)
	}
	authority := ca.NewACMEAuthority(cfg.CA, solver)

	aggregator := health.NewAggregator()
	healthServer, err := health.NewServer(cfg.Health.Listen, aggregator)
	if err != nil {
		logrus.Errorf("failed to create health server: %v", err)
		os.Exit(128)
	}

	engine, err := lifecycle.NewEngineWithConfig(
		cfg,
		lifecycle.WithStore(store),
		lifecycle.WithCertAuthority(authority),
		lifecycle.WithHealthPublisher(aggregator),
		lifecycle.WithVersion(Version),
	)
	if err != nil {
		logrus.Errorf("failed to create lifecycle engine: %v", err)
		os.Exit(128)
	}
	agentScheduler := scheduler.NewScheduler(engine, cfg.Policy.Interval())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := solver.Run(); err != nil {
			logrus.Errorf("failed to run challenge solver: %v", err)
			os.Exit(1)
		}
	}()
	go func() {
		if err := healthServer.Run(); err != nil {
			logrus.Errorf("failed to run health server: %v", err)
			os.Exit(1)
		}
	}()

	var schedulerErr error
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := agentScheduler.Run(ctx); err != nil {
			logrus.Errorf("renewal scheduler stopped: %v", err)
			schedulerErr = err
			stop()
		}
	}()

	// listen for the stop signal
	<-ctx.Done()

	// Restore default behavior on the signals we are listening to
	stop()
	logrus.Info("shutting down gracefully, press Ctrl+C again to force")

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := healthServer.Close(closeCtx); err != nil {
		logrus.Warnf("failed to close health server: %v", err)
	}
	if err := solver.Close(closeCtx); err != nil {
		logrus.Warnf("failed to close challenge solver: %v", err)
	}

	wg.Wait()
	if schedulerErr != nil {
		os.Exit(1)
	}
}

func (a *App) runOnce(cli CLI) {
	ctx := context.Background()
	cfg := a.loadConfig(cli)

	shutdownExporter := a.initExporter(ctx, cfg)
	defer shutdownExporter()

	store := a.openStore(cfg)
	defer func() { _ = store.ReleaseLock() }()

	solver, err := ca.NewHTTP01Solver(cfg.CA.Solver.Listen)
	if err != nil {
		logrus.Errorf("failed to create challenge solver: %v", err)
		os.Exit(128)
	}
	authority := ca.NewACMEAuthority(cfg.CA, solver)

	engine, err := lifecycle.NewEngineWithConfig(
		cfg,
		lifecycle.WithStore(store),
		lifecycle.WithCertAuthority(authority),
		lifecycle.WithVersion(Version),
	)
	if err != nil {
		logrus.Errorf("failed to create lifecycle engine: %v", err)
		os.Exit(128)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := solver.Run(); err != nil {
			logrus.Errorf("failed to run challenge solver: %v", err)
			os.Exit(1)
		}
	}()

	cycleErr := scheduler.NewScheduler(engine, cfg.Policy.Interval()).RunOnce(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := solver.Close(closeCtx); err != nil {
		logrus.Warnf("failed to close challenge solver: %v", err)
	}

	if cycleErr != nil {
		logrus.Errorf("renewal cycle failed: %v", cycleErr)
		_ = store.ReleaseLock()
		os.Exit(1)
	}
}
