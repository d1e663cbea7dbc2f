// Command depositorchd runs the custody-transfer orchestration core:
// listening for upstream repository events, or one-shot driving a retry or
// refresh pass over existing Deposits (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/config"
	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/eventingest"
	"github.com/passrepo/depositorch/internal/failure"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/metrics"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/orchestrator"
	"github.com/passrepo/depositorch/internal/registry"
	"github.com/passrepo/depositorch/internal/repoclient"
	"github.com/passrepo/depositorch/internal/worker"
)

// Exit codes (spec.md §6): 0 success, 1 configuration error, 2 upstream
// unavailable at startup, 3 runtime fault after startup.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitUpstreamUnavailable = 2
	exitRuntimeFault     = 3
)

var (
	cfgFile    string
	registryFile string
	verbose    bool
	quiet      bool
	jsonLogs   bool

	cfg *config.Config
	reg *registry.Registry

	metricsShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "depositorchd",
	Short: "depositorchd - custody-transfer deposit orchestration core",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Configure(logging.Options{JSON: jsonLogs, Verbose: verbose, Quiet: quiet})

		v := viper.New()
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "depositorchd: configuration error:", err)
			return cmdError{code: exitConfigError, err: err}
		}
		cfg = loaded

		reg = registry.New()
		if registryFile == "" {
			registryFile = cfg.RepositoryConfiguration
		}
		if registryFile != "" {
			if err := registry.LoadFile(reg, registryFile); err != nil {
				fmt.Fprintln(os.Stderr, "depositorchd: registry load error:", err)
				return cmdError{code: exitConfigError, err: err}
			}
			if _, err := registry.Watch(reg, registryFile); err != nil {
				logging.Logger().Warn("registry hot-reload disabled", "error", err)
			}
		}

		shutdown, err := metrics.Init(cmd.Context(), os.Stderr)
		if err != nil {
			logging.Logger().Warn("telemetry exporters disabled", "error", err)
		} else {
			metricsShutdown = shutdown
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsShutdown == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			logging.Logger().Warn("telemetry shutdown failed", "error", err)
		}
		return nil
	},
}

// cmdError carries an explicit process exit code through cobra's error
// return path; main's RunE-to-exit-code translation below reads it back out.
type cmdError struct {
	code int
	err  error
}

func (e cmdError) Error() string { return e.err.Error() }

func buildCore(ctx context.Context) (*orchestrator.SubmissionProcessor, *orchestrator.DepositProcessor, *orchestrator.ErrorHandler, *worker.Pool, error) {
	client := repoclient.NewHTTPClient(cfg.RepositoryBaseURL, cfg.HTTPAgent)

	engine := cse.New(client)
	pool := worker.New(ctx, cfg.WorkersConcurrency, worker.DefaultQueueDepth)
	errHandler := orchestrator.NewErrorHandler(ctx, engine)

	shared := assembler.New()
	packagers := orchestrator.NewPackagerSource(reg, shared)
	manifests := orchestrator.NewRepositoryManifestBuilder(client)

	submissionProcessor := &orchestrator.SubmissionProcessor{
		Engine:       engine,
		Client:       client,
		Manifest:     manifests,
		Packagers:    packagers,
		Pool:         pool,
		ErrorHandler: errHandler,
	}
	depositProcessor := &orchestrator.DepositProcessor{
		Client: client,
		Aggregator: &orchestrator.SubmissionAggregator{Engine: engine, Client: client},
		Refresher: &orchestrator.DepositStatusRefresher{
			Engine:       engine,
			Client:       client,
			Packagers:    packagers,
			ErrorHandler: errHandler,
		},
	}
	return submissionProcessor, depositProcessor, errHandler, pool, nil
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "consume upstream repository events and drive custody transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logging.With("component", "cmd.listen")

		submissionProcessor, depositProcessor, errHandler, pool, err := buildCore(ctx)
		if err != nil {
			return cmdError{code: exitConfigError, err: err}
		}

		consumer, closeNATS, err := eventingest.Connect(cfg.NATSURL, cfg.HTTPAgent)
		if err != nil {
			log.Error("could not connect to event source", "error", err)
			return cmdError{code: exitUpstreamUnavailable, err: err}
		}
		defer closeNATS()

		// Two bounded pools keep slow Submission/Deposit processing from
		// blocking the NATS callback goroutine or each other (spec.md §5);
		// they are distinct from pool, which runs DepositTasks.
		submissionListeners := worker.New(ctx, cfg.ListenerConcurrency, worker.DefaultQueueDepth)
		depositListeners := worker.New(ctx, cfg.ListenerConcurrency, worker.DefaultQueueDepth)

		onSubmission := func(ctx context.Context, env eventingest.Envelope) error {
			err := submissionListeners.Submit(func(ctx context.Context) error {
				return submissionProcessor.Process(ctx, env.EntityID)
			})
			if err != nil {
				log.Warn("submission listener pool saturated, dropping event", "submission_id", env.EntityID, "error", err)
				errHandler.Report(failure.Scoped(failure.TransientIO, env.EntityID, model.EntitySubmission, err))
			}
			return err
		}
		onDeposit := func(ctx context.Context, env eventingest.Envelope) error {
			err := depositListeners.Submit(func(ctx context.Context) error {
				return depositProcessor.Process(ctx, env.EntityID)
			})
			if err != nil {
				log.Warn("deposit listener pool saturated, dropping event", "deposit_id", env.EntityID, "error", err)
				errHandler.Report(failure.Scoped(failure.TransientIO, env.EntityID, model.EntityDeposit, err))
			}
			return err
		}

		if err := consumer.Subscribe(ctx, eventingest.SubjectSubmissionEvents, "depositorchd-submissions", onSubmission); err != nil {
			return cmdError{code: exitUpstreamUnavailable, err: err}
		}
		if err := consumer.Subscribe(ctx, eventingest.SubjectDepositEvents, "depositorchd-deposits", onDeposit); err != nil {
			return cmdError{code: exitUpstreamUnavailable, err: err}
		}

		log.Info("listening for repository events", "workers", cfg.WorkersConcurrency, "listener_concurrency", cfg.ListenerConcurrency)
		<-ctx.Done()
		log.Info("shutting down")
		submissionListeners.Stop()
		depositListeners.Stop()
		pool.Stop()
		errHandler.Stop()
		return nil
	},
}

var retryURI string

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "re-run the transfer critical section for null/FAILED Deposits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client := repoclient.NewHTTPClient(cfg.RepositoryBaseURL, cfg.HTTPAgent)
		engine := cse.New(client)
		pool := worker.New(ctx, cfg.WorkersConcurrency, worker.DefaultQueueDepth)
		errHandler := orchestrator.NewErrorHandler(ctx, engine)
		shared := assembler.New()
		packagers := orchestrator.NewPackagerSource(reg, shared)
		manifests := orchestrator.NewRepositoryManifestBuilder(client)

		n, err := orchestrator.RunRetry(ctx, engine, client, packagers, manifests, pool, errHandler, retryURI)
		pool.Stop()
		errHandler.Stop()
		if err != nil {
			return cmdError{code: exitRuntimeFault, err: err}
		}
		fmt.Printf("retried %d deposit(s)\n", n)
		return nil
	},
}

var refreshURI string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "re-run the status refresh critical section for SUBMITTED Deposits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client := repoclient.NewHTTPClient(cfg.RepositoryBaseURL, cfg.HTTPAgent)
		engine := cse.New(client)
		errHandler := orchestrator.NewErrorHandler(ctx, engine)
		shared := assembler.New()
		packagers := orchestrator.NewPackagerSource(reg, shared)
		refresher := &orchestrator.DepositStatusRefresher{Engine: engine, Client: client, Packagers: packagers, ErrorHandler: errHandler}

		n, err := orchestrator.RunRefresh(ctx, client, refresher, refreshURI, cfg.SwordV2SleepTime)
		errHandler.Stop()
		if err != nil {
			return cmdError{code: exitRuntimeFault, err: err}
		}
		fmt.Printf("refreshed %d deposit(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a depositorchd config file")
	rootCmd.PersistentFlags().StringVar(&registryFile, "registry", "", "path to the target packager registry YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit logs as JSON")

	retryCmd.Flags().StringVar(&retryURI, "uri", "", "retry a single Deposit by id instead of scanning")
	refreshCmd.Flags().StringVar(&refreshURI, "uri", "", "refresh a single Deposit by id instead of scanning")

	rootCmd.AddCommand(listenCmd, retryCmd, refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(cmdError); ok {
			os.Exit(ce.code)
		}
		os.Exit(exitRuntimeFault)
	}
	os.Exit(exitOK)
}
