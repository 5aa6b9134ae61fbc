package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"api-runner/internal/bulk"
	"api-runner/internal/config"
	"api-runner/internal/environment"
	"api-runner/internal/executor"
	"api-runner/internal/logging"
	"api-runner/internal/metrics"
	"api-runner/internal/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Define common errors for the application layer.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrRunFailed      = errors.New("one or more operations failed")
)

// envPrefix namespaces environment overrides, e.g. API_RUNNER_LOGLEVEL.
const envPrefix = "API_RUNNER"

// --- Interfaces for Testability ---

// configLoader defines the interface for loading configuration.
type configLoader interface {
	Load(filename string) (*config.Config, error)
}

// executorFactory builds the transport shared by every operation of a run.
type executorFactory interface {
	New(httpCfg config.HTTPConfig, retryCfg config.RetryConfig) bulk.Executor
}

// serveFunc runs the control API until ctx is done.
type serveFunc func(ctx context.Context, srv *server.Server, addr string) error

// --- Default Implementations ---

type defaultConfigLoader struct{}

func (l *defaultConfigLoader) Load(filename string) (*config.Config, error) {
	return config.LoadConfig(filename)
}

type defaultExecutorFactory struct{}

func (f *defaultExecutorFactory) New(httpCfg config.HTTPConfig, retryCfg config.RetryConfig) bulk.Executor {
	return executor.NewHTTPExecutor(httpCfg, retryCfg)
}

func defaultServe(ctx context.Context, srv *server.Server, addr string) error {
	return srv.ListenAndServe(ctx, addr)
}

// --- AppRunner ---

// AppRunner encapsulates the application's execution logic and dependencies.
type AppRunner struct {
	configLoader    configLoader
	executorFactory executorFactory
	serve           serveFunc
	out             io.Writer
	errOut          io.Writer
}

// AppRunnerOpts allows configuring the AppRunner's dependencies.
type AppRunnerOpts struct {
	ConfigLoader    configLoader
	ExecutorFactory executorFactory
	Serve           serveFunc
	Out             io.Writer
	ErrOut          io.Writer
}

// NewAppRunner creates a new instance of the application runner with default dependencies.
func NewAppRunner() *AppRunner {
	return NewAppRunnerWithOpts(AppRunnerOpts{})
}

// NewAppRunnerWithOpts creates a new AppRunner allowing dependency injection.
func NewAppRunnerWithOpts(opts AppRunnerOpts) *AppRunner {
	a := &AppRunner{
		configLoader:    opts.ConfigLoader,
		executorFactory: opts.ExecutorFactory,
		serve:           opts.Serve,
		out:             opts.Out,
		errOut:          opts.ErrOut,
	}
	if a.configLoader == nil {
		a.configLoader = &defaultConfigLoader{}
	}
	if a.executorFactory == nil {
		a.executorFactory = &defaultExecutorFactory{}
	}
	if a.serve == nil {
		a.serve = defaultServe
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.errOut == nil {
		a.errOut = os.Stderr
	}
	return a
}

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, a.newRootCommand().UsageString())
}

// Run parses command-line arguments and executes the selected command.
func (a *AppRunner) Run(args []string) error {
	root := a.newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func (a *AppRunner) newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "api-runner",
		Short: "Run collections of HTTP requests sequentially or in parallel",
		Long: `api-runner assembles stored requests against a variable set and executes them
in bulk. Values extracted from each response can be chained into later requests.

Settings are read from flags, then API_RUNNER_* environment variables, then the
workspace file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				logging.Logf(logging.Warning, "Failed to load .env file: %v", err)
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if level := v.GetString("loglevel"); level != "" {
				logging.SetupLogging(level)
			}
			return nil
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "workspace.yaml", "YAML workspace file")
	pf.String("loglevel", "", "Logging level (none, error, warn, info, debug); overrides the workspace")

	root.AddCommand(a.newRunCommand(v), a.newServeCommand(v), a.newValidateCommand(v))
	return root
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("only", nil, "Run only the named requests (repeatable, comma separated)")
	f.StringP("env", "e", "", "Environment to activate; defaults to the one marked active")
	f.String("mode", "", "Execution mode: sequential or parallel")
	f.Int("delay", 0, "Delay between sequential requests in milliseconds")
	f.Bool("chaining", false, "Feed values extracted from responses into later requests")
}

func (a *AppRunner) newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workspace requests to completion and print a report",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBulk(cmd.Context(), v)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("fail-on-error", false, "Exit non-zero when any operation fails")
	return cmd
}

func (a *AppRunner) newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the run over an HTTP control API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), v)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().Bool("autostart", false, "Start the run as soon as the server is up")
	return cmd
}

func (a *AppRunner) newValidateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the workspace file without sending anything",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadWorkspace(v)
			if err != nil {
				return err
			}
			if _, err := environment.FromConfig(cfg.Environments, cfg.ResolvePath); err != nil {
				return err
			}
			specs, err := BuildSpecs(cfg, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workspace '%s' is valid: %d request(s), %d environment(s)\n",
				v.GetString("config"), len(specs), len(cfg.Environments))
			return nil
		},
	}
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		return nil
	}
}

// loadWorkspace stats and loads the workspace, then applies its log level
// unless one was given on the command line or in the environment.
func (a *AppRunner) loadWorkspace(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
	}

	cfg, err := a.configLoader.Load(path)
	if err != nil {
		return nil, err
	}
	if v.GetString("loglevel") == "" && cfg.Logging.Level != "" {
		logging.SetupLogging(cfg.Logging.Level)
	}
	logging.Logf(logging.Debug, "Loaded workspace '%s' with %d request(s)", path, len(cfg.Requests))
	return cfg, nil
}

// runSettings layers flag and environment overrides over the workspace run
// section.
func runSettings(rc config.RunConfig, v *viper.Viper) (bulk.Config, error) {
	modeName := rc.Mode
	if v.IsSet("mode") {
		modeName = v.GetString("mode")
	}
	mode, err := bulk.ParseMode(modeName)
	if err != nil {
		return bulk.Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	delay := rc.Delay()
	if v.IsSet("delay") {
		delay = v.GetInt("delay")
	}
	if delay < 0 {
		return bulk.Config{}, fmt.Errorf("%w: delay must not be negative, got %d", ErrUsage, delay)
	}

	chaining := rc.Chaining
	if v.IsSet("chaining") {
		chaining = v.GetBool("chaining")
	}
	return bulk.Config{
		Mode:              mode,
		InterRequestDelay: time.Duration(delay) * time.Millisecond,
		ChainingEnabled:   chaining,
	}, nil
}

// prepare loads the workspace and returns an orchestrator holding the
// selected requests.
func (a *AppRunner) prepare(v *viper.Viper, onDone func(bulk.Operation)) (*bulk.Orchestrator, *metrics.Metrics, error) {
	cfg, err := a.loadWorkspace(v)
	if err != nil {
		return nil, nil, err
	}

	store, err := environment.FromConfig(cfg.Environments, cfg.ResolvePath)
	if err != nil {
		return nil, nil, err
	}
	if name := v.GetString("env"); name != "" {
		if err := store.Activate(name); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUsage, err)
		}
	}
	if set, ok := store.Active(); ok {
		logging.Logf(logging.Info, "Using environment '%s' (%d variable(s))", set.Name, len(set.Variables))
	} else {
		logging.Logf(logging.Info, "No active environment; only chained values resolve placeholders")
	}

	specs, err := BuildSpecs(cfg, v.GetStringSlice("only"))
	if err != nil {
		return nil, nil, err
	}
	bulkCfg, err := runSettings(cfg.Run, v)
	if err != nil {
		return nil, nil, err
	}

	m := metrics.New()
	orch := bulk.NewOrchestratorWithOpts(bulkCfg, &bulk.Opts{
		Executor:        a.executorFactory.New(cfg.HTTP, cfg.Retry),
		Variables:       store,
		Metrics:         m,
		OnOperationDone: onDone,
	})
	if err := orch.Load(specs); err != nil {
		return nil, nil, err
	}
	return orch, m, nil
}

func (a *AppRunner) runBulk(ctx context.Context, v *viper.Viper) error {
	var progressMu sync.Mutex
	done := 0
	var total int
	onDone := func(op bulk.Operation) {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		fmt.Fprintf(a.errOut, "[%d/%d] %s\n", done, total, describe(op))
	}

	orch, _, err := a.prepare(v, onDone)
	if err != nil {
		return err
	}
	progressMu.Lock()
	total = orch.Summary().Total
	progressMu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	runDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			logging.Logf(logging.Warning, "Interrupt received: stopping after in-flight requests finish")
			orch.Stop()
		case <-runDone:
		}
	}()

	err = orch.Run(ctx)
	close(runDone)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	summary := orch.Summary()
	writeReport(a.out, orch.Operations(), summary)
	if summary.Pending > 0 {
		logging.Logf(logging.Warning, "Run stopped with %d operation(s) not executed", summary.Pending)
	}
	if summary.Failed > 0 && v.GetBool("fail-on-error") {
		return fmt.Errorf("%w: %d of %d", ErrRunFailed, summary.Failed, summary.Total)
	}
	return nil
}

func (a *AppRunner) runServe(ctx context.Context, v *viper.Viper) error {
	orch, m, err := a.prepare(v, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(orch, &server.Opts{RunContext: ctx, Metrics: m.Handler()})
	if v.GetBool("autostart") {
		orch.Start(ctx)
	}
	serveErr := a.serve(ctx, srv, v.GetString("addr"))

	orch.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Wait(waitCtx); err != nil {
		logging.Logf(logging.Warning, "In-flight requests did not finish before shutdown: %v", err)
	}
	return serveErr
}
