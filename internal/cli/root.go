package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/sigrt/internal/config"
	"github.com/Paintersrp/sigrt/internal/logging"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

const (
	envConfigPath     = "SIGRT_CONFIG"
	defaultConfigPath = "sigrt.yaml"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	configPath := defaultConfigPath
	if value := os.Getenv(envConfigPath); value != "" {
		configPath = value
	}
	var logLevel string

	root := &cobra.Command{
		Use:   "sigrt",
		Short: "POSIX signal delivery and child lifecycle runtime",
	}

	root.PersistentFlags().
		StringVarP(&configPath, "config", "c", configPath, "Path to runtime configuration (SIGRT_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	ctx := &context{configPath: &configPath, logLevel: &logLevel}
	root.AddCommand(newKillCmd(ctx))
	root.AddCommand(newPsCmd(ctx))
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if !errors.As(err, &exitErr) || exitErr.err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(exitCode(err))
	}
}

// exitError carries a process exit code out of a command. A nil err means
// the command already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps err to a process exit status: an explicit exitError code,
// else the errno it carries, else 1.
func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	if errno := sigproc.Errno(err); errno != 0 && errno < 126 {
		return int(errno)
	}
	return 1
}

type context struct {
	configPath *string
	logLevel   *string

	mu     sync.Mutex
	cfg    *config.Config
	logger *logrus.Logger
	env    *hostEnv
}

// loadConfig reads the configuration once; a missing file yields defaults.
func (c *context) loadConfig() (*config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configPath != nil {
		path = *c.configPath
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	if c.logLevel != nil && *c.logLevel != "" {
		cfg.Logging.Level = *c.logLevel
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *context) getLogger() (*logrus.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logger == nil {
		logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}
	return c.logger, nil
}
