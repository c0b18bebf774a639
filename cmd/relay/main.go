package main

import (
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/dispatch"
	"github.com/ligustah/relay/internal/logging"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitTransferFailed = 1
	ExitInvalidArgs    = 2
	ExitConfigError    = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !ee.quiet {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// cobra reports unknown commands, bad flags and wrong arity
	fmt.Fprintf(stderr, "Error: %v\n", err)
	fmt.Fprintln(stderr, "Run 'relay --help' for usage.")
	return ExitInvalidArgs
}

// exitError carries the process exit code for a failed command.
type exitError struct {
	code  int
	err   error
	quiet bool // already reported on stdout
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// classify maps err to an exitError. Configuration problems exit with
// ExitConfigError and everything else with ExitTransferFailed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return &exitError{code: ExitConfigError, err: err}
	}
	if errors.Is(err, dispatch.ErrNoKeys) {
		return &exitError{code: ExitInvalidArgs, err: err}
	}
	return &exitError{code: ExitTransferFailed, err: err}
}

type globalOptions struct {
	configPath string
	envPath    string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

// childArgs returns the global flags a worker process must receive.
func (g *globalOptions) childArgs() []string {
	var args []string
	if g.configPath != "" {
		args = append(args, "--config", g.configPath)
	}
	if g.envPath != "" {
		args = append(args, "--env", g.envPath)
	}
	if g.logLevel != "" {
		args = append(args, "--log-level", g.logLevel)
	}
	return args
}

// load reads the configuration and sets up logging.
func (g *globalOptions) load() (config.Config, log.Interface, error) {
	return g.loadWith(config.Config{})
}

// loadWith merges command flag values over the file and environment
// configuration. Empty flag values leave the loaded setting alone.
func (g *globalOptions) loadWith(flags config.Config) (config.Config, log.Interface, error) {
	cfg, err := config.Load(g.configPath, g.envPath)
	if err != nil {
		return cfg, nil, err
	}
	flags.Log.Level = g.logLevel
	cfg = cfg.Merge(flags)
	logger := logging.SetupWriter(g.stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg, logger, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "relay",
		Short: "Transfer remote files into object storage",
		Long: `relay downloads files from HTTP(S) URLs, uploads them to an S3-compatible
bucket such as Cloudflare R2 and records the status of every transfer in a
MySQL or SQLite table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("RELAY_CONFIG"), "YAML configuration file")
	root.PersistentFlags().StringVar(&g.envPath, "env", ".env", "dotenv file loaded into the environment if present")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(g),
		newWorkerCmd(g),
		newMigrateCmd(g),
		newPeekCmd(g),
		newRetryCmd(g),
		newDeleteCmd(g),
	)
	return root
}
