// Command buildctl compiles build specs, executes them against a world and
// verifies the result.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voxelbuild.ai/internal/errs"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "buildctl"
)

// errNotVerified is returned when a command finished but the build did not
// pass verification.
var errNotVerified = errors.New("build did not verify")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errNotVerified):
		return 3
	case errs.IsRetryable(err):
		return 4
	}
	return 1
}

// app holds the root flags shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	worldURL   string
	local      bool

	log *zap.Logger
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Compile, execute and verify voxel builds",
		Long: `buildctl turns declarative build specs into world commands.

compile   expands a spec into a bounded command script
execute   runs the script against a world under safety limits
verify    compares the world with the spec and proposes patch ops
build     repeats execute and verify, folding patches into new revisions`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zapcore.ParseLevel(a.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
			}
			config := zap.NewProductionConfig()
			config.Level = zap.NewAtomicLevelAt(level)
			a.log, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.worldURL, "world", "", "World WebSocket URL, overrides world.url")
	cmd.PersistentFlags().BoolVar(&a.local, "local", false, "Use an in-process simulated world")

	cmd.AddCommand(
		compileCmd(a),
		executeCmd(a),
		verifyCmd(a),
		buildCmd(a),
		reviseCmd(a),
		scanCmd(a),
		cloneCmd(a),
		watchCmd(a),
		journalCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}
