// Command grblsend streams G-code files to a Grbl controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	return handleError(rootCmd.ErrOrStderr(), err)
}

// handleError prints err and returns the exit code for it.
func handleError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		fmt.Fprintln(w, color.RedString("✗ %s", cliErr.Error()))
		if cliErr.Hint != "" {
			fmt.Fprintln(w, color.CyanString("  %s", cliErr.Hint))
		}
		return cliErr.Code
	}

	fmt.Fprintln(w, color.RedString("✗ %s", err.Error()))

	errStr := err.Error()
	if strings.HasPrefix(errStr, "unknown command") ||
		strings.HasPrefix(errStr, "unknown flag") ||
		strings.HasPrefix(errStr, "unknown shorthand flag") ||
		strings.Contains(errStr, "required flag") {
		fmt.Fprintln(w, color.CyanString("  Run 'grblsend --help' for usage"))
		return ExitUsage
	}

	return exitCode(err)
}

type globalOptions struct {
	configPath string
	logLevel   string
	noColor    bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "grblsend",
		Short: "Stream G-code to a Grbl controller",
		Long: `grblsend streams a G-code file to a Grbl 1.1 controller one command at a
time, waiting for each acknowledgment, and stops on the first alarm or error.

  grblsend list                       Show available serial ports
  grblsend send --file part.nc        Stream a file, picking a port interactively`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return &CLIError{
					Message: err.Error(),
					Hint:    "Use --log-level (error|warn|info|debug)",
					Code:    ExitUsage,
				}
			}
			opts.logger = logger
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/grblsend/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (error|warn|info|debug)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSendCmd(opts))

	return rootCmd
}

// newLogger builds the stderr text logger.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	})), nil
}
