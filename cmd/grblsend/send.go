package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mastercactapus/grblsend/config"
	"github.com/mastercactapus/grblsend/gcode"
	"github.com/mastercactapus/grblsend/machine"
	"github.com/mastercactapus/grblsend/machine/grbl"
	"github.com/mastercactapus/grblsend/monitor"
	"github.com/mastercactapus/grblsend/spjs"
)

type sendOptions struct {
	files   []string
	port    string
	verbose bool
}

func newSendCmd(g *globalOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream a G-code file to the controller",
		Long: `Stream a G-code file to a Grbl controller.

The configured init commands (default "?" and "$H") are sent first, then
the file, then the end commands. Each command waits for the controller's
"ok"; the job stops on the first alarm, error or blocking message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return &CLIError{Message: "Load configuration", Cause: err, Code: ExitUsage}
			}
			for key, name := range map[string]string{
				config.KeyBaud:           "baud",
				config.KeyAckTimeout:     "ack-timeout",
				config.KeyStatusInterval: "status-interval",
				config.KeySkipWelcome:    "skip-welcome",
				config.KeySPJSURL:        "spjs",
				config.KeyMonitorAddr:    "monitor",
			} {
				if err := cfg.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}
			return runSend(cmd, cfg, opts, g.logger)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.files, "file", "f", nil, "G-code file to send")
	f.StringVarP(&opts.port, "port", "p", "", "Serial port path (or port name on the SPJS server)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Echo every line sent and received")
	f.Int("baud", machine.DefaultBaud, "Serial baud rate")
	f.Duration("ack-timeout", 0, "Abort when a command is not acknowledged in time (0 waits forever)")
	f.Duration("status-interval", 0, "Poll controller status at this interval (0 disables)")
	f.Bool("skip-welcome", false, "Start sending without waiting for the Grbl welcome banner")
	f.String("spjs", "", "Websocket URL of a Serial Port JSON Server to send through")
	f.String("monitor", "", "Serve job state and metrics on this address, e.g. :9091")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSend(cmd *cobra.Command, cfg *config.Config, opts *sendOptions, logger *slog.Logger) error {
	if len(opts.files) > 1 {
		return &CLIError{
			Message: "Only one --file can be sent per job",
			Cause:   gcode.ErrMultipleFiles,
			Code:    ExitUsage,
		}
	}
	if len(opts.files) == 0 || opts.files[0] == "" {
		return &ValidationError{Arg: "file", Reason: "empty path"}
	}
	file := opts.files[0]
	if err := validateFile(file); err != nil {
		return err
	}

	port, err := resolvePort(cmd, cfg, opts.port)
	if err != nil {
		return err
	}

	lines, err := gcode.ReadFile(file)
	if err != nil {
		return &CLIError{Message: "Read G-code", Cause: err, Code: ExitGeneral}
	}
	buf, err := gcode.NewBuffer(cfg.InitCommands(), cfg.EndCommands(), lines)
	if err != nil {
		return &CLIError{Message: "Prepare job", Cause: err, Code: ExitUsage}
	}

	ctx := cmd.Context()
	jobID := uuid.NewString()
	log := logger.With("job.id", jobID)

	t, err := openTransport(ctx, cfg, port, log)
	if err != nil {
		return &CLIError{
			Message: "Connect to controller",
			Hint:    "Check the port with 'grblsend list' and that no other program has it open",
			Cause:   err,
			Code:    ExitGeneral,
		}
	}
	defer t.Close()

	var hooks []func(grbl.Event)
	if opts.verbose {
		hooks = append(hooks, (&echo{w: cmd.OutOrStdout()}).Observe)
	}
	if addr := cfg.MonitorAddr(); addr != "" {
		mon := monitor.New(log)
		monCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := mon.ListenAndServe(monCtx, addr); err != nil {
				log.Error("monitor stopped", "err", err)
			}
		}()
		hooks = append(hooks, mon.Observe)
	}

	log.Info("sending", "file", file, "port", port, "lines", buf.Len())
	d := grbl.NewDriver(t, buf, grbl.Config{
		ID:             jobID,
		Classifier:     grbl.Classifier{Banner: cfg.Banner()},
		AckTimeout:     cfg.AckTimeout(),
		StatusInterval: cfg.StatusInterval(),
		AssumeReady:    cfg.SkipWelcome(),
		Logger:         log,
		OnEvent: func(e grbl.Event) {
			for _, h := range hooks {
				h(e)
			}
		},
	})

	res, err := d.Run(ctx)
	if err != nil {
		return &CLIError{Message: "Job failed", Cause: err, Code: ExitGeneral}
	}
	return jobError(cmd, res)
}

// jobError reports res and converts unsuccessful outcomes to an exit code.
func jobError(cmd *cobra.Command, res *grbl.Result) error {
	dur := grbl.FormatDuration(res.Duration)
	switch res.Outcome {
	case grbl.OutcomeCompleted:
		printCompleted(cmd.OutOrStdout(), res)
		return nil
	case grbl.OutcomeCanceled:
		return &CLIError{
			Message: fmt.Sprintf("Job canceled after %s (%d lines sent)", dur, res.Sent),
			Code:    ExitCanceled,
		}
	}

	e := &CLIError{
		Message: fmt.Sprintf("Job aborted after %s (%d lines sent)", dur, res.Sent),
		Code:    ExitFault,
	}
	if res.Fault != nil {
		e.Cause = res.Fault
		e.Hint = faultHint(res.Fault)
	}
	return e
}

func faultHint(f *grbl.Fault) string {
	switch f.Kind {
	case grbl.FaultAlarm:
		return "The controller is locked; home with $H or unlock with $X before the next job"
	case grbl.FaultTimeout:
		return "Raise --ack-timeout for long moves, or check the connection"
	case grbl.FaultReset:
		return "The controller restarted mid-job; check power and cabling"
	case grbl.FaultTransport:
		return "The connection to the controller was lost"
	}
	return ""
}

// validateFile checks that path names a readable regular file.
func validateFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ValidationError{Arg: "file", Value: path, Reason: "no such file", Err: err}
	}
	if err != nil {
		return &ValidationError{Arg: "file", Value: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return &ValidationError{Arg: "file", Value: path, Reason: "not a regular file"}
	}
	return nil
}

// resolvePort validates an explicit port or picks one from the available
// ports. Ports on an SPJS server are named remotely and are not checked.
func resolvePort(cmd *cobra.Command, cfg *config.Config, port string) (string, error) {
	if cfg.SPJSURL() != "" {
		if port == "" {
			return "", &CLIError{
				Message: "--port is required with --spjs",
				Hint:    "Use the port name as listed by the SPJS server",
				Code:    ExitUsage,
			}
		}
		return port, nil
	}

	if port != "" {
		if err := machine.ValidatePort(port); err != nil {
			return "", &ValidationError{Arg: "port", Value: port, Reason: "no such device", Err: err}
		}
		return port, nil
	}

	ports, err := machine.ListPorts()
	if err != nil {
		return "", &CLIError{Message: "List serial ports", Cause: err, Code: ExitGeneral}
	}
	return selectPort(cmd.InOrStdin(), cmd.OutOrStdout(), ports)
}

func openTransport(ctx context.Context, cfg *config.Config, port string, log *slog.Logger) (machine.Transport, error) {
	if url := cfg.SPJSURL(); url != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return spjs.Dial(dialCtx, url, port, cfg.Baud(), log)
	}
	rw, err := machine.OpenSerial(port, cfg.Baud())
	if err != nil {
		return nil, err
	}
	return grbl.NewConn(rw), nil
}
