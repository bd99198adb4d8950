package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/mastercactapus/grblsend/machine/grbl"
)

var (
	txColor      = color.New(color.FgCyan)
	okColor      = color.New(color.FgGreen)
	faultColor   = color.New(color.FgRed, color.Bold)
	noticeColor  = color.New(color.FgYellow)
	statusColor  = color.New(color.Faint)
	successColor = color.New(color.FgGreen, color.Bold)
)

// echo prints the raw conversation with the controller.
type echo struct {
	w io.Writer
}

func (e *echo) Observe(ev grbl.Event) {
	switch ev.Kind {
	case grbl.EventSent:
		txColor.Fprintf(e.w, "> %s\n", ev.Line)
	case grbl.EventReceived:
		r := ev.Response
		switch r.Kind {
		case grbl.KindOk, grbl.KindWelcome:
			okColor.Fprintf(e.w, "< %s\n", ev.Line)
		case grbl.KindAlarm, grbl.KindError:
			faultColor.Fprintf(e.w, "< %s\n", ev.Line)
		case grbl.KindMessage:
			noticeColor.Fprintf(e.w, "< %s\n", ev.Line)
		case grbl.KindStatus:
			statusColor.Fprintf(e.w, "< %s\n", ev.Line)
		case grbl.KindSetting:
			if desc := grbl.SettingDescription(r.Code); desc != "" {
				fmt.Fprintf(e.w, "< %s  %s\n", ev.Line, statusColor.Sprintf("(%s)", desc))
				return
			}
			fmt.Fprintf(e.w, "< %s\n", ev.Line)
		default:
			fmt.Fprintf(e.w, "< %s\n", ev.Line)
		}
	}
}

// printCompleted writes the summary of a successful job.
func printCompleted(w io.Writer, res *grbl.Result) {
	successColor.Fprintf(w, "✓ Job completed in %s (%d lines)\n", grbl.FormatDuration(res.Duration), res.Sent)
}
