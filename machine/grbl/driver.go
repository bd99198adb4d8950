package grbl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mastercactapus/grblsend/gcode"
	"github.com/mastercactapus/grblsend/machine"
)

// Outcome is how a job ended.
type Outcome string

// Job outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCanceled  Outcome = "canceled"
)

// Result summarizes a finished job.
type Result struct {
	ID       string
	Outcome  Outcome
	Fault    *Fault `json:",omitempty"`
	Sent     int
	Duration time.Duration
	State    State
}

// Success reports whether every line was sent and acknowledged.
func (r *Result) Success() bool { return r.Outcome == OutcomeCompleted }

// EventKind identifies a driver event.
type EventKind string

// Driver events.
const (
	EventReceived EventKind = "received"
	EventSent     EventKind = "sent"
	EventDone     EventKind = "done"
)

// Event is emitted by the driver for every line received or sent, and once
// when the job ends.
type Event struct {
	JobID     string
	Kind      EventKind
	Time      time.Time
	Line      string
	Response  Response
	State     State
	Sent      int
	Remaining int
	Result    *Result `json:",omitempty"`
}

// Config holds the job settings for a Driver.
type Config struct {
	// ID identifies the job in logs and events.
	ID string

	Classifier Classifier

	// AckTimeout ends the job when an acknowledged command, or the welcome
	// banner, gets no answer in time. Zero waits forever.
	AckTimeout time.Duration

	// StatusInterval sends a real-time status poll at this interval once
	// the controller is ready. Zero disables polling.
	StatusInterval time.Duration

	// AssumeReady starts sending without waiting for the welcome banner.
	AssumeReady bool

	Logger *slog.Logger

	// OnEvent is called synchronously from the driver loop and must not
	// block.
	OnEvent func(Event)
}

// Driver streams a Buffer to a controller one acknowledged command at a
// time.
type Driver struct {
	cfg     Config
	t       machine.Transport
	buf     *gcode.Buffer
	session *Session
	log     *slog.Logger

	started  time.Time
	deadline time.Time
	sent     int
	last     string

	// answered is false from a send until the next non-status line.
	answered bool
}

// NewDriver prepares a job streaming buf over t.
func NewDriver(t machine.Transport, buf *gcode.Buffer, cfg Config) *Driver {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Driver{
		cfg:      cfg,
		t:        t,
		buf:      buf,
		session:  NewSession(t),
		log:      log,
		answered: true,
	}
	if cfg.AssumeReady {
		d.session.state.Ready = true
	}
	return d
}

// State returns the current session state.
func (d *Driver) State() State { return d.session.State() }

func (d *Driver) emit(e Event) {
	if d.cfg.OnEvent == nil {
		return
	}
	e.JobID = d.cfg.ID
	e.Time = time.Now()
	e.State = d.session.State()
	e.Sent = d.sent
	e.Remaining = d.buf.Len()
	d.cfg.OnEvent(e)
}

// waiting reports whether the driver expects an answer from the controller.
// Status reports never count as one, since they cannot advance the job.
func (d *Driver) waiting() bool {
	st := d.session.State()
	return st.AwaitingAck || !st.Ready || !d.answered
}

// Run streams the job until it completes, a fault is seen, the transport
// closes or ctx is canceled. Every ending yields a Result; the error is
// reserved for broken invariants.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.start()
	d.log.Info("job started", "lines", d.buf.Len())

	if d.session.State().Ready {
		res, err := d.sendNext()
		if res != nil || err != nil {
			return res, err
		}
	}

	var pollC <-chan time.Time
	if d.cfg.StatusInterval > 0 {
		t := time.NewTicker(d.cfg.StatusInterval)
		defer t.Stop()
		pollC = t.C
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	lines := d.t.Lines()
	for {
		var timeoutC <-chan time.Time
		if d.cfg.AckTimeout > 0 && d.waiting() {
			timer.Reset(time.Until(d.deadline))
			timeoutC = timer.C
		}

		select {
		case <-ctx.Done():
			return d.finish(OutcomeCanceled, nil), nil
		case <-timeoutC:
			msg := "no response from controller"
			switch st := d.session.State(); {
			case st.AwaitingAck:
				msg = fmt.Sprintf("no acknowledgment within %s", d.cfg.AckTimeout)
			case st.Ready:
				msg = fmt.Sprintf("no response within %s", d.cfg.AckTimeout)
			}
			return d.finish(OutcomeAborted, &Fault{Kind: FaultTimeout, Message: msg, Command: d.last}), nil
		case <-pollC:
			if !d.session.State().Ready {
				continue
			}
			err := d.session.Poll()
			if err != nil {
				return d.finish(OutcomeAborted, &Fault{Kind: FaultTransport, Message: err.Error(), Command: d.last}), nil
			}
		case line, ok := <-lines:
			if !ok {
				msg := "connection closed"
				if err := d.t.Err(); err != nil {
					msg = err.Error()
				}
				return d.finish(OutcomeAborted, &Fault{Kind: FaultTransport, Message: msg, Command: d.last}), nil
			}
			res, err := d.Handle(line)
			if res != nil || err != nil {
				return res, err
			}
		}
	}
}

func (d *Driver) start() {
	if !d.started.IsZero() {
		return
	}
	d.started = time.Now()
	d.deadline = d.started.Add(d.cfg.AckTimeout)
}

// Handle processes one inbound line and sends the next command if the
// controller is ready for it. It returns a Result once the job has ended.
func (d *Driver) Handle(line string) (*Result, error) {
	d.start()

	r := d.cfg.Classifier.Classify(line)
	if r.Kind == KindStatus {
		d.session.OnStatusReport(ParseStatus(line))
		d.emit(Event{Kind: EventReceived, Line: line, Response: r})
		return nil, nil
	}

	d.log.Debug("rx", "line", line, "kind", r.Kind.String())
	if r.Kind == KindSetting {
		d.log.Debug("setting", "code", r.Code, "description", SettingDescription(r.Code))
	}

	d.answered = true
	wasReady := d.session.State().Ready
	f := d.session.Handle(r)
	d.emit(Event{Kind: EventReceived, Line: line, Response: r})

	if r.Kind == KindWelcome && wasReady && d.sent > 0 {
		f = &Fault{Kind: FaultReset, Line: line, Message: "controller reset during job"}
	}
	if f != nil {
		f.Command = d.last
		return d.finish(OutcomeAborted, f), nil
	}
	if d.buf.Done() && !d.session.State().AwaitingAck {
		return d.finish(OutcomeCompleted, nil), nil
	}

	return d.sendNext()
}

// sendNext writes the next command unless one is still unacknowledged.
// Comment lines are consumed without being sent.
func (d *Driver) sendNext() (*Result, error) {
	st := d.session.State()
	if !st.Ready || st.AwaitingAck {
		return nil, nil
	}

	for {
		line, ok := d.buf.Advance()
		if !ok {
			return d.finish(OutcomeCompleted, nil), nil
		}
		if gcode.IsComment(line) {
			d.log.Debug("skip comment", "line", line)
			continue
		}

		err := d.session.SendCommand(line)
		if errors.Is(err, ErrAckPending) || errors.Is(err, ErrPatchPending) {
			return nil, err
		}
		if err != nil {
			return d.finish(OutcomeAborted, &Fault{Kind: FaultTransport, Message: err.Error(), Command: line}), nil
		}

		d.sent++
		d.last = line
		d.answered = false
		d.deadline = time.Now().Add(d.cfg.AckTimeout)
		d.log.Debug("tx", "line", line, "awaiting_ack", d.session.State().AwaitingAck)
		d.emit(Event{Kind: EventSent, Line: line})
		return nil, nil
	}
}

func (d *Driver) finish(o Outcome, f *Fault) *Result {
	d.buf.Clear()

	res := &Result{
		ID:       d.cfg.ID,
		Outcome:  o,
		Fault:    f,
		Sent:     d.sent,
		Duration: time.Since(d.started),
		State:    d.session.State(),
	}

	if f != nil {
		d.log.Warn("job aborted", "reason", f.Error(), "sent", d.sent, "duration", FormatDuration(res.Duration))
	} else {
		d.log.Info("job "+string(o), "sent", d.sent, "duration", FormatDuration(res.Duration))
	}
	d.emit(Event{Kind: EventDone, Result: res})
	return res
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
