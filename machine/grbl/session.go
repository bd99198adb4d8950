package grbl

import (
	"errors"
	"fmt"
)

var (
	// ErrAckPending is returned when an acknowledged command is sent while
	// another is still waiting for its ok.
	ErrAckPending = errors.New("previous command not acknowledged")

	// ErrPatchPending is returned when a paired command is sent while the
	// deferred state change of an earlier one has not been applied.
	ErrPatchPending = errors.New("deferred state change already pending")
)

// State is a snapshot of the controller session. Transitions return a new
// State and never modify the receiver.
type State struct {
	Ready       bool
	Homing      bool
	Homed       bool
	Locked      bool
	AwaitingAck bool

	// PendingCommand is the command whose deferred patch will be applied on
	// the next ok, or empty.
	PendingCommand string `json:",omitempty"`
	pending        *patch

	Status Status
}

// HasPending reports whether a deferred patch is scheduled.
func (s State) HasPending() bool { return s.pending != nil }

// Send returns the state after cmd has been written.
func (s State) Send(cmd string) (State, error) {
	if !RequiresAck(cmd) {
		return s, nil
	}
	if s.AwaitingAck {
		return s, ErrAckPending
	}

	key := normalizeCommand(cmd)
	p, paired := pairings[key]
	if paired && s.pending != nil {
		return s, fmt.Errorf("send %s: %w (scheduled by %s)", key, ErrPatchPending, s.PendingCommand)
	}

	s.AwaitingAck = true
	if paired {
		s = p.before.apply(s)
		after := p.after
		s.pending = &after
		s.PendingCommand = key
	}
	return s, nil
}

// Ack returns the state after an ok. A pending patch is applied once and
// cleared.
func (s State) Ack() State {
	s.AwaitingAck = false
	if s.pending != nil {
		s = s.pending.apply(s)
		s.pending = nil
		s.PendingCommand = ""
	}
	return s
}

// Observe merges a status report. It never affects AwaitingAck.
func (s State) Observe(stat Status) State {
	s.Status = s.Status.merge(stat)
	return s
}

// Fault returns the terminal fault for an alarm or error response, or nil.
// An alarm leaves the controller locked.
func (s State) Fault(r Response) (State, *Fault) {
	switch r.Kind {
	case KindAlarm:
		s.Locked = true
		return s, &Fault{Kind: FaultAlarm, Code: r.Code, Line: r.Raw}
	case KindError:
		return s, &Fault{Kind: FaultError, Code: r.Code, Line: r.Raw}
	}
	return s, nil
}

// Apply dispatches a classified response to the matching transition.
func (s State) Apply(r Response) (State, *Fault) {
	switch r.Kind {
	case KindWelcome:
		s.Ready = true
	case KindOk:
		s = s.Ack()
	case KindStatus:
		s = s.Observe(ParseStatus(r.Raw))
	case KindMessage:
		if r.Text == lockedMessage {
			s.Locked = true
		}
		if r.Blocking {
			return s, &Fault{Kind: FaultMessage, Line: r.Raw, Message: r.Text}
		}
	case KindAlarm, KindError:
		return s.Fault(r)
	}
	return s, nil
}

// Writer sends commands to the controller.
type Writer interface {
	WriteLine(line string) error
	WriteByte(b byte) error
}

// Session couples the session state with the transport it writes to.
type Session struct {
	w     Writer
	state State
}

// NewSession returns a not-ready session writing to w.
func NewSession(w Writer) *Session {
	return &Session{w: w}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// SendCommand writes line and records the state change. Nothing is written
// if the command would break the single in-flight rule.
func (s *Session) SendCommand(line string) error {
	next, err := s.state.Send(line)
	if err != nil {
		return err
	}
	err = s.w.WriteLine(line)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Poll requests a status report with the real-time '?' byte. It bypasses
// the acknowledgment gate and leaves the state unchanged.
func (s *Session) Poll() error { return s.w.WriteByte(CmdStatus[0]) }

// OnAck handles an ok.
func (s *Session) OnAck() { s.state = s.state.Ack() }

// OnStatusReport merges a status snapshot.
func (s *Session) OnStatusReport(stat Status) { s.state = s.state.Observe(stat) }

// OnFault handles an alarm or error, returning the fault that ends the job.
func (s *Session) OnFault(r Response) *Fault {
	var f *Fault
	s.state, f = s.state.Fault(r)
	return f
}

// Handle applies any classified response.
func (s *Session) Handle(r Response) *Fault {
	var f *Fault
	s.state, f = s.state.Apply(r)
	return f
}
