package grbl

import (
	"strings"

	"github.com/mastercactapus/grblsend/gcode"
)

// Commands with special handling.
const (
	CmdStatus = "?"
	CmdHome   = "$H"
)

// patch is a partial update of the session flags. Nil fields are unchanged.
type patch struct {
	Homing *bool
	Homed  *bool
	Locked *bool
}

func flag(v bool) *bool { return &v }

func (p patch) apply(s State) State {
	if p.Homing != nil {
		s.Homing = *p.Homing
	}
	if p.Homed != nil {
		s.Homed = *p.Homed
	}
	if p.Locked != nil {
		s.Locked = *p.Locked
	}
	return s
}

type pairing struct {
	before, after patch
}

// pairings hold the state changes tied to a command: before is applied when
// it is sent, after on the next ok.
var pairings = map[string]pairing{
	CmdHome: {
		before: patch{Homing: flag(true)},
		after:  patch{Homed: flag(true), Homing: flag(false), Locked: flag(false)},
	},
}

func normalizeCommand(cmd string) string { return strings.ToUpper(strings.TrimSpace(cmd)) }

// RequiresAck reports whether the controller answers cmd with ok/error.
// Real-time status polls and comments are never acknowledged.
func RequiresAck(cmd string) bool {
	if gcode.IsComment(cmd) || gcode.IsBlank(cmd) {
		return false
	}
	return normalizeCommand(cmd) != CmdStatus
}

// IsStatusPoll reports whether cmd is the real-time status query.
func IsStatusPoll(cmd string) bool { return strings.TrimSpace(cmd) == CmdStatus }
