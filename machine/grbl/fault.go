package grbl

import "fmt"

// FaultKind is the reason a job was aborted.
type FaultKind string

// Fault kinds.
const (
	FaultAlarm     FaultKind = "alarm"
	FaultError     FaultKind = "error"
	FaultMessage   FaultKind = "message"
	FaultTimeout   FaultKind = "timeout"
	FaultTransport FaultKind = "transport"
	FaultReset     FaultKind = "reset"
)

// Fault describes the event that ended a job early. The controller is left
// as-is; no reset or unlock is attempted.
type Fault struct {
	Kind FaultKind
	Code string `json:",omitempty"`

	// Line is the controller response that raised the fault, if any.
	Line string `json:",omitempty"`

	// Command is the last command sent before the fault.
	Command string `json:",omitempty"`

	Message string `json:",omitempty"`
}

// Description returns a human readable explanation of the fault.
func (f *Fault) Description() string {
	switch f.Kind {
	case FaultAlarm:
		if desc, ok := alarmDescriptions[f.Code]; ok {
			return desc
		}
		return "unknown alarm"
	case FaultError:
		if desc, ok := errorDescriptions[f.Code]; ok {
			return desc
		}
		return "unknown error"
	}
	return f.Message
}

func (f *Fault) Error() string {
	var s string
	switch f.Kind {
	case FaultAlarm, FaultError:
		s = fmt.Sprintf("%s %s: %s", f.Kind, f.Code, f.Description())
	default:
		s = fmt.Sprintf("%s: %s", f.Kind, f.Description())
	}
	if f.Command != "" {
		s += fmt.Sprintf(" (after %q)", f.Command)
	}
	return s
}

// SettingDescription returns the name of a $ setting, or "".
func SettingDescription(code string) string { return settingDescriptions[code] }
