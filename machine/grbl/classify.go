package grbl

import "strings"

// DefaultBanner is the welcome line Grbl prints after a reset.
const DefaultBanner = "Grbl 1.1h ['$' for help]"

// Kind identifies the class of a line received from the controller.
type Kind int

// Response kinds. Every line belongs to exactly one.
const (
	KindUnrecognized Kind = iota
	KindWelcome
	KindOk
	KindStatus
	KindMessage
	KindAlarm
	KindError
	KindSetting
)

func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return "welcome"
	case KindOk:
		return "ok"
	case KindStatus:
		return "status"
	case KindMessage:
		return "message"
	case KindAlarm:
		return "alarm"
	case KindError:
		return "error"
	case KindSetting:
		return "setting"
	}
	return "unrecognized"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Messages that end a job when received as a [MSG:...] notice.
var blockingMessages = map[string]bool{
	"Reset to continue": true,
	"Pgm End":           true,
	"Check Limits":      true,
}

const lockedMessage = "'$H'|'$X' to unlock"

// Response is a classified line.
type Response struct {
	Kind Kind
	Raw  string

	// Code is the alarm, error or setting number.
	Code string

	// Text is the payload of a message notice.
	Text string

	// Blocking is set for message notices that end the job.
	Blocking bool
}

// Terminal reports whether r ends the job by itself.
func (r Response) Terminal() bool {
	return r.Kind == KindAlarm || r.Kind == KindError || r.Blocking
}

// Classifier buckets inbound lines. The zero value expects DefaultBanner.
type Classifier struct {
	Banner string
}

// Classify uses a zero Classifier.
func Classify(line string) Response { return Classifier{}.Classify(line) }

// Classify returns the class of one decoded line. The checks are structural
// and mutually exclusive; anything else is KindUnrecognized.
func (c Classifier) Classify(line string) Response {
	banner := c.Banner
	if banner == "" {
		banner = DefaultBanner
	}
	r := Response{Raw: line}

	switch {
	case line == "ok":
		r.Kind = KindOk
	case line == banner:
		r.Kind = KindWelcome
	case len(line) >= 2 && line[0] == '<' && line[len(line)-1] == '>':
		r.Kind = KindStatus
	case strings.HasPrefix(line, "[MSG:") && strings.HasSuffix(line, "]"):
		r.Kind = KindMessage
		r.Text = strings.TrimSuffix(afterColon(line), "]")
		r.Blocking = blockingMessages[r.Text]
	case strings.HasPrefix(line, "ALARM"):
		r.Kind = KindAlarm
		r.Code = afterColon(line)
	case strings.HasPrefix(line, "error"):
		r.Kind = KindError
		r.Code = afterColon(line)
	case strings.HasPrefix(line, "$") && !strings.HasPrefix(line, "$N"):
		r.Kind = KindSetting
		r.Code = line[1:]
		if i := strings.IndexByte(r.Code, '='); i >= 0 {
			r.Code = r.Code[:i]
		}
	}

	return r
}

func afterColon(s string) string {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}
