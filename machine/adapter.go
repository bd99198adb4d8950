package machine

// A Transport is a duplex, line-oriented channel to a controller.
type Transport interface {
	// WriteLine sends one command; the transport appends the newline.
	WriteLine(line string) error

	// WriteByte sends a single real-time command byte, such as '?', with
	// no line delimiter.
	WriteByte(b byte) error

	// Lines delivers inbound lines without their delimiter. It is closed
	// when the connection ends.
	Lines() <-chan string

	// Err returns the error that closed Lines, if any.
	Err() error

	Close() error
}
