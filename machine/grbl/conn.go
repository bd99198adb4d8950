package grbl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by WriteLine after Close.
var ErrClosed = errors.New("grbl: connection closed")

// Conn is a line-oriented connection to a Grbl controller.
//
// Inbound data is split on newlines, with any trailing carriage return
// removed, and delivered in order on Lines. Outbound commands are written as
// the raw text followed by a newline.
type Conn struct {
	rw io.ReadWriter

	lines   chan string
	closeCh chan struct{}
	once    sync.Once

	mx  sync.Mutex
	wMx sync.Mutex
	err error
}

// NewConn starts reading lines from rw.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:      rw,
		lines:   make(chan string),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func splitLinesTrimCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte("\r")), nil
	}
	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte("\r")), nil
	}
	return 0, nil, nil
}

func (c *Conn) readLoop() {
	defer close(c.lines)

	scan := bufio.NewScanner(c.rw)
	scan.Split(splitLinesTrimCR)
	for scan.Scan() {
		select {
		case c.lines <- scan.Text():
		case <-c.closeCh:
			return
		}
	}

	c.mx.Lock()
	c.err = scan.Err()
	c.mx.Unlock()
}

// Lines returns the inbound line stream. It is closed when the underlying
// reader fails or reaches EOF, or when the Conn is closed.
func (c *Conn) Lines() <-chan string { return c.lines }

// Err returns the read error that ended Lines, if any.
func (c *Conn) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.err
}

// WriteLine writes line followed by a newline.
func (c *Conn) WriteLine(line string) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	c.wMx.Lock()
	_, err := io.WriteString(c.rw, line+"\n")
	c.wMx.Unlock()
	return err
}

// WriteByte writes a real-time command byte directly, without a newline.
//
// Use for commands like `?` that Grbl handles outside the line buffer.
func (c *Conn) WriteByte(b byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	c.wMx.Lock()
	_, err := c.rw.Write([]byte{b})
	c.wMx.Unlock()
	return err
}

// Close stops delivering lines and closes the underlying ReadWriter, if it
// implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}
