package gcode

import "errors"

// ErrMultipleFiles is returned by NewBuffer when more than one file is given.
var ErrMultipleFiles = errors.New("sending multiple files is not implemented")

// Buffer is the ordered queue of command lines for a single job.
//
// It is built once from the init, file and end phases and consumed front to
// back. Consumption never rewinds, so once Done reports true it stays true.
type Buffer struct {
	lines []string
	n     int
}

// NewBuffer concatenates the init commands, the lines of at most one file and
// the end commands, in that order. Empty phases contribute nothing.
func NewBuffer(init, end []string, files ...[]string) (*Buffer, error) {
	if len(files) > 1 {
		return nil, ErrMultipleFiles
	}

	var fileLines []string
	if len(files) == 1 {
		fileLines = files[0]
	}

	lines := make([]string, 0, len(init)+len(fileLines)+len(end))
	lines = append(lines, init...)
	lines = append(lines, fileLines...)
	lines = append(lines, end...)

	return &Buffer{lines: lines}, nil
}

// Advance removes and returns the front line. It returns false once the
// buffer is exhausted.
func (b *Buffer) Advance() (string, bool) {
	if b.Done() {
		return "", false
	}
	line := b.lines[b.n]
	b.n++
	return line, true
}

// Peek returns the line offset positions from the front without consuming it.
func (b *Buffer) Peek(offset int) (string, bool) {
	i := b.n + offset
	if offset < 0 || i >= len(b.lines) {
		return "", false
	}
	return b.lines[i], true
}

// NextRealLine returns the first non-comment line from the front without
// consuming anything.
func (b *Buffer) NextRealLine() (string, bool) {
	for i := b.n; i < len(b.lines); i++ {
		if !IsComment(b.lines[i]) {
			return b.lines[i], true
		}
	}
	return "", false
}

// Done reports whether no lines remain.
func (b *Buffer) Done() bool { return b.n >= len(b.lines) }

// Len returns the number of lines remaining.
func (b *Buffer) Len() int { return len(b.lines) - b.n }

// Consumed returns the number of lines advanced past so far.
func (b *Buffer) Consumed() int { return b.n }

// Clear drops all remaining lines. It is safe to call more than once.
func (b *Buffer) Clear() {
	b.lines = nil
	b.n = 0
}
