package gcode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadLines returns the lines of r in order. Trailing carriage returns are
// stripped and blank lines dropped; comments are kept.
func ReadLines(r io.Reader) ([]string, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	var lines []string
	for {
		s, err := br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}

		s = strings.TrimRight(s, "\r\n")
		if IsBlank(s) {
			continue
		}
		lines = append(lines, s)
	}
}

// ReadFile reads the lines of the file at path, see ReadLines.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
