// Package machine opens and enumerates the transports used to reach a
// controller.
package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the Grbl default serial speed.
const DefaultBaud = 115200

// ErrPortNotFound is returned when a port is not among the available ports.
var ErrPortNotFound = errors.New("port does not exist")

var enumerate = enumerator.GetDetailedPortsList

// ListPorts returns the paths of the serial devices reported by the OS,
// sorted.
func ListPorts() ([]string, error) {
	details, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	res := make([]string, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		res = append(res, d.Name)
	}
	sort.Strings(res)
	return res, nil
}

// ValidatePort checks that path is one of the available ports or at least
// an existing non-directory file. Enumeration failures fall back to the
// file check.
func ValidatePort(path string) error {
	ports, _ := ListPorts()
	for _, p := range ports {
		if p == path {
			return nil
		}
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrPortNotFound)
	}
	return nil
}

// OpenSerial opens the serial device at path.
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: path, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
