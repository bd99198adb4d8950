package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mastercactapus/grblsend/machine"
)

func printPorts(w io.Writer, ports []string) {
	for i, p := range ports {
		fmt.Fprintf(w, "%d. %s\n", i+1, p)
	}
}

// selectPort picks a port from ports, asking on in when there is more than
// one. The answer may be a list number or a path.
func selectPort(in io.Reader, out io.Writer, ports []string) (string, error) {
	switch len(ports) {
	case 0:
		return "", &CLIError{
			Message: "No serial ports found",
			Hint:    "Connect the controller or pass --port",
			Code:    ExitUsage,
		}
	case 1:
		return ports[0], nil
	}

	printPorts(out, ports)
	fmt.Fprint(out, "Select a port (number or path): ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return "", &CLIError{Message: "Read port selection", Cause: err, Code: ExitUsage}
	}
	answer = strings.TrimSpace(answer)

	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(ports) {
			return "", &ValidationError{Arg: "port selection", Value: answer, Reason: fmt.Sprintf("pick 1-%d", len(ports))}
		}
		return ports[n-1], nil
	}

	for _, p := range ports {
		if p == answer {
			return p, nil
		}
	}
	if err := machine.ValidatePort(answer); err != nil {
		return "", &ValidationError{Arg: "port", Value: answer, Reason: "no such device", Err: err}
	}
	return answer, nil
}
