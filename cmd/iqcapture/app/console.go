package app

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/roman-kulish/iq-capture/internal/control"
)

var burstPattern = regexp.MustCompile(`^(\d+)(tx|rx|all)$`)

// Action is an operator console input resolved to what the pipeline should do
type Action struct {
	Quit    bool
	Command control.Command

	// NewSession makes the pipeline open a capture file before sending Command
	NewSession bool
}

// ParseCommand resolves one console line. Input is trimmed and lower-cased.
func ParseCommand(line string) (Action, error) {
	line = strings.ToLower(strings.TrimSpace(line))

	switch line {
	case "q":
		return Action{Quit: true}, nil
	case "ctx":
		return Action{Command: control.SetTX(control.Continuous), NewSession: true}, nil
	case "stx":
		return Action{Command: control.SetTX(control.Halt)}, nil
	case "crx":
		return Action{Command: control.SetRX(control.Continuous), NewSession: true}, nil
	case "srx":
		return Action{Command: control.SetRX(control.Halt)}, nil
	}

	m := burstPattern.FindStringSubmatch(line)
	if m == nil {
		return Action{}, fmt.Errorf("invalid command '%s'", line)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Action{}, fmt.Errorf("invalid packet count '%s': %w", m[1], err)
	}

	var cmd control.Command
	switch m[2] {
	case "tx":
		cmd = control.SetTX(n)
	case "rx":
		cmd = control.SetRX(n)
	default:
		cmd = control.All(n)
	}

	// "0tx" is a halt spelled as a burst
	return Action{Command: cmd, NewSession: n > 0}, nil
}

// PrintMenu writes the console help to w
func PrintMenu(w io.Writer) {
	rule := strings.Repeat("=", 40)

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "        IQ Stream Controller")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  <num>all    : Stream <num> RX and TX packets")
	fmt.Fprintln(w, "  --- TX Commands ---")
	fmt.Fprintln(w, "  ctx         : Stream TX continuously (-1)")
	fmt.Fprintln(w, "  stx         : Stop streaming TX (0)")
	fmt.Fprintln(w, "  <num>tx     : Stream <num> TX packets (e.g. 100tx)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  --- RX Commands ---")
	fmt.Fprintln(w, "  crx         : Stream RX continuously (-1)")
	fmt.Fprintln(w, "  srx         : Stop streaming RX (0)")
	fmt.Fprintln(w, "  <num>rx     : Stream <num> RX packets (e.g. 100rx)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  --- General ---")
	fmt.Fprintln(w, "  q           : Quit")
	fmt.Fprintln(w, rule)
}
