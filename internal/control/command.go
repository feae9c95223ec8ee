package control

import "fmt"

const (
	// Continuous asks the base station to stream until told otherwise
	Continuous = -1

	// Halt asks the base station to stop streaming
	Halt = 0
)

// Command is a control request understood by the base station. The text is not
// validated locally, the base station is the authority on its vocabulary.
type Command string

func (c Command) String() string {
	return string(c)
}

// SetTX sets the TX stream cadence: Continuous, Halt or a burst of n frames
func SetTX(n int) Command {
	return Command(fmt.Sprintf("set_tx %d", n))
}

// SetRX sets the RX stream cadence: Continuous, Halt or a burst of n frames
func SetRX(n int) Command {
	return Command(fmt.Sprintf("set_rx %d", n))
}

// All sets the cadence of both streams
func All(n int) Command {
	return Command(fmt.Sprintf("all %d", n))
}
