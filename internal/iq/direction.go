package iq

const (
	RX Direction = iota
	TX
)

const (
	// TopicRX is the default publisher topic of the received samples stream
	TopicRX = "rx_stream"

	// TopicTX is the default publisher topic of the transmitted samples stream
	TopicTX = "tx_stream"
)

// Direction is the sample stream direction
type Direction uint8

// Directions lists all directions in a stable order
var Directions = [...]Direction{RX, TX}

func (d Direction) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	default:
		return "unknown"
	}
}

// Group returns the name of the capture file group holding the direction tables
func (d Direction) Group() string {
	return d.String() + "_group"
}

// Topics binds publisher topics to directions. It is the only place the
// topic-to-direction mapping is defined.
type Topics struct {
	RX string `yaml:"rx"`
	TX string `yaml:"tx"`
}

// DefaultTopics returns the rx_stream/tx_stream mapping
func DefaultTopics() Topics {
	return Topics{RX: TopicRX, TX: TopicTX}
}

// Direction returns the direction bound to topic
func (t Topics) Direction(topic string) (Direction, bool) {
	switch topic {
	case t.RX:
		return RX, true
	case t.TX:
		return TX, true
	default:
		return 0, false
	}
}

// Topic returns the topic bound to d
func (t Topics) Topic(d Direction) string {
	if d == TX {
		return t.TX
	}
	return t.RX
}
