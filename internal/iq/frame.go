package iq

const (
	// BytesPerSample is the wire size of one complex sample: int16 real, int16 imaginary
	BytesPerSample = 4

	// TimestampSize is the wire size of the frame timestamp part
	TimestampSize = 8
)

const (
	// TokenNew opens a new capture session
	TokenNew Token = "new"

	// TokenStop closes the open capture session and ends the writer
	TokenStop Token = "stop"
)

// Token is an out-of-band session-control message carried on the same intake as frames
type Token string

func (t Token) String() string {
	return string(t)
}

// IsToken reports whether s is one of the session-control tokens
func IsToken(s string) bool {
	return s == string(TokenNew) || s == string(TokenStop)
}

// Sample is a single complex IQ sample
type Sample struct {
	Real int16
	Imag int16
}

// Frame is one unit of telemetry received from the base station
type Frame struct {
	Direction Direction  // Stream the frame was published on
	Timestamp uint64     // Base station timestamp, opaque to this system
	Antennas  [][]Sample // Decoded samples, one slice per antenna
}

// AntennaCount returns the number of antennas carried by the frame
func (f *Frame) AntennaCount() int {
	return len(f.Antennas)
}

// SampleCount returns the number of samples of the first antenna, or 0 when the frame
// carries no antennas. Antennas are expected, but not required, to be equal in length.
func (f *Frame) SampleCount() int {
	if len(f.Antennas) == 0 {
		return 0
	}
	return len(f.Antennas[0])
}

// Message is the decoded form of one intake message: either a Token or a Frame
type Message struct {
	Token Token
	Frame *Frame
}

// IsToken reports whether the message is a session-control token
func (m Message) IsToken() bool {
	return m.Token != ""
}
