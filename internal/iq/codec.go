package iq

import (
	"encoding/binary"
	"unicode/utf8"
)

// Decoder turns raw multipart intake messages into tokens and frames
type Decoder struct {
	Topics Topics
}

// NewDecoder creates a decoder for the given topic mapping
func NewDecoder(topics Topics) *Decoder {
	return &Decoder{Topics: topics}
}

// Decode interprets a multipart message.
//
// Part 0 selects the message kind. "new" and "stop" are session tokens and must not be
// followed by other parts. A stream topic is followed by an 8-byte timestamp in native
// byte order and one part per antenna holding big-endian int16 IQ pairs.
//
// Any other shape is reported as a *DecodeError.
func (d *Decoder) Decode(parts [][]byte) (Message, error) {
	if len(parts) == 0 {
		return Message{}, newDecodeError(-1, "empty message")
	}
	if !utf8.Valid(parts[0]) {
		return Message{}, newDecodeError(0, "topic is not valid UTF-8")
	}

	head := string(parts[0])
	if IsToken(head) {
		if len(parts) > 1 {
			return Message{}, newDecodeError(-1, "token %q followed by %d extra parts", head, len(parts)-1)
		}
		return Message{Token: Token(head)}, nil
	}

	direction, ok := d.Topics.Direction(head)
	if !ok {
		return Message{}, newDecodeError(0, "unrecognized topic %q", head)
	}

	if len(parts) < 2 {
		return Message{}, newDecodeError(-1, "%s frame without timestamp", direction)
	}
	if len(parts[1]) != TimestampSize {
		return Message{}, newDecodeError(1, "timestamp must be %d bytes, got %d", TimestampSize, len(parts[1]))
	}

	frame := Frame{
		Direction: direction,
		Timestamp: binary.NativeEndian.Uint64(parts[1]),
		Antennas:  make([][]Sample, len(parts)-2),
	}

	for i, buf := range parts[2:] {
		if len(buf)%BytesPerSample != 0 {
			return Message{}, newDecodeError(i+2, "antenna %d: length %d is not a multiple of %d", i, len(buf), BytesPerSample)
		}
		frame.Antennas[i] = decodeSamples(buf)
	}

	return Message{Frame: &frame}, nil
}

// DecodeSamples reinterprets buf as big-endian int16 words and pairs them into
// samples. The buffer length must be a multiple of BytesPerSample.
func DecodeSamples(buf []byte) ([]Sample, error) {
	if len(buf)%BytesPerSample != 0 {
		return nil, newDecodeError(-1, "buffer length %d is not a multiple of %d", len(buf), BytesPerSample)
	}
	return decodeSamples(buf), nil
}

func decodeSamples(buf []byte) []Sample {
	samples := make([]Sample, len(buf)/BytesPerSample)
	for i := range samples {
		off := i * BytesPerSample
		samples[i] = Sample{
			Real: int16(binary.BigEndian.Uint16(buf[off:])),
			Imag: int16(binary.BigEndian.Uint16(buf[off+2:])),
		}
	}
	return samples
}

// EncodeSamples is the inverse of DecodeSamples
func EncodeSamples(samples []Sample) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		off := i * BytesPerSample
		binary.BigEndian.PutUint16(buf[off:], uint16(s.Real))
		binary.BigEndian.PutUint16(buf[off+2:], uint16(s.Imag))
	}
	return buf
}

// EncodeTimestamp encodes ts the way the base station does, in native byte order
func EncodeTimestamp(ts uint64) []byte {
	buf := make([]byte, TimestampSize)
	binary.NativeEndian.PutUint64(buf, ts)
	return buf
}

// EncodeFrame builds the wire form of a frame: topic, timestamp, then one part per antenna
func EncodeFrame(topics Topics, f *Frame) [][]byte {
	parts := make([][]byte, 0, len(f.Antennas)+2)
	parts = append(parts, []byte(topics.Topic(f.Direction)), EncodeTimestamp(f.Timestamp))
	for _, antenna := range f.Antennas {
		parts = append(parts, EncodeSamples(antenna))
	}
	return parts
}

// EncodeToken builds the single-part wire form of a token
func EncodeToken(t Token) [][]byte {
	return [][]byte{[]byte(t)}
}
