package iq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSamples_RoundTrip(t *testing.T) {
	want := []Sample{{Real: 100, Imag: -50}, {Real: 0, Imag: 32767}}

	buf := EncodeSamples(want)
	require.Len(t, buf, 8)
	assert.Equal(t, []byte{0x00, 0x64, 0xff, 0xce, 0x00, 0x00, 0x7f, 0xff}, buf)

	got, err := DecodeSamples(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeSamples_BigEndian(t *testing.T) {
	got, err := DecodeSamples([]byte{0x80, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Real: -32768, Imag: 1}}, got)
}

func TestDecodeSamples_NotMultipleOfFour(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7} {
		_, err := DecodeSamples(make([]byte, n))
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr), "length %d should fail", n)
	}
}

func TestDecoder_Tokens(t *testing.T) {
	d := NewDecoder(DefaultTopics())

	for _, token := range []Token{TokenNew, TokenStop} {
		msg, err := d.Decode(EncodeToken(token))
		require.NoError(t, err)
		assert.True(t, msg.IsToken())
		assert.Equal(t, token, msg.Token)
		assert.Nil(t, msg.Frame)
	}

	_, err := d.Decode([][]byte{[]byte("new"), []byte("extra")})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, -1, decodeErr.Part)
}

func TestDecoder_Frame(t *testing.T) {
	d := NewDecoder(DefaultTopics())

	testCases := []struct {
		name      string
		topic     string
		direction Direction
		antennas  [][]Sample
	}{
		{"rx single antenna", TopicRX, RX, [][]Sample{{{Real: 1, Imag: 2}, {Real: 3, Imag: 4}}}},
		{"tx two antennas", TopicTX, TX, [][]Sample{{{Real: 1, Imag: 2}}, {{Real: -1, Imag: -2}}}},
		{"rx no antennas", TopicRX, RX, [][]Sample{}},
		{"rx uneven antennas", TopicRX, RX, [][]Sample{{{Real: 1, Imag: 1}, {Real: 2, Imag: 2}, {Real: 3, Imag: 3}}, {{Real: 4, Imag: 4}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parts := [][]byte{[]byte(tc.topic), EncodeTimestamp(1000)}
			for _, a := range tc.antennas {
				parts = append(parts, EncodeSamples(a))
			}

			msg, err := d.Decode(parts)
			require.NoError(t, err)
			require.False(t, msg.IsToken())
			require.NotNil(t, msg.Frame)

			f := msg.Frame
			assert.Equal(t, tc.direction, f.Direction)
			assert.Equal(t, uint64(1000), f.Timestamp)
			assert.Equal(t, len(parts)-2, f.AntennaCount())
			for i, a := range tc.antennas {
				assert.Len(t, f.Antennas[i], len(parts[i+2])/BytesPerSample)
				assert.Equal(t, a, f.Antennas[i])
			}
			if len(tc.antennas) == 0 {
				assert.Equal(t, 0, f.SampleCount())
			}
		})
	}
}

func TestDecoder_Errors(t *testing.T) {
	d := NewDecoder(DefaultTopics())

	testCases := []struct {
		name  string
		parts [][]byte
		part  int
	}{
		{"empty", nil, -1},
		{"unknown topic", [][]byte{[]byte("status"), EncodeTimestamp(1)}, 0},
		{"missing timestamp", [][]byte{[]byte(TopicRX)}, -1},
		{"short timestamp", [][]byte{[]byte(TopicRX), {1, 2, 3}}, 1},
		{"truncated antenna", [][]byte{[]byte(TopicTX), EncodeTimestamp(1), make([]byte, 8), make([]byte, 6)}, 3},
		{"invalid utf8", [][]byte{{0xff, 0xfe}}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode(tc.parts)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, tc.part, decodeErr.Part)
		})
	}
}

func TestDecoder_SwappedTopics(t *testing.T) {
	d := NewDecoder(Topics{RX: TopicTX, TX: TopicRX})

	msg, err := d.Decode([][]byte{[]byte(TopicRX), EncodeTimestamp(7)})
	require.NoError(t, err)
	assert.Equal(t, TX, msg.Frame.Direction)
}

func TestEncodeFrame(t *testing.T) {
	topics := DefaultTopics()
	f := &Frame{
		Direction: TX,
		Timestamp: 42,
		Antennas:  [][]Sample{{{Real: 100, Imag: -50}, {Real: 0, Imag: 32767}}, {{Real: -1, Imag: 1}, {Real: 2, Imag: -2}}},
	}

	parts := EncodeFrame(topics, f)
	require.Len(t, parts, 4)
	assert.Equal(t, TopicTX, string(parts[0]))

	msg, err := NewDecoder(topics).Decode(parts)
	require.NoError(t, err)
	assert.Equal(t, f, msg.Frame)
}

func TestDirection_Group(t *testing.T) {
	assert.Equal(t, "rx_group", RX.Group())
	assert.Equal(t, "tx_group", TX.Group())
}
