package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncode_Layout(t *testing.T) {
	frame, err := Encode(New(CommandGame, "Arena"))
	require.NoError(t, err)

	payload := `{"command":"game","message":"Arena"}`
	require.Len(t, frame, HeaderSize+len(payload))
	assert.Equal(t, uint16(len(payload)), binary.LittleEndian.Uint16(frame))
	assert.Equal(t, payload, string(frame[HeaderSize:]))
}

func TestEncode_TooLarge(t *testing.T) {
	_, err := Encode(New(CommandBye, strings.Repeat("a", MaxPayload+1)))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestEncode_ExactlyMaxPayload(t *testing.T) {
	overhead := len(`{"command":"x","message":""}`)
	frame, err := Encode(New("x", strings.Repeat("a", MaxPayload-overhead)))
	require.NoError(t, err)
	assert.Equal(t, uint16(MaxPayload), binary.LittleEndian.Uint16(frame))

	_, err = Encode(New("x", strings.Repeat("a", MaxPayload-overhead+1)))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadPacket_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, New(CommandWelcome, "hi")))
	require.NoError(t, WritePacket(&buf, New(CommandBye, "later")))

	p, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, New(CommandWelcome, "hi"), p)

	p, err = ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, New(CommandBye, "later"), p)

	_, err = ReadPacket(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacket_ShortHeader(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader([]byte{0x05}))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReadPacket_ShortPayload(t *testing.T) {
	frame, err := Encode(New(CommandGame, "Arena"))
	require.NoError(t, err)

	_, err = ReadPacket(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestReadPacket_Malformed(t *testing.T) {
	body := []byte("{not json")
	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[HeaderSize:], body)

	_, err := ReadPacket(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrMalformed)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWritePacket_PropagatesWriteError(t *testing.T) {
	err := WritePacket(failingWriter{}, New(CommandBye, ""))
	assert.Error(t, err)
}

func TestPacketString(t *testing.T) {
	assert.Equal(t, `game:"Arena"`, New(CommandGame, "Arena").String())
}

// Property: decode(encode(p)) == p for every packet that fits in a frame.
func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Packet{
			Command: rapid.String().Draw(t, "command"),
			Message: rapid.StringN(0, 2048, -1).Draw(t, "message"),
		}
		frame, err := Encode(p)
		if err != nil {
			t.Fatalf("encode %v: %v", p, err)
		}
		got, err := ReadPacket(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("decode %v: %v", p, err)
		}
		if got != p {
			t.Fatalf("round trip mismatch: got %v want %v", got, p)
		}
	})
}

// Property: the declared length always equals the payload length.
func TestPropertyHeaderMatchesPayload(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := New(CommandGame, rapid.StringN(0, 512, -1).Draw(t, "message"))
		frame, err := Encode(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if int(binary.LittleEndian.Uint16(frame)) != len(frame)-HeaderSize {
			t.Fatalf("header %d does not match payload %d", binary.LittleEndian.Uint16(frame), len(frame)-HeaderSize)
		}
	})
}

// Property: oversized messages always fail instead of truncating.
func TestPropertyOversizedRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(MaxPayload, MaxPayload+4096).Draw(t, "size")
		_, err := Encode(New(CommandBye, strings.Repeat("z", n)))
		if !errors.Is(err, ErrPacketTooLarge) {
			t.Fatalf("size %d: expected ErrPacketTooLarge, got %v", n, err)
		}
	})
}
