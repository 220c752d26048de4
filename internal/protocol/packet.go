// Package protocol implements the length-prefixed JSON wire format spoken
// between game clients and the lobby server.
//
// Each packet on the wire is a 2-byte little-endian unsigned length N followed
// by N bytes of UTF-8 JSON: {"command": string, "message": string}.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Known commands.
const (
	// CommandWelcome is the server greeting sent on accept.
	CommandWelcome = "welcome"
	// CommandName claims a display name during the handshake.
	CommandName = "name"
	// CommandGame selects a lobby; the message is the lobby name.
	CommandGame = "game"
	// CommandRound reports game progress to the players of a session.
	CommandRound = "round"
	// CommandBye is a graceful disconnect notice in either direction.
	CommandBye = "bye"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 2

// MaxPayload is the largest JSON payload a frame can carry.
const MaxPayload = 1<<16 - 1

// MaxFrameSize is the largest frame on the wire, header included.
const MaxFrameSize = HeaderSize + MaxPayload

var (
	// ErrPacketTooLarge is returned when an encoded payload exceeds MaxPayload.
	ErrPacketTooLarge = errors.New("protocol: packet exceeds maximum payload size")
	// ErrShortFrame is returned when the stream ends inside a frame.
	ErrShortFrame = errors.New("protocol: short frame")
	// ErrMalformed is returned when a payload is not a valid packet object.
	ErrMalformed = errors.New("protocol: malformed packet")
)

// Packet is one protocol message.
type Packet struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// New returns a packet with the given command and message.
func New(command, message string) Packet {
	return Packet{Command: command, Message: message}
}

// String renders the packet for logs.
func (p Packet) String() string {
	return fmt.Sprintf("%s:%q", p.Command, p.Message)
}

// Encode serializes p into a complete frame (length prefix plus payload).
//
// Postcondition: Returns a frame of HeaderSize+N bytes, or ErrPacketTooLarge when N > MaxPayload.
func Encode(p Packet) ([]byte, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding packet: %w", err)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decode parses a frame payload (without the length prefix).
func Decode(payload []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(payload, &p); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// WritePacket encodes p and writes the whole frame with a single Write call.
func WritePacket(w io.Writer, p Packet) error {
	frame, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// FrameLen returns the total frame length announced by header.
//
// Precondition: len(header) >= HeaderSize.
func FrameLen(header []byte) int {
	return HeaderSize + int(binary.LittleEndian.Uint16(header))
}

// ReadPacket reads exactly one frame from r.
//
// Postcondition: Returns io.EOF only when the stream ends before the first header byte;
// a stream ending mid-frame yields ErrShortFrame.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, fmt.Errorf("%w: header", ErrShortFrame)
		}
		return Packet{}, err
	}
	n := binary.LittleEndian.Uint16(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, fmt.Errorf("%w: want %d payload bytes", ErrShortFrame, n)
		}
		return Packet{}, err
	}
	return Decode(payload)
}
