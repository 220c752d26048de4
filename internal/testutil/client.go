package testutil

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// GameClient is a framed-protocol test client for integration testing.
type GameClient struct {
	conn net.Conn
	t    *testing.T
}

// NewGameClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected GameClient or fails the test.
func NewGameClient(t *testing.T, addr string) *GameClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("game client connected to %s [%s]", addr, time.Since(start))
	return &GameClient{conn: conn, t: t}
}

// Expect reads the next packet and fails the test unless it carries command.
//
// Postcondition: Returns the packet, or fails on timeout, EOF or a different command.
func (c *GameClient) Expect(command string, timeout time.Duration) protocol.Packet {
	c.t.Helper()
	pkt, err := c.Next(timeout)
	if err != nil {
		c.t.Fatalf("waiting for %q: %v", command, err)
	}
	if pkt.Command != command {
		c.t.Fatalf("waiting for %q: got %s", command, pkt)
	}
	return pkt
}

// Next reads one packet within timeout.
func (c *GameClient) Next(timeout time.Duration) (protocol.Packet, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	return protocol.ReadPacket(c.conn)
}

// ExpectClosed fails the test unless the server closes the connection within
// timeout. Packets received before the close are returned.
func (c *GameClient) ExpectClosed(timeout time.Duration) []protocol.Packet {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var got []protocol.Packet
	for {
		_ = c.conn.SetReadDeadline(deadline)
		pkt, err := protocol.ReadPacket(c.conn)
		if err == nil {
			got = append(got, pkt)
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open after %s; received %v", timeout, got)
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, protocol.ErrShortFrame) {
			c.t.Logf("connection ended with %v", err)
		}
		return got
	}
}

// Send writes one packet to the server.
func (c *GameClient) Send(command, message string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WritePacket(c.conn, protocol.New(command, message)); err != nil {
		c.t.Fatalf("sending %s: %v", command, err)
	}
}

// WriteRaw writes b to the server as is, for sending partial or malformed frames.
func (c *GameClient) WriteRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("writing raw bytes: %v", err)
	}
}

// Close closes the underlying connection.
func (c *GameClient) Close() {
	c.conn.Close()
}
