// Package client is a minimal client for the game lobby protocol, used by the
// gameclient binary and by tests.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// DefaultWriteTimeout bounds a single Send.
const DefaultWriteTimeout = 5 * time.Second

// ErrUnexpectedPacket is returned by Join when the server does not open with welcome.
var ErrUnexpectedPacket = errors.New("client: unexpected packet")

// Client is one connection to a game server. Send is safe for concurrent
// use with Receive.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// Dial connects to addr.
//
// Postcondition: Returns a connected Client or a non-nil error.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Send writes one packet.
func (c *Client) Send(p protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return protocol.WritePacket(c.conn, p)
}

// Receive blocks until a packet arrives, the server closes the connection
// (io.EOF), or Close is called.
func (c *Client) Receive() (protocol.Packet, error) {
	return protocol.ReadPacket(c.reader)
}

// Join reads the welcome packet, optionally claims name, and selects game.
//
// Postcondition: Returns the welcome packet once both selections are sent.
func (c *Client) Join(name, game string) (protocol.Packet, error) {
	welcome, err := c.Receive()
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("waiting for welcome: %w", err)
	}
	if welcome.Command != protocol.CommandWelcome {
		return welcome, fmt.Errorf("%w: %s", ErrUnexpectedPacket, welcome)
	}
	if name != "" {
		if err := c.Send(protocol.New(protocol.CommandName, name)); err != nil {
			return welcome, fmt.Errorf("sending name: %w", err)
		}
	}
	if err := c.Send(protocol.New(protocol.CommandGame, game)); err != nil {
		return welcome, fmt.Errorf("selecting game: %w", err)
	}
	return welcome, nil
}

// Bye tells the server the client is leaving. The connection stays open.
func (c *Client) Bye(message string) error {
	return c.Send(protocol.New(protocol.CommandBye, message))
}

// Close closes the connection, unblocking Receive.
func (c *Client) Close() error {
	return c.conn.Close()
}
