// Package transport wraps TCP connections with the framed packet protocol,
// non-blocking receive and liveness probing, and provides the TCP acceptor.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gamelobby/internal/config"
	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// DefaultPollWait is how long Receive waits for a complete frame.
const DefaultPollWait = time.Millisecond

// DefaultLivenessTimeout bounds a single Alive probe when none is configured.
const DefaultLivenessTimeout = 10 * time.Millisecond

// ErrDisconnected reports that the peer is gone: a transport failure, a short
// frame or a malformed payload. Callers route it to cleanup.
var ErrDisconnected = errors.New("transport: client disconnected")

// Options holds per-connection timing.
type Options struct {
	// ReadTimeout bounds reading one frame after its first byte is available,
	// and how long a partial frame may sit unfinished between polls. 0 disables.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one frame. 0 disables.
	WriteTimeout time.Duration
	// PollWait is how long Receive waits for a first byte before reporting no packet.
	PollWait time.Duration
	// LivenessTimeout bounds an Alive probe.
	LivenessTimeout time.Duration
}

// OptionsFromConfig derives connection options from the server configuration.
func OptionsFromConfig(cfg config.ServerConfig) Options {
	return Options{
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		LivenessTimeout: cfg.LivenessTimeout,
	}
}

// Conn is one client connection speaking the framed packet protocol.
// Send is safe for concurrent use; reads are serialized.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader
	opts   Options

	readMu  sync.Mutex
	writeMu sync.Mutex

	nameMu sync.RWMutex
	name   string

	// partialSince is when Receive first saw an unfinished frame. Guarded by readMu.
	partialSince time.Time

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn with a fresh unique ID.
func NewConn(raw net.Conn, opts Options) *Conn {
	if opts.PollWait <= 0 {
		opts.PollWait = DefaultPollWait
	}
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = DefaultLivenessTimeout
	}
	return &Conn{
		id:     uuid.NewString(),
		raw:    raw,
		reader: bufio.NewReaderSize(raw, protocol.MaxFrameSize),
		opts:   opts,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Name returns the display name claimed during the handshake, or "".
func (c *Conn) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

// SetName records the client's display name.
func (c *Conn) SetName(name string) {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	c.name = name
}

// RemoteAddr returns the remote endpoint as a string.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// String identifies the connection in logs.
func (c *Conn) String() string {
	if name := c.Name(); name != "" {
		return fmt.Sprintf("%s (%s)", name, c.RemoteAddr())
	}
	return c.RemoteAddr()
}

// Send writes p as one frame.
//
// Postcondition: The whole frame is written, or an error is returned. Write
// failures wrap ErrDisconnected; oversized packets return protocol.ErrPacketTooLarge.
func (c *Conn) Send(p protocol.Packet) error {
	frame, err := protocol.Encode(p)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrDisconnected
	}
	if c.opts.WriteTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if _, err := c.raw.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Receive returns the next packet without waiting for one to arrive. A packet
// is returned only once its whole frame is buffered, so a peer that sends part
// of a frame never holds the caller longer than the poll wait.
//
// Postcondition: ok is false with a nil error when no complete frame is pending.
// A frame left unfinished for longer than the read timeout wraps ErrDisconnected.
func (c *Conn) Receive() (p protocol.Packet, ok bool, err error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return protocol.Packet{}, false, ErrDisconnected
	}

	complete, err := c.peekFrame(c.opts.PollWait)
	if err != nil {
		return protocol.Packet{}, false, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if !complete {
		if c.reader.Buffered() == 0 {
			c.partialSince = time.Time{}
			return protocol.Packet{}, false, nil
		}
		now := time.Now()
		if c.partialSince.IsZero() {
			c.partialSince = now
		} else if c.opts.ReadTimeout > 0 && now.Sub(c.partialSince) > c.opts.ReadTimeout {
			return protocol.Packet{}, false, fmt.Errorf("%w: frame incomplete after %s", ErrDisconnected, c.opts.ReadTimeout)
		}
		return protocol.Packet{}, false, nil
	}

	c.partialSince = time.Time{}
	p, err = protocol.ReadPacket(c.reader)
	if err != nil {
		return protocol.Packet{}, false, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return p, true, nil
}

// peekFrame waits up to wait for a whole frame to be buffered without consuming it.
// Caller holds readMu.
func (c *Conn) peekFrame(wait time.Duration) (bool, error) {
	_ = c.raw.SetReadDeadline(time.Now().Add(wait))
	header, err := c.reader.Peek(protocol.HeaderSize)
	if err != nil {
		return false, peekErr(err)
	}
	if _, err := c.reader.Peek(protocol.FrameLen(header)); err != nil {
		return false, peekErr(err)
	}
	return true, nil
}

// peekErr maps a deadline to "not yet" and anything else, EOF included, to a failure.
func peekErr(err error) error {
	if isTimeout(err) {
		return nil
	}
	return err
}

// ReceiveWithin waits up to wait for the first byte of a packet, then reads
// the whole frame. A wait of 0 blocks until a byte arrives or the connection closes.
//
// Postcondition: Returns (packet, true, nil), (zero, false, nil) when nothing
// arrived in time, or an error wrapping ErrDisconnected.
func (c *Conn) ReceiveWithin(wait time.Duration) (protocol.Packet, bool, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return protocol.Packet{}, false, ErrDisconnected
	}

	if c.reader.Buffered() == 0 {
		pending, err := c.pending(wait)
		if err != nil {
			return protocol.Packet{}, false, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		if !pending {
			return protocol.Packet{}, false, nil
		}
	}

	if c.opts.ReadTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	} else {
		_ = c.raw.SetReadDeadline(time.Time{})
	}
	c.partialSince = time.Time{}
	p, err := protocol.ReadPacket(c.reader)
	if err != nil {
		return protocol.Packet{}, false, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return p, true, nil
}

// Alive reports whether the peer still appears connected. It never blocks
// longer than the liveness timeout and does not consume pending bytes.
// A connection whose read side is busy in another goroutine is reported alive.
func (c *Conn) Alive() bool {
	if c.closed.Load() {
		return false
	}
	if !c.readMu.TryLock() {
		return true
	}
	defer c.readMu.Unlock()

	if c.reader.Buffered() > 0 {
		return true
	}
	_, err := c.pending(c.opts.LivenessTimeout)
	return err == nil
}

// pending peeks for one byte within wait. Caller holds readMu.
func (c *Conn) pending(wait time.Duration) (bool, error) {
	if wait > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(wait))
	} else {
		_ = c.raw.SetReadDeadline(time.Time{})
	}
	_, err := c.reader.Peek(1)
	if err == nil {
		return true, nil
	}
	if isTimeout(err) {
		return false, nil
	}
	return false, err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Close closes the underlying TCP connection. Safe to call more than once.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.raw.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
