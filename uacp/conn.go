// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uacp implements the OPC UA Connection Protocol transport
// (Part 6 §7.1) that carries secure-channel messages between a client
// and a server. The wire-level chunking/byte encoding this protocol
// normally performs is out of this module's scope;
// Conn instead carries already-typed Envelope values, so uasc can be
// built and exercised against this package exactly the way
// uasc.SecureChannel is built against a byte-oriented conn.
package uacp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/internal/uaerr"
)

// Envelope is one message handed across a Conn: a secure-channel/
// session-protocol message plus the request id it correlates to.
// uasc.SecureChannel is the only expected producer/consumer.
type Envelope struct {
	ReqID uint32
	Msg   interface{}
}

// Error mirrors the upstream client's uacp.Error, the connection-level error
// carrying an OPC UA status code, returned e.g. when a peer rejects
// the HEL/ACK handshake.
type Error struct {
	ErrorCode uint32
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("uacp: error code=0x%08x reason=%q", e.ErrorCode, e.Reason)
}

const (
	defaultMaxChunkCount  = 16
	defaultMaxMessageSize = 1 << 20
)

// Conn is a duplex connection carrying Envelopes between a client and
// a server. It is the in-memory analogue of the upstream client's TCP-backed
// uacp.Conn: Write/Receive/ID/MaxChunkCount/MaxMessageSize/Close all
// have the same names and purpose, but there is no socket or byte
// chunking underneath -- both ends of a Conn are connected directly
// through a pair of channels by Dial/the Listener's Accept loop.
type Conn struct {
	id             uint64
	out            chan Envelope
	in             <-chan Envelope
	closeOnce      sync.Once
	closed         chan struct{}
	maxChunkCount  uint32
	maxMessageSize uint32
}

var connIDSeq uint64

func nextConnID() uint64 { return atomic.AddUint64(&connIDSeq, 1) }

func newPair() (*Conn, *Conn) {
	ab := make(chan Envelope, 16)
	ba := make(chan Envelope, 16)
	a := &Conn{id: nextConnID(), out: ab, in: ba, closed: make(chan struct{}), maxChunkCount: defaultMaxChunkCount, maxMessageSize: defaultMaxMessageSize}
	b := &Conn{id: nextConnID(), out: ba, in: ab, closed: make(chan struct{}), maxChunkCount: defaultMaxChunkCount, maxMessageSize: defaultMaxMessageSize}
	return a, b
}

// ID returns the connection's identifier, used in debug.Printf the
// same way the upstream client's uacp.Conn.ID() is.
func (c *Conn) ID() uint64 { return c.id }

// MaxChunkCount returns the negotiated maximum chunk count for a
// single message. Kept for parity with the upstream client's chunk-accounting
// guard in uasc, even though this transport never actually chunks.
func (c *Conn) MaxChunkCount() uint32 { return c.maxChunkCount }

// MaxMessageSize returns the negotiated maximum message size in bytes.
func (c *Conn) MaxMessageSize() uint32 { return c.maxMessageSize }

// Write sends an envelope to the peer.
func (c *Conn) Write(e Envelope) error {
	select {
	case <-c.closed:
		return io.EOF
	default:
	}
	select {
	case c.out <- e:
		debug.Printf("uacp %d: sent req %d (%T)", c.id, e.ReqID, e.Msg)
		return nil
	case <-c.closed:
		return io.EOF
	}
}

// Receive blocks until an envelope arrives from the peer, the
// connection is closed, or ctx is cancelled.
func (c *Conn) Receive(ctx context.Context) (Envelope, error) {
	select {
	case e, ok := <-c.in:
		if !ok {
			return Envelope{}, io.EOF
		}
		debug.Printf("uacp %d: received req %d (%T)", c.id, e.ReqID, e.Msg)
		return e, nil
	case <-c.closed:
		return Envelope{}, io.EOF
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close shuts down this end of the connection. Safe to call more than
// once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// registry is the process-wide rendezvous point Dial uses to find a
// Listener bound to a given endpoint URL, standing in for the TCP
// listen/dial pair the upstream client's uacp.Dial performs over the network.
var registry = struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}{listeners: make(map[string]*Listener)}

// Listener accepts incoming Conns for one endpoint URL, mirroring
// net.Listener's role. The upstream client this module grew out of is
// client-only and ships no equivalent; this module needs one for its
// server half.
type Listener struct {
	endpoint string
	accept   chan *Conn
	closed   chan struct{}
	once     sync.Once
}

// Listen registers a Listener for endpoint. Only one Listener may be
// registered per endpoint at a time.
func Listen(endpoint string) (*Listener, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.listeners[endpoint]; ok {
		return nil, uaerr.Errorf("uacp: endpoint %q already listening", endpoint)
	}
	l := &Listener{endpoint: endpoint, accept: make(chan *Conn), closed: make(chan struct{})}
	registry.listeners[endpoint] = l
	return l, nil
}

// Accept blocks until a client Dials this Listener's endpoint.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the Listener so Dial can no longer find it.
func (l *Listener) Close() error {
	l.once.Do(func() {
		registry.mu.Lock()
		if registry.listeners[l.endpoint] == l {
			delete(registry.listeners, l.endpoint)
		}
		registry.mu.Unlock()
		close(l.closed)
	})
	return nil
}

// Dial connects to the Listener registered for endpoint, the in-memory
// analogue of the upstream client's uacp.Dial(ctx, endpointURL) TCP dial plus
// HEL/ACK handshake.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	registry.mu.Lock()
	l, ok := registry.listeners[endpoint]
	registry.mu.Unlock()
	if !ok {
		return nil, &Error{ErrorCode: 0x80740000, Reason: fmt.Sprintf("no listener for endpoint %q", endpoint)}
	}
	client, server := newPair()
	select {
	case l.accept <- server:
		return client, nil
	case <-l.closed:
		return nil, &Error{ErrorCode: 0x80740000, Reason: "listener closed"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
