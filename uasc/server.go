// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"context"

	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/ua"
	"github.com/wattgrid/opcua-core/uacp"
	"github.com/wattgrid/opcua-core/uapolicy"
)

// AcceptSecureChannel performs the server side of the
// OpenSecureChannel handshake over an already-accepted uacp.Conn, the
// responder half of (*SecureChannel).Open. It blocks until the
// client's open request arrives or ctx is cancelled.
func AcceptSecureChannel(ctx context.Context, endpoint string, c *uacp.Conn, cfg *Config) (*SecureChannel, error) {
	sc, err := NewSecureChannel(endpoint, c, cfg, nil)
	if err != nil {
		return nil, err
	}

	e, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}
	oreq, ok := e.Msg.(openChannelRequest)
	if !ok {
		return nil, ua.StatusBadSecureChannelClosed
	}

	enc, err := uapolicy.Asymmetric(sc.cfg.SecurityPolicyURI, sc.cfg.LocalKey, nil)
	if err != nil {
		return nil, err
	}
	sc.enc = enc

	nonce, err := uapolicy.NewNonce(enc.NonceLength())
	if err != nil {
		return nil, err
	}

	if err := c.Write(uacp.Envelope{ReqID: e.ReqID, Msg: openChannelResponse{nonce: nonce}}); err != nil {
		return nil, err
	}
	debug.Printf("uasc %d/%d: accepted OpenSecureChannelRequest", c.ID(), e.ReqID)

	symEnc, err := uapolicy.Symmetric(sc.cfg.SecurityPolicyURI, nonce, oreq.nonce)
	if err != nil {
		return nil, err
	}
	sc.enc = symEnc
	sc.setState(stateOpen)

	go sc.serverRecvLoop(ctx)
	return sc, nil
}

// Request is delivered to a server's request handler for each inbound
// service request, pairing the typed request with the request id the
// eventual response must echo.
type Request struct {
	ID  uint32
	Req ua.Request
}

// serverRecvLoop forwards every inbound envelope to Requests, the
// channel the server package reads from to dispatch service calls.
// Unlike the client's recvLoop, a server SecureChannel has no notion of "a reply to a pending call" -- every inbound
// message is itself a new request to dispatch.
func (s *SecureChannel) serverRecvLoop(ctx context.Context) {
	defer close(s.requests)
	for {
		e, err := s.c.Receive(ctx)
		if err != nil {
			if s.errCh != nil {
				select {
				case s.errCh <- err:
				default:
				}
			}
			return
		}
		req, ok := e.Msg.(ua.Request)
		if !ok {
			debug.Printf("uasc %d/%d: dropping non-request %T on server channel", s.c.ID(), e.ReqID, e.Msg)
			continue
		}
		select {
		case s.requests <- Request{ID: e.ReqID, Req: req}:
		case <-ctx.Done():
			return
		}
	}
}

// Requests returns the channel of inbound requests for a server-side
// SecureChannel (one created via AcceptSecureChannel).
func (s *SecureChannel) Requests() <-chan Request {
	return s.requests
}

// ID returns the identifier of the underlying connection, used to
// correlate channel-level events in the channel manager.
func (s *SecureChannel) ID() uint64 { return s.c.ID() }

// Config returns the channel's configuration, used by the channel
// manager to record the negotiated security policy.
func (s *SecureChannel) Config() *Config { return s.cfg }
