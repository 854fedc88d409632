// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package opcua is a client for the session and secure-channel core
// implemented by this module: it dials a secure channel,
// creates and activates a session, and exposes the session-service
// calls (Read/Write/Browse/...) as synchronous methods, the way a
// gopcua-style client.go exposes its client API. PubSub,
// monitored items, and the subscription publishing engine are
// explicitly out of scope and have no counterpart here.
package opcua

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/internal/loop"
	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/reqtable"
	"github.com/wattgrid/opcua-core/ua"
	"github.com/wattgrid/opcua-core/uacp"
	"github.com/wattgrid/opcua-core/uasc"
)

// GetEndpoints returns the available endpoint descriptions for the server.
func GetEndpoints(endpoint string) ([]*ua.EndpointDescription, error) {
	c := NewClient(endpoint, uasc.WithRequestTimeout(5*time.Second))
	if err := c.Dial(context.Background()); err != nil {
		return nil, err
	}
	defer c.Close()
	res, err := c.GetEndpoints()
	if err != nil {
		return nil, err
	}
	return res.Endpoints, nil
}

// SelectEndpoint returns the endpoint with the highest security level which
// matches security policy and security mode. policy and mode can be omitted
// so that only one of them has to match.
func SelectEndpoint(endpoints []*ua.EndpointDescription, policy string, mode ua.MessageSecurityMode) *ua.EndpointDescription {
	if len(endpoints) == 0 {
		return nil
	}

	sort.Sort(sort.Reverse(bySecurityLevel(endpoints)))

	if policy == "" && mode == ua.MessageSecurityModeInvalid {
		return endpoints[0]
	}

	for _, p := range endpoints {
		if policy == "" && p.SecurityMode == mode {
			return p
		}
		if p.SecurityPolicyURI == policy && mode == ua.MessageSecurityModeInvalid {
			return p
		}
		if p.SecurityPolicyURI == policy && p.SecurityMode == mode {
			return p
		}
	}
	return nil
}

type bySecurityLevel []*ua.EndpointDescription

func (a bySecurityLevel) Len() int           { return len(a) }
func (a bySecurityLevel) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a bySecurityLevel) Less(i, j int) bool { return a[i].SecurityLevel < a[j].SecurityLevel }

// ConnState is the client connection state.
type ConnState uint8

const (
	Closed ConnState = iota
	Connected
	Connecting
	Disconnected
	Reconnecting
)

// Client is a high-level client for an OPC UA server. It establishes a
// secure channel and a session.
type Client struct {
	endpointURL string

	cfg        *uasc.Config
	sessionCfg *uasc.SessionConfig

	conn *uacp.Conn

	sechan    *uasc.SecureChannel
	sechanErr chan error

	session atomic.Value // *Session
	state   atomic.Value // ConnState

	reqs *reqtable.Table
	loop *loop.Loop
	chID atomic.Uint64 // current channel identifier, for reqtable bookkeeping

	monitorOnce sync.Once
	sessionOnce sync.Once

	autoReconnect     bool
	reconnectInterval time.Duration
}

// NewClient creates a new Client. When no options are provided the new
// client is created from uasc.ApplyConfig's defaults.
func NewClient(endpoint string, opts ...uasc.Option) *Client {
	cfg := uasc.ApplyConfig(opts...)
	c := &Client{
		endpointURL:       endpoint,
		cfg:               cfg,
		sessionCfg:        &uasc.SessionConfig{RequestedSessionTimeout: 10 * 60 * 1000},
		sechanErr:         make(chan error, 1),
		reqs:              reqtable.NewTable(),
		loop:              loop.New(64),
		reconnectInterval: 2 * time.Second,
	}
	c.state.Store(Disconnected)
	return c
}

// AutoReconnect enables or disables the client's automatic reconnection on
// channel loss.
func (c *Client) AutoReconnect(enable bool) { c.autoReconnect = enable }

// reconnectAction lists the client reconnection logic's next step. The
// subscription-related states the upstream client's client.go also drives
// (republishSubscriptions, restoreSubscriptions, transferSubscriptions) have
// no counterpart here: PubSub/monitored items are explicitly out of scope.
type reconnectAction uint8

const (
	none reconnectAction = iota
	createSecureChannel
	restoreSession
	recreateSession
	abortReconnect
)

// Connect establishes a secure channel and creates a new session.
func (c *Client) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.sechan != nil {
		return uaerr.Errorf("already connected")
	}

	c.state.Store(Connecting)
	if err := c.Dial(ctx); err != nil {
		return err
	}
	s, err := c.CreateSession(c.sessionCfg)
	if err != nil {
		_ = c.Close()
		return err
	}
	if err := c.ActivateSession(s); err != nil {
		_ = c.Close()
		return err
	}
	c.state.Store(Connected)

	go c.loop.Run(ctx)
	c.monitorOnce.Do(func() { go c.monitor(ctx) })
	return nil
}

// monitor drives the reconnection state machine off secure-channel errors,
// the same shape as the upstream client's client.go monitor(ctx) goroutine.
func (c *Client) monitor(ctx context.Context) {
	defer c.state.Store(Closed)

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.sechanErr:
			if !ok || (err == io.EOF && c.State() == Closed) {
				return
			}

			c.state.Store(Disconnected)
			c.reqs.ReleaseChannel(channel.ID(c.chID.Load()))

			if !c.autoReconnect {
				return
			}

			action := classifyReconnect(err)
			for action != none {
				select {
				case <-ctx.Done():
					return
				default:
				}

				switch action {
				case createSecureChannel:
					_ = c.conn.Close()
					_ = c.sechan.Close(ctx)
					c.sechan = nil
					c.state.Store(Reconnecting)

					debug.Printf("client: recreating secure channel")
					for {
						if err := c.Dial(ctx); err != nil {
							select {
							case <-ctx.Done():
								return
							case <-time.After(c.reconnectInterval):
								continue
							}
						}
						break
					}
					action = restoreSession

				case restoreSession:
					s := c.Session()
					if s == nil {
						action = recreateSession
						continue
					}
					debug.Printf("client: restoring session")
					c.session.Store((*Session)(nil))
					if err := c.ActivateSession(s); err != nil {
						action = recreateSession
						continue
					}
					c.state.Store(Connected)
					action = none

				case recreateSession:
					debug.Printf("client: recreating session")
					s, err := c.CreateSession(c.sessionCfg)
					if err != nil {
						action = createSecureChannel
						continue
					}
					if err := c.ActivateSession(s); err != nil {
						action = createSecureChannel
						continue
					}
					c.state.Store(Connected)
					action = none

				case abortReconnect:
					debug.Printf("client: reconnection not recoverable")
					return
				}
			}

			for len(c.sechanErr) > 0 {
				<-c.sechanErr
			}
		}
	}
}

// classifyReconnect maps a secure-channel error to a reconnection action,
// mirroring the upstream client's client.go error-classification switch (minus the
// subscription-specific branches, which are explicitly out of scope).
func classifyReconnect(err error) reconnectAction {
	if err == io.EOF {
		return createSecureChannel
	}
	if uaerrConn, ok := err.(*uacp.Error); ok {
		switch ua.StatusCode(uaerrConn.ErrorCode) {
		case ua.StatusBadSecureChannelIDInvalid:
			return createSecureChannel
		case ua.StatusBadSessionIDInvalid:
			return recreateSession
		default:
			return createSecureChannel
		}
	}
	return createSecureChannel
}

// Dial establishes a secure channel without creating a session.
func (c *Client) Dial(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.sessionOnce.Do(func() { c.session.Store((*Session)(nil)) })

	if c.sechan != nil {
		return uaerr.Errorf("secure channel already connected")
	}

	var err error
	c.conn, err = uacp.Dial(ctx, c.endpointURL)
	if err != nil {
		return err
	}

	c.sechan, err = uasc.NewSecureChannel(c.endpointURL, c.conn, c.cfg, c.sechanErr)
	if err != nil {
		_ = c.conn.Close()
		return err
	}
	if err := c.sechan.Open(ctx); err != nil {
		return err
	}
	c.chID.Store(c.conn.ID())
	return nil
}

// Close closes the session and the secure channel.
func (c *Client) Close() error {
	_ = c.CloseSession()
	c.state.Store(Closed)
	c.loop.Stop()
	defer close(c.sechanErr)
	if c.sechan != nil {
		_ = c.sechan.Close(context.Background())
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

func (c *Client) State() ConnState { return c.state.Load().(ConnState) }

// Session returns the active session, or nil.
func (c *Client) Session() *Session {
	s, _ := c.session.Load().(*Session)
	return s
}

// Session is an OPC UA session as described in Part 4, 5.6.
type Session struct {
	cfg               *uasc.SessionConfig
	resp              *ua.CreateSessionResponse
	serverCertificate []byte
	serverNonce       []byte
}

// CreateSession creates a new session which is not yet activated and not
// associated with the client. Call ActivateSession to both activate and
// associate the session with the client.
func (c *Client) CreateSession(cfg *uasc.SessionConfig) (*Session, error) {
	if c.sechan == nil {
		return nil, ua.StatusBadServerNotConnected
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	name := cfg.SessionName
	if name == "" {
		name = fmt.Sprintf("opcua-core-%d", time.Now().UnixNano())
	}

	req := &ua.CreateSessionRequest{
		ClientDescription:       cfg.ClientDescription,
		EndpointURL:             c.endpointURL,
		SessionName:             name,
		ClientNonce:             nonce,
		RequestedSessionTimeout: cfg.RequestedSessionTimeout,
	}

	var s *Session
	err := c.sechan.SendRequest(req, nil, func(v interface{}) error {
		var res *ua.CreateSessionResponse
		if err := safeAssign(v, &res); err != nil {
			return err
		}
		if res.ServerSignature != nil {
			if err := c.sechan.VerifySessionSignature(res.ServerCertificate, nonce, res.ServerSignature.Signature); err != nil {
				debug.Printf("client: session signature verification failed: %v", err)
			}
		}
		if cfg.UserIdentityToken == nil {
			cfg.UserIdentityToken = &ua.AnonymousIdentityToken{PolicyID: anonymousPolicyID(res.ServerEndpoints)}
		}
		s = &Session{cfg: cfg, resp: res, serverNonce: res.ServerNonce, serverCertificate: res.ServerCertificate}
		return nil
	})
	return s, err
}

const defaultAnonymousPolicyID = "Anonymous"

func anonymousPolicyID(endpoints []*ua.EndpointDescription) string {
	for _, e := range endpoints {
		if e.SecurityMode != ua.MessageSecurityModeNone || e.SecurityPolicyURI != ua.SecurityPolicyURINone {
			continue
		}
		for _, t := range e.UserIdentityTokens {
			if t.TokenType == ua.UserTokenTypeAnonymous {
				return t.PolicyID
			}
		}
	}
	return defaultAnonymousPolicyID
}

// ActivateSession activates the session and associates it with the client.
// If the client already has a session it is closed first.
func (c *Client) ActivateSession(s *Session) error {
	if c.sechan == nil {
		return ua.StatusBadServerNotConnected
	}
	sig, sigAlg, err := c.sechan.NewSessionSignature(s.serverCertificate, s.serverNonce)
	if err != nil {
		return uaerr.Wrap(err, "client: create session signature")
	}

	var tokenSig *ua.SignatureData
	switch tok := s.cfg.UserIdentityToken.(type) {
	case *ua.AnonymousIdentityToken, nil:
		// nothing to do
	case *ua.UserNameIdentityToken:
		pass, passAlg, err := c.sechan.EncryptUserPassword(tok.EncryptionAlgorithm, tok.Password, s.serverCertificate, s.serverNonce)
		if err != nil {
			return uaerr.Wrap(err, "client: encrypt user password")
		}
		tok.Password = pass
		tok.EncryptionAlgorithm = passAlg
	case *ua.X509IdentityToken:
		tokSig, tokSigAlg, err := c.sechan.NewUserTokenSignature("", s.serverCertificate, s.serverNonce)
		if err != nil {
			return uaerr.Wrap(err, "client: create user token signature")
		}
		tokenSig = &ua.SignatureData{Algorithm: tokSigAlg, Signature: tokSig}
	}

	req := &ua.ActivateSessionRequest{
		ClientSignature:    &ua.SignatureData{Algorithm: sigAlg, Signature: sig},
		LocaleIDs:          s.cfg.LocaleIDs,
		UserIdentityToken:  ua.NewExtensionObject(s.cfg.UserIdentityToken),
		UserTokenSignature: tokenSig,
	}
	return c.sechan.SendRequest(req, s.resp.AuthenticationToken, func(v interface{}) error {
		var res *ua.ActivateSessionResponse
		if err := safeAssign(v, &res); err != nil {
			return err
		}
		s.serverNonce = res.ServerNonce
		if err := c.CloseSession(); err != nil {
			_ = c.closeSession(s)
			return err
		}
		c.session.Store(s)
		return nil
	})
}

// CloseSession closes the current session.
func (c *Client) CloseSession() error {
	if err := c.closeSession(c.Session()); err != nil {
		return err
	}
	c.session.Store((*Session)(nil))
	return nil
}

func (c *Client) closeSession(s *Session) error {
	if s == nil {
		return nil
	}
	req := &ua.CloseSessionRequest{DeleteSubscriptions: true}
	var res *ua.CloseSessionResponse
	return c.sendWithSession(s, req, func(v interface{}) error {
		return safeAssign(v, &res)
	})
}

// DetachSession removes the session from the client without closing it.
func (c *Client) DetachSession() (*Session, error) {
	s := c.Session()
	c.session.Store((*Session)(nil))
	return s, nil
}

// Send sends the request via the secure channel and registers a handler for
// the response, injecting the active session's authentication token, and
// tracking the outstanding call in the Request-Handle Table
// for invariant 7 (channel-loss release).
func (c *Client) Send(req ua.Request, h func(interface{}) error) error {
	return c.sendWithTimeout(req, c.cfg.RequestTimeout, h)
}

func (c *Client) sendWithSession(s *Session, req ua.Request, h func(interface{}) error) error {
	if c.sechan == nil {
		return ua.StatusBadServerNotConnected
	}
	var authToken *ua.NodeID
	if s != nil {
		authToken = s.resp.AuthenticationToken
	}
	return c.trackedSend(req, authToken, c.cfg.RequestTimeout, h)
}

func (c *Client) sendWithTimeout(req ua.Request, timeout time.Duration, h func(interface{}) error) error {
	if c.sechan == nil {
		return ua.StatusBadServerNotConnected
	}
	var authToken *ua.NodeID
	if s := c.Session(); s != nil {
		authToken = s.resp.AuthenticationToken
	}
	return c.trackedSend(req, authToken, timeout, h)
}

// trackedSend registers req in the Request-Handle Table for the duration of
// the call, so a channel loss mid-flight releases its handle. The caller
// itself is unblocked by the secure channel, which fails every pending
// request when its connection ends.
func (c *Client) trackedSend(req ua.Request, authToken *ua.NodeID, timeout time.Duration, h func(interface{}) error) error {
	entry := c.reqs.Register(reflect.TypeOf(req), nil, channel.ID(c.chID.Load()), true, nil)
	defer c.reqs.Forget(entry.Handle)

	return c.sechan.SendRequestWithTimeout(req, authToken, timeout, h)
}

// GetEndpoints retrieves the endpoint descriptions for the server.
func (c *Client) GetEndpoints() (*ua.GetEndpointsResponse, error) {
	req := &ua.GetEndpointsRequest{EndpointURL: c.endpointURL}
	var res *ua.GetEndpointsResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// FindServers returns the servers known to the endpoint.
func (c *Client) FindServers() (*ua.FindServersResponse, error) {
	req := &ua.FindServersRequest{EndpointURL: c.endpointURL}
	var res *ua.FindServersResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// Read executes a synchronous read request, defaulting AttributeID to Value
// the way the upstream client's client.go Read does.
func (c *Client) Read(req *ua.ReadRequest) (*ua.ReadResponse, error) {
	rvs := make([]*ua.ReadValueID, len(req.NodesToRead))
	for i, rv := range req.NodesToRead {
		rc := *rv
		if rc.AttributeID == 0 {
			rc.AttributeID = ua.AttributeIDValue
		}
		rvs[i] = &rc
	}
	req = &ua.ReadRequest{MaxAge: req.MaxAge, TimestampsToReturn: req.TimestampsToReturn, NodesToRead: rvs}

	var res *ua.ReadResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// Write executes a synchronous write request.
func (c *Client) Write(req *ua.WriteRequest) (*ua.WriteResponse, error) {
	var res *ua.WriteResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// Browse executes a synchronous browse request.
func (c *Client) Browse(req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	var res *ua.BrowseResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// BrowseNext continues a browse using a previously returned continuation
// point.
func (c *Client) BrowseNext(req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	var res *ua.BrowseNextResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// TranslateBrowsePathsToNodeIDs resolves relative browse paths to node ids.
func (c *Client) TranslateBrowsePathsToNodeIDs(req *ua.TranslateBrowsePathsToNodeIDsRequest) (*ua.TranslateBrowsePathsToNodeIDsResponse, error) {
	var res *ua.TranslateBrowsePathsToNodeIDsResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// RegisterNodes registers node ids for more efficient reads. Part 4,
// Section 5.8.5.
func (c *Client) RegisterNodes(req *ua.RegisterNodesRequest) (*ua.RegisterNodesResponse, error) {
	var res *ua.RegisterNodesResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// UnregisterNodes unregisters node ids previously registered with
// RegisterNodes. Part 4, Section 5.8.6.
func (c *Client) UnregisterNodes(req *ua.UnregisterNodesRequest) (*ua.UnregisterNodesResponse, error) {
	var res *ua.UnregisterNodesResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// DeleteSubscriptions informs the server it can release the named
// subscription ids. The subscription publishing engine itself is
// explicitly out of scope; this call exists because the core's
// service dispatcher still classifies DeleteSubscriptions as an
// ordinary session service.
func (c *Client) DeleteSubscriptions(req *ua.DeleteSubscriptionsRequest) (*ua.DeleteSubscriptionsResponse, error) {
	var res *ua.DeleteSubscriptionsResponse
	err := c.Send(req, func(v interface{}) error { return safeAssign(v, &res) })
	return res, err
}

// safeAssign implements a type-safe assign from T to *T. A
// *ua.ServiceFault in place of the expected type is unwrapped to its
// ServiceResult rather than reported as a type mismatch, so callers
// see the real reason a request failed.
func safeAssign(t, ptrT interface{}) error {
	if fault, ok := t.(*ua.ServiceFault); ok {
		return fault.Header().ServiceResult
	}
	if reflect.TypeOf(t) != reflect.TypeOf(ptrT).Elem() {
		return InvalidResponseTypeError{t, ptrT}
	}
	reflect.ValueOf(ptrT).Elem().Set(reflect.ValueOf(t))
	return nil
}

// InvalidResponseTypeError reports that a response did not match the
// type the caller expected, the client-side counterpart of the
// request table's server-side response-type check.
type InvalidResponseTypeError struct {
	got, want interface{}
}

func (e InvalidResponseTypeError) Error() string {
	return fmt.Sprintf("invalid response: got %T want %T", e.got, e.want)
}
