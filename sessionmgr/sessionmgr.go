// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package sessionmgr implements the Session Manager: the handlers for
// the session-treatment request class
// (CreateSession/ActivateSession/CloseSession/Cancel). They sequence
// endpoint-URL validation, session-table operations and
// authentication, and return a populated response or a status for the
// dispatcher to fault. A session is created only on the channel that
// carries its CreateSession request; nothing here queues sessions
// awaiting a channel.
package sessionmgr

import (
	"time"

	"github.com/wattgrid/opcua-core/auth"
	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

// ErrEndpointURLInvalid reports that a CreateSession request's
// EndpointURL does not match one of the channel's configured endpoint
// URLs, grounded on S2OPC service_mgr.c's SOPC_CreateSession check.
var ErrEndpointURLInvalid = uaerr.Errorf("sessionmgr: endpoint url does not match channel configuration")

// EndpointURLs resolves the set of URLs a channel's configuration
// accepts CreateSession requests for.
type EndpointURLs func(cfg channel.ConfigID) []string

// Manager is the server-side Session Manager, wiring
// together the Session Core state machine, the security/user manager,
// and the channel manager's endpoint/config lookups.
type Manager struct {
	sessions  *session.Manager
	authMgr   *auth.Manager
	endpoints EndpointURLs

	serverCertificate []byte
	serverEndpoints   []*ua.EndpointDescription
}

// NewManager builds a Manager over an existing session table, user
// authentication manager, and endpoint-url resolver.
func NewManager(sessions *session.Manager, authMgr *auth.Manager, endpoints EndpointURLs, serverCertificate []byte, serverEndpoints []*ua.EndpointDescription) *Manager {
	return &Manager{
		sessions:          sessions,
		authMgr:           authMgr,
		endpoints:         endpoints,
		serverCertificate: serverCertificate,
		serverEndpoints:   serverEndpoints,
	}
}

// endpointMatches reports whether url is among cfg's configured
// endpoint URLs (supplemented endpoint-mismatch check).
func (m *Manager) endpointMatches(cfg channel.ConfigID, url string) bool {
	if m.endpoints == nil {
		return true
	}
	for _, u := range m.endpoints(cfg) {
		if u == url {
			return true
		}
	}
	return false
}

// CreateSession implements the create_session_req_and_resp
// sequence as the session-treatment handler for CreateSessionRequest,
// arriving on ch bound to channel-config cfg.
func (m *Manager) CreateSession(ch channel.ID, cfg channel.ConfigID, req *ua.CreateSessionRequest) (*ua.CreateSessionResponse, ua.StatusCode) {
	if !m.endpointMatches(cfg, req.EndpointURL) {
		debug.Printf("sessionmgr: endpoint url %q rejected for config %d", req.EndpointURL, cfg)
		return nil, ua.StatusBadTcpEndpointURLInvalid
	}

	s, ok := m.sessions.InitNewSession()
	if !ok {
		return nil, ua.StatusBadTooManySessions
	}
	if err := m.sessions.CreateSessionReqAndResp(s, ch, req.ClientNonce, req.RequestedSessionTimeout); err != nil {
		if sc, ok := err.(ua.StatusCode); ok {
			return nil, sc
		}
		return nil, ua.StatusBadInternalError
	}

	resp := &ua.CreateSessionResponse{
		SessionID:             ua.NewNumericNodeID(0, uint32(s.ID)),
		AuthenticationToken:   ua.NewStringNodeID(0, string(s.Token)),
		RevisedSessionTimeout: float64(s.RevisedTimeout / time.Millisecond),
		ServerNonce:           s.NonceServer,
		ServerCertificate:     m.serverCertificate,
		ServerEndpoints:       m.serverEndpoints,
	}
	return resp, ua.StatusOK
}

// ActivateSession implements the activation guard as the
// session-treatment handler for ActivateSessionRequest. The user is
// authenticated from req.UserIdentityToken.
func (m *Manager) ActivateSession(s *session.Session, ch channel.ID, req *ua.ActivateSessionRequest) (*ua.ActivateSessionResponse, ua.StatusCode) {
	status, user := m.authMgr.Authenticate(req.UserIdentityToken)
	if status != ua.StatusOK {
		return nil, status
	}

	nonce, err := m.sessions.ActivateSession(s, ch, user)
	if err != nil {
		if sc, ok := err.(ua.StatusCode); ok {
			return nil, sc
		}
		return nil, ua.StatusBadInternalError
	}

	return &ua.ActivateSessionResponse{ServerNonce: nonce, Results: []ua.StatusCode{ua.StatusOK}}, ua.StatusOK
}

// CloseSession implements the CloseSession session-treatment handler,
// optionally running deleteSubs first when the client asked for its
// subscriptions to be deleted on close.
func (m *Manager) CloseSession(s *session.Session, deleteSubscriptions bool, deleteSubs func()) *ua.CloseSessionResponse {
	if deleteSubscriptions && deleteSubs != nil {
		deleteSubs()
	}
	m.sessions.CloseSession(s)
	return &ua.CloseSessionResponse{}
}

// Cancel implements the Cancel session-treatment handler.
func (m *Manager) Cancel(cancelled uint32) *ua.CancelResponse {
	return &ua.CancelResponse{CancelCount: cancelled}
}
