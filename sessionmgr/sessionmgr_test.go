// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package sessionmgr

import (
	"testing"

	"github.com/wattgrid/opcua-core/auth"
	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

func newManager(t *testing.T, endpointURLs []string) *Manager {
	t.Helper()
	sessions := session.NewManager(8)
	authMgr := auth.NewManager(map[string]string{"alice": "secret"})
	endpoints := func(channel.ConfigID) []string { return endpointURLs }
	return NewManager(sessions, authMgr, endpoints, []byte("server-cert"), nil)
}

func TestCreateSessionRejectsWrongEndpoint(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})

	_, status := m.CreateSession(channel.ID(1), channel.ConfigID(1), &ua.CreateSessionRequest{
		EndpointURL: "opc.tcp://wrong",
	})
	if status != ua.StatusBadTcpEndpointURLInvalid {
		t.Fatalf("got %v want BadTcpEndpointURLInvalid", status)
	}
}

func TestCreateSessionSuccess(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})

	resp, status := m.CreateSession(channel.ID(1), channel.ConfigID(1), &ua.CreateSessionRequest{
		EndpointURL:             "opc.tcp://good",
		RequestedSessionTimeout: 60000,
		ClientNonce:             []byte("client-nonce"),
	})
	if status != ua.StatusOK {
		t.Fatalf("got %v want OK", status)
	}
	if resp.SessionID == nil || resp.AuthenticationToken == nil {
		t.Fatal("expected non-nil SessionID/AuthenticationToken")
	}
	if string(resp.ServerCertificate) != "server-cert" {
		t.Fatalf("got server certificate %q", resp.ServerCertificate)
	}
	if len(resp.ServerNonce) == 0 {
		t.Fatal("expected a non-empty server nonce")
	}
}

func TestCreateSessionWithNoEndpointResolverAllowsAny(t *testing.T) {
	m := newManager(t, nil)
	m.endpoints = nil

	_, status := m.CreateSession(channel.ID(1), channel.ConfigID(1), &ua.CreateSessionRequest{
		EndpointURL: "opc.tcp://anything",
	})
	if status != ua.StatusOK {
		t.Fatalf("got %v want OK", status)
	}
}

func createAndActivate(t *testing.T, m *Manager, ch channel.ID, token *ua.ExtensionObject) (*session.Session, *ua.ActivateSessionResponse, ua.StatusCode) {
	t.Helper()
	createResp, status := m.CreateSession(ch, channel.ConfigID(ch), &ua.CreateSessionRequest{
		EndpointURL:             "opc.tcp://good",
		RequestedSessionTimeout: 60000,
	})
	if status != ua.StatusOK {
		t.Fatalf("CreateSession failed: %v", status)
	}
	s, ok := m.sessions.LookupByToken([]byte(createResp.AuthenticationToken.StringID))
	if !ok {
		t.Fatal("session not found after creation")
	}
	resp, status := m.ActivateSession(s, ch, &ua.ActivateSessionRequest{UserIdentityToken: token})
	return s, resp, status
}

func TestActivateSessionAnonymous(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})
	s, resp, status := createAndActivate(t, m, channel.ID(1), nil)

	if status != ua.StatusOK {
		t.Fatalf("ActivateSession failed: %v", status)
	}
	if s.State() != session.StateUserActivated {
		t.Fatalf("got state %v want userActivated", s.State())
	}
	if len(resp.Results) != 1 || resp.Results[0] != ua.StatusOK {
		t.Fatalf("got results %v", resp.Results)
	}
}

func TestActivateSessionBadCredentialsRejected(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})
	token := ua.NewExtensionObject(&ua.UserNameIdentityToken{UserName: "alice", Password: []byte("wrong")})

	_, _, status := createAndActivate(t, m, channel.ID(1), token)
	if status != ua.StatusBadIdentityTokenRejected {
		t.Fatalf("got %v want BadIdentityTokenRejected", status)
	}
}

func TestCloseSessionInvokesDeleteSubscriptionsWhenRequested(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})
	s, _, status := createAndActivate(t, m, channel.ID(1), nil)
	if status != ua.StatusOK {
		t.Fatalf("setup failed: %v", status)
	}

	called := false
	m.CloseSession(s, true, func() { called = true })
	if !called {
		t.Fatal("deleteSubs callback was not invoked")
	}
	if s.State() != session.StateClosed {
		t.Fatalf("got state %v want closed", s.State())
	}
}

func TestCloseSessionSkipsDeleteSubscriptionsWhenNotRequested(t *testing.T) {
	m := newManager(t, []string{"opc.tcp://good"})
	s, _, status := createAndActivate(t, m, channel.ID(1), nil)
	if status != ua.StatusOK {
		t.Fatalf("setup failed: %v", status)
	}

	called := false
	m.CloseSession(s, false, func() { called = true })
	if called {
		t.Fatal("deleteSubs callback should not run when DeleteSubscriptions is false")
	}
}

func TestCancelReportsCount(t *testing.T) {
	m := newManager(t, nil)
	resp := m.Cancel(3)
	if resp.CancelCount != 3 {
		t.Fatalf("got %d want 3", resp.CancelCount)
	}
}
