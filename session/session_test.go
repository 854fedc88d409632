// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package session

import (
	"testing"
	"time"

	"github.com/wattgrid/opcua-core/auth"
	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/ua"
)

func TestInitNewSessionRespectsCapacity(t *testing.T) {
	m := NewManager(1)
	s1, ok := m.InitNewSession()
	if !ok || s1.State() != StateInit {
		t.Fatalf("got (%v, %v) want a session in state init", s1, ok)
	}
	if _, ok := m.InitNewSession(); ok {
		t.Fatal("InitNewSession should fail once capacity is reached")
	}
}

func TestCreateSessionReqAndRespBindsChannelAndToken(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()

	if err := m.CreateSessionReqAndResp(s, channel.ID(1), []byte("client-nonce"), 5000); err != nil {
		t.Fatalf("CreateSessionReqAndResp: %v", err)
	}
	if s.State() != StateCreated {
		t.Fatalf("got state %v want created", s.State())
	}
	ch, ok := s.Channel()
	if !ok || ch != channel.ID(1) {
		t.Fatalf("got (%v, %v) want (1, true)", ch, ok)
	}
	if s.RevisedTimeout != 10*time.Second {
		t.Fatalf("got %v want 10s (the 5s request raised to the timeout floor)", s.RevisedTimeout)
	}

	found, ok := m.LookupByToken(s.Token)
	if !ok || found.ID != s.ID {
		t.Fatalf("LookupByToken should resolve the session by its issued token")
	}
}

func TestCreateSessionReqAndRespRejectsWrongState(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(1), nil, 0)

	if err := m.CreateSessionReqAndResp(s, channel.ID(2), nil, 0); err != ua.StatusBadInvalidState {
		t.Fatalf("got %v want BadInvalidState for a session already past init/creating", err)
	}
}

func TestClampTimeoutBounds(t *testing.T) {
	m := NewManager(4)
	if got := m.clampTimeout(0); got != m.defaultTimeout {
		t.Fatalf("got %v want default %v for a zero request", got, m.defaultTimeout)
	}
	if got := m.clampTimeout(1); got != m.minTimeout {
		t.Fatalf("got %v want floor %v", got, m.minTimeout)
	}
	if got := m.clampTimeout(float64(24 * time.Hour / time.Millisecond)); got != m.maxTimeout {
		t.Fatalf("got %v want ceiling %v", got, m.maxTimeout)
	}
}

func TestActivateSessionFirstActivationRequiresMatchingChannel(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(1), nil, 0)

	alice := &auth.User{ID: "alice"}
	if _, err := m.ActivateSession(s, channel.ID(2), alice); err != ua.StatusBadInvalidState {
		t.Fatalf("got %v want BadInvalidState for activation on the wrong channel", err)
	}
	nonce, err := m.ActivateSession(s, channel.ID(1), alice)
	if err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if len(nonce) == 0 {
		t.Fatal("expected a fresh server nonce on activation")
	}
	if s.State() != StateUserActivated {
		t.Fatalf("got state %v want userActivated", s.State())
	}
}

func TestActivateSessionReactivationAfterOrphan(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(1), nil, 0)
	alice := &auth.User{ID: "alice"}
	m.ActivateSession(s, channel.ID(1), alice)

	m.ChannelLost(channel.ID(1), channel.ConfigID(7))
	if s.State() != StateSCOrphaned {
		t.Fatalf("got state %v want scOrphaned after losing its channel", s.State())
	}
	if cfg, ok := s.OrphanedFromConfig(); !ok || cfg != channel.ConfigID(7) {
		t.Fatalf("got orphanedFromConfig %v,%v want 7,true", cfg, ok)
	}

	if _, err := m.ActivateSession(s, channel.ID(2), &auth.User{ID: "bob"}); err != ua.StatusBadInvalidState {
		t.Fatal("reactivation by a different user after orphan should be rejected")
	}
	if _, err := m.ActivateSession(s, channel.ID(2), alice); err != nil {
		t.Fatalf("reactivation by the same user on a new channel should succeed: %v", err)
	}
	if s.State() != StateUserActivated {
		t.Fatalf("got state %v want userActivated after reactivation", s.State())
	}
	if _, ok := s.OrphanedFromConfig(); ok {
		t.Fatal("OrphanedFromConfig should report false once the session is no longer orphaned")
	}
}

func TestChannelLostClosesNonActivatedSessions(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(9), nil, 0)

	m.ChannelLost(channel.ID(9), channel.ConfigID(3))
	if s.State() != StateClosed {
		t.Fatalf("got state %v want closed for a created-but-not-activated session", s.State())
	}
}

func TestCloseSessionReleasesTokenAndIsIdempotent(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(1), nil, 0)
	token := s.Token

	m.CloseSession(s)
	if s.State() != StateClosed {
		t.Fatalf("got state %v want closed", s.State())
	}
	if _, ok := m.LookupByToken(token); ok {
		t.Fatal("a closed session's token should no longer resolve")
	}
	m.CloseSession(s) // must not panic or corrupt state
}

func TestSweepExpiredClosesOnlyStaleSessions(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(s, channel.ID(1), nil, 0)
	s.RevisedTimeout = time.Millisecond

	fresh, _ := m.InitNewSession()
	m.CreateSessionReqAndResp(fresh, channel.ID(2), nil, 0)
	fresh.RevisedTimeout = time.Hour

	closed := m.SweepExpired(time.Now().Add(time.Second))
	if len(closed) != 1 || closed[0] != s.ID {
		t.Fatalf("got %v want only %v swept", closed, s.ID)
	}
	if fresh.State() == StateClosed {
		t.Fatal("a session within its timeout should not be swept")
	}
}

func TestTouchResetsLastActivity(t *testing.T) {
	m := NewManager(4)
	s, _ := m.InitNewSession()
	s.LastActivity = time.Now().Add(-time.Hour)
	m.Touch(s)
	if time.Since(s.LastActivity) > time.Second {
		t.Fatal("Touch should refresh LastActivity to roughly now")
	}
}
