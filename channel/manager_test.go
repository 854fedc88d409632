// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package channel

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/wattgrid/opcua-core/ua"
	"github.com/wattgrid/opcua-core/uacp"
	"github.com/wattgrid/opcua-core/uasc"
)

var endpointSeq uint64

// newTestChannel returns an unopened SecureChannel (no OpenSecureChannel
// handshake) wrapping a real uacp.Conn pair. ServerNew/ClientSetConnected
// only need ID()/Config(), so the handshake is unnecessary here.
func newTestChannel(t *testing.T) *uasc.SecureChannel {
	t.Helper()
	endpoint := fmt.Sprintf("opc.tcp://channel-test-%d", atomic.AddUint64(&endpointSeq, 1))
	l, err := uacp.Listen(endpoint)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	serverConnCh := make(chan *uacp.Conn, 1)
	go func() {
		c, _ := l.Accept(context.Background())
		serverConnCh <- c
	}()
	client, err := uacp.Dial(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-serverConnCh

	cfg := uasc.ApplyConfig(uasc.WithSecurityPolicyURI(ua.SecurityPolicyURINone))
	sc, err := uasc.NewSecureChannel(endpoint, client, cfg, nil)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	return sc
}

func TestServerNewRejectsDuplicateConfig(t *testing.T) {
	m := NewManager(4, false)
	sc1 := newTestChannel(t)
	sc2 := newTestChannel(t)

	if !m.ServerNew(1, 10, sc1) {
		t.Fatal("first ServerNew should succeed")
	}
	if m.ServerNew(1, 10, sc2) {
		t.Fatal("ServerNew on an already-bound config should fail")
	}
}

func TestClientOpenRespectsCapacity(t *testing.T) {
	m := NewManager(1, true)
	if !m.ClientOpen(1) {
		t.Fatal("first ClientOpen should succeed")
	}
	if !m.ClientOpen(1) {
		t.Fatal("ClientOpen on the same config should be idempotent")
	}
	if m.ClientOpen(2) {
		t.Fatal("ClientOpen should fail once capacity is exhausted")
	}
}

func TestClientSetConnectedRequiresPriorOpen(t *testing.T) {
	m := NewManager(4, true)
	sc := newTestChannel(t)

	if m.ClientSetConnected(1, sc) {
		t.Fatal("ClientSetConnected without a prior ClientOpen should fail")
	}
	m.ClientOpen(1)
	if !m.ClientSetConnected(1, sc) {
		t.Fatal("ClientSetConnected should succeed after ClientOpen")
	}
	if !m.IsConnected(ID(sc.ID())) {
		t.Fatal("channel should be connected after ClientSetConnected")
	}
}

func TestClientConnectTimeoutOnlyCancelsConnecting(t *testing.T) {
	m := NewManager(4, true)
	m.ClientOpen(1)
	if !m.ClientConnectTimeout(1) {
		t.Fatal("ClientConnectTimeout should succeed for a pending connect")
	}
	if m.ClientConnectTimeout(1) {
		t.Fatal("a second ClientConnectTimeout for the same config should fail")
	}
}

func TestChannelLostRemovesBindings(t *testing.T) {
	m := NewManager(4, false)
	sc := newTestChannel(t)
	m.ServerNew(0, 5, sc)

	id := ID(sc.ID())
	if !m.IsConnected(id) {
		t.Fatal("expected the channel to be connected")
	}
	m.ChannelLost(id)
	if m.IsConnected(id) {
		t.Fatal("ChannelLost should remove the channel binding")
	}
	if _, ok := m.GetInfo(id); ok {
		t.Fatal("GetInfo should fail for a lost channel")
	}
}

func TestChannelLostFiresLastConnectedNotificationDuringCloseAll(t *testing.T) {
	m := NewManager(4, true)
	sc := newTestChannel(t)
	m.ServerNew(0, 7, sc)

	notified := make(chan bool, 1)
	m.OnLastConnectedChannelLost(func(clientOnly bool) { notified <- clientOnly })

	m.CloseAll()
	m.ChannelLost(ID(sc.ID()))

	select {
	case clientOnly := <-notified:
		if !clientOnly {
			t.Fatal("expected clientOnly to reflect the manager's isClient setting")
		}
	default:
		t.Fatal("expected the last-connected-channel-lost callback to fire")
	}
}

func TestGetEndpointAndSecurityPolicy(t *testing.T) {
	m := NewManager(4, false)
	sc := newTestChannel(t)
	m.ServerNew(3, 9, sc)

	id := ID(sc.ID())
	epIdx, ok := m.GetEndpoint(id)
	if !ok || epIdx != 3 {
		t.Fatalf("got (%v, %v) want (3, true)", epIdx, ok)
	}
	policy, ok := m.GetSecurityPolicy(id)
	if !ok || policy != ua.SecurityPolicyURINone {
		t.Fatalf("got (%q, %v) want (%q, true)", policy, ok, ua.SecurityPolicyURINone)
	}
}
