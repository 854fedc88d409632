// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uatest runs end-to-end session and service scenarios
// against an in-process server and client, the way the upstream client's
// uatest package runs them against a spawned python-opcua fixture.
// This module implements both halves of the protocol itself, so the
// external fixture process has no counterpart here: NewTestServer below
// starts this module's own server.Server over the in-memory uacp
// transport instead of shelling out to a script.
package uatest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/id"
	"github.com/wattgrid/opcua-core/server"
	"github.com/wattgrid/opcua-core/ua"
	"github.com/wattgrid/opcua-core/uasc"
)

var endpointSeq uint64

// TestServer wraps a running in-process Server for one test.
type TestServer struct {
	Endpoint string
	Store    *addrspace.Map

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTestServer starts a Server over a fresh in-memory address space
// preloaded with the rw_bool/rw_int32/ro_bool nodes the write/read
// scenarios exercise, plus an anonymous-only credential set.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	endpoint := fmt.Sprintf("opc.tcp://uatest-%d", atomic.AddUint64(&endpointSeq, 1))

	store := addrspace.NewMap()
	store.Grant("", addrspace.OperationWrite, true)
	addBoolVar(store, "rw_bool", ua.AccessLevelCurrentRead|ua.AccessLevelCurrentWrite, false)
	addBoolVar(store, "ro_bool", ua.AccessLevelCurrentRead, false)
	addInt32Var(store, "rw_int32", ua.AccessLevelCurrentRead|ua.AccessLevelCurrentWrite, 0)
	addUnknownTypeVar(store, "IntValZero")
	store.AddNode(&addrspace.Node{
		NodeID:      ua.NewNumericNodeID(0, id.Server_ServerStatus_State),
		NodeClass:   ua.NodeClassVariable,
		BrowseName:  ua.QualifiedName{Name: "State"},
		AccessLevel: ua.AccessLevelCurrentRead,
		Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: ua.MustVariant(int32(0))},
	})

	cfg := &server.Config{
		Endpoint:      endpoint,
		ChannelConfig: uasc.ApplyConfig(uasc.WithSecurityPolicyURI(ua.SecurityPolicyURINone)),
		Credentials:   map[string]string{},
		Endpoints: []*ua.EndpointDescription{{
			EndpointURL:  endpoint,
			SecurityMode: ua.MessageSecurityModeNone,
			UserIdentityTokens: []ua.UserTokenPolicy{
				{PolicyID: "anonymous", TokenType: ua.UserTokenTypeAnonymous},
			},
		}},
		EndpointURLs:    []string{endpoint},
		SessionCapacity: 4,
	}
	srv := server.New(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()

	return &TestServer{Endpoint: endpoint, Store: store, cancel: cancel, done: done}
}

// Close stops the server.
func (s *TestServer) Close() {
	s.cancel()
	<-s.done
}

func addBoolVar(store *addrspace.Map, name string, access ua.AccessLevel, v bool) {
	store.AddNode(&addrspace.Node{
		NodeID:      ua.NewStringNodeID(2, name),
		NodeClass:   ua.NodeClassVariable,
		BrowseName:  ua.QualifiedName{NamespaceIndex: 2, Name: name},
		AccessLevel: access,
		Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: ua.MustVariant(v)},
	})
}

func addInt32Var(store *addrspace.Map, name string, access ua.AccessLevel, v int32) {
	store.AddNode(&addrspace.Node{
		NodeID:      ua.NewStringNodeID(2, name),
		NodeClass:   ua.NodeClassVariable,
		BrowseName:  ua.QualifiedName{NamespaceIndex: 2, Name: name},
		AccessLevel: access,
		Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: ua.MustVariant(v)},
	})
}

// addUnknownTypeVar registers a Variable whose Value carries a type
// the (out-of-scope) codec has no mapping for, the node
// TestReadUnknowNodeID reads to exercise BadDataTypeIDUnknown.
func addUnknownTypeVar(store *addrspace.Map, name string) {
	store.AddNode(&addrspace.Node{
		NodeID:      ua.NewStringNodeID(2, name),
		NodeClass:   ua.NodeClassVariable,
		BrowseName:  ua.QualifiedName{NamespaceIndex: 2, Name: name},
		AccessLevel: ua.AccessLevelCurrentRead,
		Value:       &ua.DataValue{EncodingMask: ua.DataValueStatusCode, Status: ua.StatusBadDataTypeIDUnknown},
	})
}
