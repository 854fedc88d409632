// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uatest

import (
	"context"
	"testing"

	"github.com/wattgrid/opcua-core/id"
	"github.com/wattgrid/opcua-core/ua"

	opcua "github.com/wattgrid/opcua-core"
)

// TestReadUnknowNodeID reads a node whose stored value carries a type
// the (out-of-scope) codec has no mapping for, then checks the
// session/channel is still usable for a subsequent read.
func TestReadUnknowNodeID(t *testing.T) {
	ctx := context.Background()

	srv := NewTestServer(t)
	defer srv.Close()

	c := opcua.NewClient(srv.Endpoint)
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// read node with unknown extension object
	// This should be OK at the service level: the fault surfaces per
	// result entry, not as a service-wide error.
	nodeWithUnknownType := ua.NewStringNodeID(2, "IntValZero")
	resp, err := c.Read(&ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeWithUnknownType},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := resp.Results[0].Status, ua.StatusBadDataTypeIDUnknown; got != want {
		t.Errorf("got status %v want %v for a node with an unknown type", got, want)
	}

	// check that the connection is still usable by reading another node.
	_, err = c.Read(&ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: ua.NewNumericNodeID(0, id.Server_ServerStatus_State)},
		},
	})
	if err != nil {
		t.Error(err)
	}
}
