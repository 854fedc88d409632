// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package services implements the session-scoped service handlers
//: Read/Write, Browse/TranslateBrowsePaths,
// RegisterNodes/UnregisterNodes/FindServers/DeleteSubscriptions, and
// the supplemented GetEndpoints discovery handler.
package services

import (
	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/ua"
)

// WriteNotifier is pushed a data-changed event for every successful
// non-local write, mirroring an application callback collaborator (`srv_write_notification`).
// dv is a fresh DataValue the notifier owns outright.
type WriteNotifier func(nodeID *ua.NodeID, dv *ua.DataValue)

// Read implements the Read service.
func Read(store addrspace.Store, user addrspace.Identity, req *ua.ReadRequest) *ua.ReadResponse {
	results := make([]*ua.DataValue, len(req.NodesToRead))
	for i, rv := range req.NodesToRead {
		results[i] = readOne(store, user, rv)
	}
	return &ua.ReadResponse{Results: results}
}

func readOne(store addrspace.Store, user addrspace.Identity, rv *ua.ReadValueID) *ua.DataValue {
	node, ok := store.ReadAll(rv.NodeID)
	if !ok {
		return &ua.DataValue{Status: ua.StatusBadNodeIDUnknown}
	}
	status, v := store.ReadAttribute(user, node, rv.AttributeID, rv.IndexRange)
	return &ua.DataValue{Status: status, Value: v}
}

// Write implements the Write service. isLocal bypasses
// authorization/access-level checks for in-process server writes.
// This is an explicit argument, not a package-level counter, so
// concurrent local and remote writes never interfere with each
// other's authorization state.
func Write(store addrspace.Store, user addrspace.Identity, req *ua.WriteRequest, isLocal bool, notify WriteNotifier) *ua.WriteResponse {
	results := make([]ua.StatusCode, len(req.NodesToWrite))
	for i, wv := range req.NodesToWrite {
		results[i] = writeOne(store, user, wv, isLocal, notify)
	}
	return &ua.WriteResponse{Results: results}
}

func writeOne(store addrspace.Store, user addrspace.Identity, wv *ua.WriteValue, isLocal bool, notify WriteNotifier) ua.StatusCode {
	node, ok := store.ReadAll(wv.NodeID)
	if !ok {
		return ua.StatusBadNodeIDUnknown
	}
	if wv.AttributeID != ua.AttributeIDValue || node.NodeClass != ua.NodeClassVariable {
		return ua.StatusBadNotWritable
	}
	if !isLocal {
		if node.AccessLevel&ua.AccessLevelCurrentWrite == 0 {
			return ua.StatusBadNotWritable
		}
		if !store.GetUserAuthorization(addrspace.OperationWrite, wv.NodeID, wv.AttributeID, user) {
			return ua.StatusBadUserAccessDenied
		}
	}

	status, _ := store.SetValue(node, wv.Value, wv.IndexRange)
	if status.IsGood() && !isLocal && notify != nil {
		notify(wv.NodeID, wv.Value.Clone())
	}
	return status
}
