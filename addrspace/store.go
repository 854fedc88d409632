// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package addrspace implements the address-space store the core
// consults to resolve, read, write and browse nodes, grounded on the shape of S2OPC's address_space_bs /
// address_space_typing interface (original_source/csrc/services/bgenc),
// expressed as an idiomatic Go interface plus an in-memory
// implementation the way the upstream client expresses everything else as a
// concrete, directly usable Go type rather than a bare interface.
package addrspace

import (
	"github.com/wattgrid/opcua-core/ua"
)

// Reference is one outgoing or incoming reference from a node, keyed
// by the owning node's reference index.
type Reference struct {
	TypeID    *ua.NodeID
	IsForward bool
	Target    *ua.ExpandedNodeID
}

// Node is one address-space entry. AccessLevel/UserAccessLevel only
// apply to Variable/VariableType nodes; other node classes leave them
// zero.
type Node struct {
	NodeID         *ua.NodeID
	NodeClass      ua.NodeClass
	BrowseName     ua.QualifiedName
	DisplayName    ua.LocalizedText
	Description    ua.LocalizedText
	TypeDefinition *ua.ExpandedNodeID
	AccessLevel    ua.AccessLevel
	Value          *ua.DataValue
	References     []Reference
}

// Store is the core's view of the address space.
// A concrete store need not be the in-memory Map below; the core
// depends only on this interface.
type Store interface {
	// ReadAll returns the node and whether it exists.
	ReadAll(id *ua.NodeID) (*Node, bool)

	// IsTransitiveSubtype reports whether subtype is parent or a
	// transitive subtype of parent in the ReferenceType/DataType/
	// ObjectType/VariableType hierarchy (Part 3 §4.4), mirroring
	// address_space_typing_bs__is_transitive_subtype.
	IsTransitiveSubtype(subtype, parent *ua.NodeID) bool

	// ReadAttribute reads attrId off node, applying user
	// authorization and node-class applicability.
	ReadAttribute(user Identity, node *Node, attrID ua.AttributeID, indexRange string) (ua.StatusCode, *ua.Variant)

	// SetValue writes the Value attribute of node, returning the
	// previous DataValue so the caller can synthesize a change event.
	SetValue(node *Node, dv *ua.DataValue, indexRange string) (ua.StatusCode, *ua.DataValue)

	// GetUserAuthorization reports whether user may perform op on the
	// given node/attribute.
	GetUserAuthorization(op Operation, nodeID *ua.NodeID, attrID ua.AttributeID, user Identity) bool
}

// Operation distinguishes the kind of access GetUserAuthorization is
// asked to authorize.
type Operation int

const (
	OperationRead Operation = iota
	OperationWrite
)

// Identity is the opaque user handle threaded through Store calls; it
// is produced by auth.Manager.Authenticate and never interpreted by
// the store itself beyond using it as an authorization lookup key.
type Identity interface {
	// UserID returns a stable string used as the authorization map
	// key; two Identity values with equal UserID are the same user.
	UserID() string
}
