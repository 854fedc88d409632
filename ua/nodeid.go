// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wattgrid/opcua-core/internal/uaerr"
)

// NodeIDType is the identifier encoding of a NodeID, mirroring Part 6
// Table 15 (the four identifier kinds the core actually sees; Guid
// and Opaque identifiers are out of scope for this module the same
// way the byte-level codec is).
type NodeIDType uint8

const (
	NodeIDTypeTwoByte NodeIDType = iota
	NodeIDTypeNumeric
	NodeIDTypeString
)

// NodeID identifies a node in the address space by namespace index
// and identifier. It is comparable (==) so it can key a Go map
// directly, which the address-space store and continuation registry
// both rely on.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	StringID  string
}

// NewTwoByteNodeID builds a namespace-0 numeric NodeID, the encoding
// used for the well-known ids in package id.
func NewTwoByteNodeID(v uint32) *NodeID {
	return &NodeID{Type: NodeIDTypeTwoByte, Numeric: v}
}

// NewNumericNodeID builds a numeric NodeID in the given namespace.
func NewNumericNodeID(ns uint16, v uint32) *NodeID {
	return &NodeID{Type: NodeIDTypeNumeric, Namespace: ns, Numeric: v}
}

// NewStringNodeID builds a string NodeID in the given namespace.
func NewStringNodeID(ns uint16, s string) *NodeID {
	return &NodeID{Type: NodeIDTypeString, Namespace: ns, StringID: s}
}

// String renders the NodeID in the Part 6 §5.3.1 textual form, e.g.
// "ns=1;s=PubBool" or "i=85" for namespace 0.
func (n *NodeID) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Type {
	case NodeIDTypeString:
		if n.Namespace == 0 {
			return fmt.Sprintf("s=%s", n.StringID)
		}
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.StringID)
	default:
		if n.Namespace == 0 {
			return fmt.Sprintf("i=%d", n.Numeric)
		}
		return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
	}
}

// Equal reports whether two NodeIDs identify the same node. The
// Type field (two-byte vs numeric) is deliberately excluded from the
// comparison: it is an encoding hint, not part of node identity.
func (n *NodeID) Equal(o *NodeID) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Namespace != o.Namespace {
		return false
	}
	switch {
	case n.StringID != "" || o.StringID != "":
		return n.StringID == o.StringID
	default:
		return n.Numeric == o.Numeric
	}
}

// Key returns a value usable as a Go map key even though NodeID
// itself contains no unexported fields precluding direct use; it
// exists to give callers one canonical form regardless of the
// Type-tag quirk documented on Equal.
func (n *NodeID) Key() NodeID {
	k := *n
	k.Type = NodeIDTypeNumeric
	if n.StringID != "" {
		k.Type = NodeIDTypeString
	}
	return k
}

// ParseNodeID parses the Part 6 §5.3.1 textual NodeID syntax:
// "ns=2;s=foo", "i=85", "ns=3;i=1000".
func ParseNodeID(s string) (*NodeID, error) {
	var ns uint16
	rest := s
	if idx := strings.Index(s, ";"); idx >= 0 {
		head := s[:idx]
		rest = s[idx+1:]
		if !strings.HasPrefix(head, "ns=") {
			return nil, uaerr.Errorf("ua: invalid NodeID %q: missing ns=", s)
		}
		v, err := strconv.ParseUint(head[3:], 10, 16)
		if err != nil {
			return nil, uaerr.Errorf("ua: invalid NodeID %q: %v", s, err)
		}
		ns = uint16(v)
	}
	switch {
	case strings.HasPrefix(rest, "i="):
		v, err := strconv.ParseUint(rest[2:], 10, 32)
		if err != nil {
			return nil, uaerr.Errorf("ua: invalid NodeID %q: %v", s, err)
		}
		return NewNumericNodeID(ns, uint32(v)), nil
	case strings.HasPrefix(rest, "s="):
		return NewStringNodeID(ns, rest[2:]), nil
	default:
		return nil, uaerr.Errorf("ua: invalid NodeID %q: unsupported identifier", s)
	}
}

// ExpandedNodeID is a NodeID plus an optional namespace URI / server
// index, used for cross-server references (Part 4 §7.4.1). Only the
// local-server case is populated by this module's address space.
type ExpandedNodeID struct {
	NodeID       *NodeID
	NamespaceURI string
	ServerIndex  uint32
}

// NewFourByteExpandedNodeID builds a local ExpandedNodeID, mirroring
// the upstream client's ua.NewFourByteExpandedNodeID helper.
func NewFourByteExpandedNodeID(ns uint16, v uint32) *ExpandedNodeID {
	return &ExpandedNodeID{NodeID: NewNumericNodeID(ns, v)}
}
