// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package addrspace

import (
	"sync"

	"github.com/wattgrid/opcua-core/id"
	"github.com/wattgrid/opcua-core/ua"
)

// authRule is one authorization grant: userID == "" is the wildcard
// matching any authenticated user (including anonymous).
type authRule struct {
	userID string
	op     Operation
	allow  bool
}

// Map is an in-memory Store, the collaborator this module's server
// and tests run against in place of a real OPC UA information model
// loader. It is intentionally simple -- a fixed node table plus a
// linear authorization rule list -- since modeling a full
// nodeset-compiler is out of scope.
type Map struct {
	mu    sync.RWMutex
	nodes map[ua.NodeID]*Node
	subs  map[ua.NodeID][]*ua.NodeID // reference-type subtype graph: childTypeKey -> parent type ids
	rules []authRule
}

// NewMap builds an empty store seeded with the well-known Root/Objects
// folder skeleton every OPC UA server exposes (Part 5 §8.2.1), the
// minimum an address space needs to be a believable browse root.
func NewMap() *Map {
	m := &Map{
		nodes: make(map[ua.NodeID]*Node),
		subs:  make(map[ua.NodeID][]*ua.NodeID),
	}
	root := ua.NewTwoByteNodeID(id.RootFolder)
	objects := ua.NewTwoByteNodeID(id.ObjectsFolder)
	types := ua.NewTwoByteNodeID(id.TypesFolder)
	views := ua.NewTwoByteNodeID(id.ViewsFolder)
	organizes := ua.NewTwoByteNodeID(id.Organizes)

	m.AddNode(&Node{
		NodeID:      root,
		NodeClass:   ua.NodeClassObject,
		BrowseName:  ua.QualifiedName{Name: "Root"},
		DisplayName: ua.LocalizedText{Text: "Root"},
		References: []Reference{
			{TypeID: organizes, IsForward: true, Target: &ua.ExpandedNodeID{NodeID: objects}},
			{TypeID: organizes, IsForward: true, Target: &ua.ExpandedNodeID{NodeID: types}},
			{TypeID: organizes, IsForward: true, Target: &ua.ExpandedNodeID{NodeID: views}},
		},
	})
	m.AddNode(&Node{
		NodeID:      objects,
		NodeClass:   ua.NodeClassObject,
		BrowseName:  ua.QualifiedName{Name: "Objects"},
		DisplayName: ua.LocalizedText{Text: "Objects"},
		References: []Reference{
			{TypeID: organizes, IsForward: false, Target: &ua.ExpandedNodeID{NodeID: root}},
		},
	})
	m.AddNode(&Node{
		NodeID:      types,
		NodeClass:   ua.NodeClassObject,
		BrowseName:  ua.QualifiedName{Name: "Types"},
		DisplayName: ua.LocalizedText{Text: "Types"},
		References: []Reference{
			{TypeID: organizes, IsForward: false, Target: &ua.ExpandedNodeID{NodeID: root}},
		},
	})
	m.AddNode(&Node{
		NodeID:      views,
		NodeClass:   ua.NodeClassObject,
		BrowseName:  ua.QualifiedName{Name: "Views"},
		DisplayName: ua.LocalizedText{Text: "Views"},
		References: []Reference{
			{TypeID: organizes, IsForward: false, Target: &ua.ExpandedNodeID{NodeID: root}},
		},
	})
	return m
}

// AddNode inserts or replaces a node, for tests and server bring-up to
// populate the store before serving requests.
func (m *Map) AddNode(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.NodeID.Key()] = n
}

// AddSubtype records that child is a direct subtype of parent in the
// type hierarchy IsTransitiveSubtype walks.
func (m *Map) AddSubtype(child, parent *ua.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := child.Key()
	m.subs[k] = append(m.subs[k], parent)
}

// Grant adds an authorization rule; userID == "" applies to all users.
func (m *Map) Grant(userID string, op Operation, allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, authRule{userID: userID, op: op, allow: allow})
}

func (m *Map) ReadAll(id *ua.NodeID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id.Key()]
	return n, ok
}

// IsTransitiveSubtype walks the subs graph breadth-first from subtype
// looking for parent, per address_space_typing_bs__is_transitive_subtype.
func (m *Map) IsTransitiveSubtype(subtype, parent *ua.NodeID) bool {
	if subtype == nil || parent == nil {
		return false
	}
	if subtype.Equal(parent) {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[ua.NodeID]bool{}
	queue := []*ua.NodeID{subtype}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		k := cur.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		for _, p := range m.subs[k] {
			if p.Equal(parent) {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}

// ReadAttribute implements the steps 1-4 for a node already
// resolved by the caller.
func (m *Map) ReadAttribute(user Identity, node *Node, attrID ua.AttributeID, indexRange string) (ua.StatusCode, *ua.Variant) {
	if !m.GetUserAuthorization(OperationRead, node.NodeID, attrID, user) {
		return ua.StatusBadUserAccessDenied, nil
	}
	switch attrID {
	case ua.AttributeIDNodeID:
		return ua.StatusOK, ua.MustVariant(node.NodeID.String())
	case ua.AttributeIDNodeClass:
		return ua.StatusOK, ua.MustVariant(uint32(node.NodeClass))
	case ua.AttributeIDBrowseName:
		return ua.StatusOK, ua.MustVariant(node.BrowseName)
	case ua.AttributeIDDisplayName:
		return ua.StatusOK, ua.MustVariant(node.DisplayName)
	case ua.AttributeIDDescription:
		return ua.StatusOK, ua.MustVariant(node.Description)
	case ua.AttributeIDAccessLevel, ua.AttributeIDUserAccessLevel:
		if node.NodeClass != ua.NodeClassVariable {
			return ua.StatusBadAttributeIDInvalid, nil
		}
		return ua.StatusOK, ua.MustVariant(byte(node.AccessLevel))
	case ua.AttributeIDValue:
		if node.NodeClass != ua.NodeClassVariable && node.NodeClass != ua.NodeClassVariableType {
			return ua.StatusBadAttributeIDInvalid, nil
		}
		if node.Value == nil {
			return ua.StatusBadAttributeIDInvalid, nil
		}
		if node.Value.Status.IsBad() {
			return node.Value.Status, node.Value.Value
		}
		return ua.StatusOK, node.Value.Value
	default:
		return ua.StatusBadAttributeIDInvalid, nil
	}
}

// SetValue implements the step 5 for the Value attribute of
// a Variable node (the only writable {attribute, node class} pair per
// §4.5 step 3).
func (m *Map) SetValue(node *Node, dv *ua.DataValue, indexRange string) (ua.StatusCode, *ua.DataValue) {
	if node.NodeClass != ua.NodeClassVariable {
		return ua.StatusBadNotWritable, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := node.Value
	node.Value = dv
	return ua.StatusOK, prev
}

// GetUserAuthorization applies the most specific matching rule: a rule
// naming the user outranks a wildcard ("") rule, and among rules of the
// same rank the one granted last wins. Absent any matching rule, read
// is allowed and write is denied.
func (m *Map) GetUserAuthorization(op Operation, nodeID *ua.NodeID, attrID ua.AttributeID, user Identity) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID := ""
	if user != nil {
		userID = user.UserID()
	}
	allow := op == OperationRead
	specific := false
	for _, r := range m.rules {
		if r.op != op {
			continue
		}
		if r.userID != "" && r.userID != userID {
			continue
		}
		if specific && r.userID == "" {
			continue
		}
		allow = r.allow
		specific = r.userID != ""
	}
	return allow
}
