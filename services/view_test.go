// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package services

import (
	"testing"

	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/continuation"
	"github.com/wattgrid/opcua-core/id"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

// buildTree seeds a store with Objects -> (HasComponent) -> child, and
// returns the Objects node id and the child node id.
func buildTree(store *addrspace.Map, childNames ...string) (*ua.NodeID, []*ua.NodeID) {
	objects := ua.NewTwoByteNodeID(id.ObjectsFolder)
	var refs []addrspace.Reference
	var children []*ua.NodeID
	for _, name := range childNames {
		cid := ua.NewStringNodeID(2, name)
		refs = append(refs, addrspace.Reference{
			TypeID:    ua.NewNumericNodeID(0, id.HasComponent),
			IsForward: true,
			Target:    &ua.ExpandedNodeID{NodeID: cid},
		})
		store.AddNode(&addrspace.Node{
			NodeID:     cid,
			NodeClass:  ua.NodeClassVariable,
			BrowseName: ua.QualifiedName{NamespaceIndex: 2, Name: name},
		})
		children = append(children, cid)
	}
	if existing, ok := store.ReadAll(objects); ok {
		existing.References = append(existing.References, refs...)
	} else {
		store.AddNode(&addrspace.Node{NodeID: objects, NodeClass: ua.NodeClassObject, References: refs})
	}
	return objects, children
}

func TestBrowseFindsForwardReferences(t *testing.T) {
	store := addrspace.NewMap()
	objects, children := buildTree(store, "a", "b")
	cps := continuation.NewRegistry(4)

	resp := Browse(store, cps, session.ID(1), &ua.BrowseRequest{
		NodesToBrowse: []*ua.BrowseDescription{{NodeID: objects, Direction: ua.BrowseDirectionForward}},
	})
	result := resp.Results[0]
	if result.StatusCode != ua.StatusOK {
		t.Fatalf("got %v want OK", result.StatusCode)
	}
	if len(result.References) != len(children) {
		t.Fatalf("got %d references want %d", len(result.References), len(children))
	}
}

func TestBrowseUnknownNodeIsBad(t *testing.T) {
	store := addrspace.NewMap()
	cps := continuation.NewRegistry(4)
	resp := Browse(store, cps, session.ID(1), &ua.BrowseRequest{
		NodesToBrowse: []*ua.BrowseDescription{{NodeID: ua.NewStringNodeID(9, "ghost"), Direction: ua.BrowseDirectionForward}},
	})
	if resp.Results[0].StatusCode != ua.StatusBadNodeIDUnknown {
		t.Fatalf("got %v", resp.Results[0].StatusCode)
	}
}

func TestBrowseRejectsInvalidDirection(t *testing.T) {
	store := addrspace.NewMap()
	objects, _ := buildTree(store)
	cps := continuation.NewRegistry(4)
	resp := Browse(store, cps, session.ID(1), &ua.BrowseRequest{
		NodesToBrowse: []*ua.BrowseDescription{{NodeID: objects, Direction: ua.BrowseDirection(99)}},
	})
	if resp.Results[0].StatusCode != ua.StatusBadBrowseDirectionInvalid {
		t.Fatalf("got %v", resp.Results[0].StatusCode)
	}
}

func TestBrowseProducesContinuationPointWhenTruncated(t *testing.T) {
	store := addrspace.NewMap()
	objects, children := buildTree(store, "a", "b", "c")
	cps := continuation.NewRegistry(4)
	sid := session.ID(1)

	resp := Browse(store, cps, sid, &ua.BrowseRequest{
		RequestedMaxReferencesPerNode: 2,
		NodesToBrowse:                 []*ua.BrowseDescription{{NodeID: objects, Direction: ua.BrowseDirectionForward}},
	})
	result := resp.Results[0]
	if result.StatusCode != ua.StatusOK {
		t.Fatalf("got %v want OK", result.StatusCode)
	}
	if len(result.References) != 2 {
		t.Fatalf("got %d references want 2", len(result.References))
	}
	if len(result.ContinuationPoint) == 0 {
		t.Fatal("expected a continuation point when more references remain")
	}

	next := BrowseNext(store, cps, sid, &ua.BrowseNextRequest{ContinuationPoints: [][]byte{result.ContinuationPoint}})
	nr := next.Results[0]
	if nr.StatusCode != ua.StatusOK {
		t.Fatalf("got %v want OK", nr.StatusCode)
	}
	if len(nr.References) != 1 || nr.References[0].NodeID.NodeID == nil || !nr.References[0].NodeID.NodeID.Equal(children[2]) {
		t.Fatalf("got %+v want the remaining third child", nr.References)
	}
}

func TestBrowseNextRejectsUnknownContinuationPoint(t *testing.T) {
	store := addrspace.NewMap()
	cps := continuation.NewRegistry(4)
	resp := BrowseNext(store, cps, session.ID(1), &ua.BrowseNextRequest{ContinuationPoints: [][]byte{[]byte("bogus")}})
	if resp.Results[0].StatusCode != ua.StatusBadContinuationPointInvalid {
		t.Fatalf("got %v", resp.Results[0].StatusCode)
	}
}

func TestBrowseNextReleaseFreesContinuationPoint(t *testing.T) {
	store := addrspace.NewMap()
	objects, _ := buildTree(store, "a", "b", "c")
	cps := continuation.NewRegistry(4)
	sid := session.ID(1)

	resp := Browse(store, cps, sid, &ua.BrowseRequest{
		RequestedMaxReferencesPerNode: 1,
		NodesToBrowse:                 []*ua.BrowseDescription{{NodeID: objects, Direction: ua.BrowseDirectionForward}},
	})
	cp := resp.Results[0].ContinuationPoint

	released := BrowseNext(store, cps, sid, &ua.BrowseNextRequest{ReleaseContinuationPoints: true, ContinuationPoints: [][]byte{cp}})
	if released.Results[0].StatusCode != ua.StatusOK {
		t.Fatalf("got %v want OK for a release call", released.Results[0].StatusCode)
	}

	again := BrowseNext(store, cps, sid, &ua.BrowseNextRequest{ContinuationPoints: [][]byte{cp}})
	if again.Results[0].StatusCode != ua.StatusBadContinuationPointInvalid {
		t.Fatal("a released continuation point should no longer resolve")
	}
}

func TestTranslateBrowsePathResolvesChildByName(t *testing.T) {
	store := addrspace.NewMap()
	objects, children := buildTree(store, "widget")

	req := &ua.TranslateBrowsePathsToNodeIDsRequest{
		BrowsePaths: []*ua.BrowsePath{{
			StartingNode: objects,
			RelativePath: &ua.RelativePath{Elements: []*ua.RelativePathElement{
				{TargetName: ua.QualifiedName{NamespaceIndex: 2, Name: "widget"}},
			}},
		}},
	}
	resp := TranslateBrowsePathsToNodeIDs(store, req)
	result := resp.Results[0]
	if result.StatusCode != ua.StatusOK {
		t.Fatalf("got %v want OK", result.StatusCode)
	}
	if len(result.Targets) != 1 || !result.Targets[0].TargetID.NodeID.Equal(children[0]) {
		t.Fatalf("got %+v", result.Targets)
	}
}

func TestTranslateBrowsePathRejectsNonObjectsStart(t *testing.T) {
	store := addrspace.NewMap()
	other := ua.NewStringNodeID(1, "not-objects")
	req := &ua.TranslateBrowsePathsToNodeIDsRequest{
		BrowsePaths: []*ua.BrowsePath{{StartingNode: other, RelativePath: &ua.RelativePath{}}},
	}
	resp := TranslateBrowsePathsToNodeIDs(store, req)
	if resp.Results[0].StatusCode != ua.StatusBadNoMatch {
		t.Fatalf("got %v want BadNoMatch", resp.Results[0].StatusCode)
	}
}

func TestTranslateBrowsePathRejectsUnknownName(t *testing.T) {
	store := addrspace.NewMap()
	objects, _ := buildTree(store, "widget")
	req := &ua.TranslateBrowsePathsToNodeIDsRequest{
		BrowsePaths: []*ua.BrowsePath{{
			StartingNode: objects,
			RelativePath: &ua.RelativePath{Elements: []*ua.RelativePathElement{
				{TargetName: ua.QualifiedName{NamespaceIndex: 2, Name: "nonexistent"}},
			}},
		}},
	}
	resp := TranslateBrowsePathsToNodeIDs(store, req)
	if resp.Results[0].StatusCode != ua.StatusBadNoMatch {
		t.Fatalf("got %v want BadNoMatch", resp.Results[0].StatusCode)
	}
}
