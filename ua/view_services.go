// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

// BrowseDescription describes one node to browse from (Part 4 §5.8.2.2).
type BrowseDescription struct {
	NodeID          *NodeID
	Direction       BrowseDirection
	ReferenceTypeID *NodeID
	IncludeSubtypes bool
	NodeClassMask   uint32
	ResultMask      uint32
}

// ReferenceDescription describes one reference found during a browse
// (Part 4 §5.8.2.2).
type ReferenceDescription struct {
	ReferenceTypeID *NodeID
	IsForward       bool
	NodeID          *ExpandedNodeID
	BrowseName      QualifiedName
	DisplayName     LocalizedText
	NodeClass       NodeClass
	TypeDefinition  *ExpandedNodeID
}

// BrowseResult is the per-node outcome of a Browse/BrowseNext call
// (Part 4 §5.8.2.2). A non-empty ContinuationPoint means more
// references exist than fit in the response and the caller must call
// BrowseNext to retrieve them.
type BrowseResult struct {
	StatusCode        StatusCode
	ContinuationPoint []byte
	References        []*ReferenceDescription
}

// BrowseRequest (Part 4 §5.8.2).
type BrowseRequest struct {
	baseRequest
	View                      *NodeID
	RequestedMaxReferencesPerNode uint32
	NodesToBrowse             []*BrowseDescription
}

// BrowseResponse (Part 4 §5.8.2).
type BrowseResponse struct {
	baseResponse
	Results []*BrowseResult
}

// BrowseNextRequest (Part 4 §5.8.3).
type BrowseNextRequest struct {
	baseRequest
	ReleaseContinuationPoints bool
	ContinuationPoints        [][]byte
}

// BrowseNextResponse (Part 4 §5.8.3).
type BrowseNextResponse struct {
	baseResponse
	Results []*BrowseResult
}

// RelativePathElement is a single step of a RelativePath (Part 4 §5.8.4.2).
type RelativePathElement struct {
	ReferenceTypeID *NodeID
	IsInverse       bool
	IncludeSubtypes bool
	TargetName      QualifiedName
}

// RelativePath is a sequence of browse-name hops from a starting node
// (Part 4 §5.8.4.2).
type RelativePath struct {
	Elements []*RelativePathElement
}

// BrowsePath pairs a starting node with the relative path to follow
// (Part 4 §5.8.4.2).
type BrowsePath struct {
	StartingNode *NodeID
	RelativePath *RelativePath
}

// BrowsePathTarget is one resolved endpoint of a BrowsePath (Part 4
// §5.8.4.2). RemainingPathIndex is the index of the first unresolved
// RelativePath element, or the length of the path when fully resolved.
type BrowsePathTarget struct {
	TargetID            *ExpandedNodeID
	RemainingPathIndex   uint32
}

// BrowsePathResult is the per-path outcome of TranslateBrowsePathsToNodeIds
// (Part 4 §5.8.4.2).
type BrowsePathResult struct {
	StatusCode StatusCode
	Targets    []*BrowsePathTarget
}

// TranslateBrowsePathsToNodeIDsRequest (Part 4 §5.8.4).
type TranslateBrowsePathsToNodeIDsRequest struct {
	baseRequest
	BrowsePaths []*BrowsePath
}

// TranslateBrowsePathsToNodeIDsResponse (Part 4 §5.8.4).
type TranslateBrowsePathsToNodeIDsResponse struct {
	baseResponse
	Results []*BrowsePathResult
}

// RegisterNodesRequest / RegisterNodesResponse (Part 4 §5.8.5). The
// core treats registration as an identity mapping (no server-assigned
// alias ids), matching the description of RegisterNodes as
// a pass-through validated by node existence.
type RegisterNodesRequest struct {
	baseRequest
	NodesToRegister []*NodeID
}

type RegisterNodesResponse struct {
	baseResponse
	RegisteredNodeIDs []*NodeID
}

// UnregisterNodesRequest / UnregisterNodesResponse (Part 4 §5.8.6).
type UnregisterNodesRequest struct {
	baseRequest
	NodesToUnregister []*NodeID
}

type UnregisterNodesResponse struct {
	baseResponse
}
