// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package services

import (
	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/continuation"
	"github.com/wattgrid/opcua-core/id"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

// Browse implements the Browse service.
func Browse(store addrspace.Store, cps *continuation.Registry, sid session.ID, req *ua.BrowseRequest) *ua.BrowseResponse {
	results := make([]*ua.BrowseResult, len(req.NodesToBrowse))
	for i, bd := range req.NodesToBrowse {
		results[i] = browseOne(store, cps, sid, bd, int(req.RequestedMaxReferencesPerNode), 0)
	}
	return &ua.BrowseResponse{Results: results}
}

// BrowseNext implements the destructive continuation
// consumption for the Browse iteration.
func BrowseNext(store addrspace.Store, cps *continuation.Registry, sid session.ID, req *ua.BrowseNextRequest) *ua.BrowseNextResponse {
	results := make([]*ua.BrowseResult, len(req.ContinuationPoints))
	if req.ReleaseContinuationPoints {
		cps.ReleaseTokens(sid, req.ContinuationPoints)
		for i := range results {
			results[i] = &ua.BrowseResult{StatusCode: ua.StatusOK}
		}
		return &ua.BrowseNextResponse{Results: results}
	}
	for i, cp := range req.ContinuationPoints {
		st, ok := cps.Consume(sid, cp)
		if !ok {
			results[i] = &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid}
			continue
		}
		bd := &ua.BrowseDescription{
			NodeID:          st.NodeID,
			Direction:       st.Direction,
			ReferenceTypeID: st.ReferenceTypeID,
			IncludeSubtypes: st.IncludeSubtypes,
			NodeClassMask:   st.NodeClassMask,
		}
		results[i] = browseOne(store, cps, sid, bd, 0, st.StartIndex)
	}
	return &ua.BrowseNextResponse{Results: results}
}

func referenceCompatible(store addrspace.Store, ref addrspace.Reference, bd *ua.BrowseDescription) bool {
	switch bd.Direction {
	case ua.BrowseDirectionForward:
		if !ref.IsForward {
			return false
		}
	case ua.BrowseDirectionInverse:
		if ref.IsForward {
			return false
		}
	case ua.BrowseDirectionBoth:
	default:
		return false
	}
	if bd.ReferenceTypeID == nil {
		return true
	}
	if bd.IncludeSubtypes {
		return ref.TypeID.Equal(bd.ReferenceTypeID) || store.IsTransitiveSubtype(ref.TypeID, bd.ReferenceTypeID)
	}
	return ref.TypeID.Equal(bd.ReferenceTypeID)
}

func browseOne(store addrspace.Store, cps *continuation.Registry, sid session.ID, bd *ua.BrowseDescription, requestedMax, startIndex int) *ua.BrowseResult {
	node, ok := store.ReadAll(bd.NodeID)
	if !ok {
		return &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
	}
	if bd.Direction != ua.BrowseDirectionForward && bd.Direction != ua.BrowseDirectionInverse && bd.Direction != ua.BrowseDirectionBoth {
		return &ua.BrowseResult{StatusCode: ua.StatusBadBrowseDirectionInvalid}
	}

	var matching []addrspace.Reference
	for _, ref := range node.References {
		if referenceCompatible(store, ref, bd) {
			matching = append(matching, ref)
		}
	}
	if startIndex > len(matching) {
		startIndex = len(matching)
	}
	remaining := matching[startIndex:]

	maxResults := len(remaining)
	if requestedMax > 0 && requestedMax < maxResults {
		maxResults = requestedMax
	}

	refs := make([]*ua.ReferenceDescription, 0, maxResults)
	for _, ref := range remaining[:maxResults] {
		rd := &ua.ReferenceDescription{
			ReferenceTypeID: ref.TypeID,
			IsForward:       ref.IsForward,
			NodeID:          ref.Target,
		}
		if target, ok := store.ReadAll(ref.Target.NodeID); ok {
			rd.BrowseName = target.BrowseName
			rd.DisplayName = target.DisplayName
			rd.NodeClass = target.NodeClass
			rd.TypeDefinition = target.TypeDefinition
		}
		refs = append(refs, rd)
	}

	result := &ua.BrowseResult{StatusCode: ua.StatusOK, References: refs}
	if len(remaining) > maxResults {
		nextIndex := startIndex + maxResults
		tok, created, err := cps.Create(sid, &continuation.BrowseState{
			NodeID:          bd.NodeID,
			Direction:       bd.Direction,
			ReferenceTypeID: bd.ReferenceTypeID,
			IncludeSubtypes: bd.IncludeSubtypes,
			NodeClassMask:   bd.NodeClassMask,
			StartIndex:      nextIndex,
		})
		if err != nil {
			return &ua.BrowseResult{StatusCode: ua.StatusBadOutOfMemory}
		}
		if created {
			result.ContinuationPoint = tok
		} else {
			result.StatusCode = ua.StatusBadNoContinuationPoints
		}
	}
	return result
}

// TranslateBrowsePathsToNodeIDs implements the
// TranslateBrowsePaths service: the starting node of every path must
// be Objects, matching the upstream client's examples/translate CLI's use of
// the well-known ObjectsFolder root.
func TranslateBrowsePathsToNodeIDs(store addrspace.Store, req *ua.TranslateBrowsePathsToNodeIDsRequest) *ua.TranslateBrowsePathsToNodeIDsResponse {
	results := make([]*ua.BrowsePathResult, len(req.BrowsePaths))
	objects := ua.NewTwoByteNodeID(id.ObjectsFolder)
	for i, bp := range req.BrowsePaths {
		results[i] = translateOne(store, objects, bp)
	}
	return &ua.TranslateBrowsePathsToNodeIDsResponse{Results: results}
}

func translateOne(store addrspace.Store, objects *ua.NodeID, bp *ua.BrowsePath) *ua.BrowsePathResult {
	if !bp.StartingNode.Equal(objects) {
		return &ua.BrowsePathResult{StatusCode: ua.StatusBadNoMatch}
	}
	cur := bp.StartingNode
	for _, elem := range bp.RelativePath.Elements {
		if elem.TargetName.Name == "" {
			return &ua.BrowsePathResult{StatusCode: ua.StatusBadBrowseNameInvalid}
		}
		node, ok := store.ReadAll(cur)
		if !ok {
			return &ua.BrowsePathResult{StatusCode: ua.StatusBadNoMatch}
		}
		var next *ua.NodeID
		for _, ref := range node.References {
			if ref.IsForward != !elem.IsInverse {
				continue
			}
			if elem.ReferenceTypeID != nil {
				match := ref.TypeID.Equal(elem.ReferenceTypeID)
				if elem.IncludeSubtypes {
					match = match || store.IsTransitiveSubtype(ref.TypeID, elem.ReferenceTypeID)
				}
				if !match {
					continue
				}
			}
			target, ok := store.ReadAll(ref.Target.NodeID)
			if !ok {
				continue
			}
			if target.BrowseName == elem.TargetName {
				next = ref.Target.NodeID
				break
			}
		}
		if next == nil {
			return &ua.BrowsePathResult{StatusCode: ua.StatusBadNoMatch}
		}
		cur = next
	}
	return &ua.BrowsePathResult{
		StatusCode: ua.StatusOK,
		Targets: []*ua.BrowsePathTarget{
			{TargetID: &ua.ExpandedNodeID{NodeID: cur}, RemainingPathIndex: uint32(len(bp.RelativePath.Elements))},
		},
	}
}
