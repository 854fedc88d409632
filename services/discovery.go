// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package services

import (
	"github.com/wattgrid/opcua-core/addrspace"
	"github.com/wattgrid/opcua-core/ua"
)

const maxBulkOperations = 1000

// RegisterNodes implements the RegisterNodes service: the
// core has no server-assigned alias ids, so registration is validated
// pass-through.
func RegisterNodes(store addrspace.Store, req *ua.RegisterNodesRequest) (*ua.RegisterNodesResponse, ua.StatusCode) {
	if len(req.NodesToRegister) == 0 {
		return nil, ua.StatusBadNothingToDo
	}
	if len(req.NodesToRegister) > maxBulkOperations {
		return nil, ua.StatusBadTooManyOperations
	}
	ids := make([]*ua.NodeID, len(req.NodesToRegister))
	copy(ids, req.NodesToRegister)
	return &ua.RegisterNodesResponse{RegisteredNodeIDs: ids}, ua.StatusOK
}

// UnregisterNodes implements the UnregisterNodes service.
func UnregisterNodes(req *ua.UnregisterNodesRequest) (*ua.UnregisterNodesResponse, ua.StatusCode) {
	if len(req.NodesToUnregister) == 0 {
		return nil, ua.StatusBadNothingToDo
	}
	if len(req.NodesToUnregister) > maxBulkOperations {
		return nil, ua.StatusBadTooManyOperations
	}
	return &ua.UnregisterNodesResponse{}, ua.StatusOK
}

// DeleteSubscriptions implements the DeleteSubscriptions
// service. del reports whether a subscription id existed and was
// removed.
func DeleteSubscriptions(req *ua.DeleteSubscriptionsRequest, del func(id uint32) bool) (*ua.DeleteSubscriptionsResponse, ua.StatusCode) {
	if len(req.SubscriptionIDs) == 0 {
		return nil, ua.StatusBadNothingToDo
	}
	if len(req.SubscriptionIDs) > maxBulkOperations {
		return nil, ua.StatusBadTooManyOperations
	}
	results := make([]ua.StatusCode, len(req.SubscriptionIDs))
	for i, id := range req.SubscriptionIDs {
		if del(id) {
			results[i] = ua.StatusOK
		} else {
			results[i] = ua.StatusBadSubscriptionIDInvalid
		}
	}
	return &ua.DeleteSubscriptionsResponse{Results: results}, ua.StatusOK
}

// ServerDescriptor is the fixed, single-record description FindServers
// returns.
type ServerDescriptor struct {
	Application    ua.ApplicationDescription
	DiscoveryURLs  []string
	AnonymousOnly  bool
	HasDiscoveryEP bool
}

// FindServers implements the FindServers service. The
// single-record policy (one server record, never per-namespace
// fan-out) is preserved as a deliberate design choice.
func FindServers(desc ServerDescriptor, preferredLocale string) *ua.FindServersResponse {
	app := desc.Application
	if preferredLocale != "" {
		app.ApplicationName.Locale = preferredLocale
	}
	if desc.AnonymousOnly || desc.HasDiscoveryEP {
		app.DiscoveryURIs = desc.DiscoveryURLs
	}
	return &ua.FindServersResponse{Servers: []ua.ApplicationDescription{app}}
}

// GetEndpoints implements the GetEndpoints discovery handler,
// grounded on the upstream client's GetEndpoints/SelectEndpoint
// helpers and S2OPC's service_mgr.c discovery handling.
func GetEndpoints(endpoints []*ua.EndpointDescription, req *ua.GetEndpointsRequest) *ua.GetEndpointsResponse {
	if len(req.ProfileURIs) == 0 {
		return &ua.GetEndpointsResponse{Endpoints: endpoints}
	}
	var filtered []*ua.EndpointDescription
	for _, e := range endpoints {
		for _, p := range req.ProfileURIs {
			if e.TransportProfileURI == p {
				filtered = append(filtered, e)
				break
			}
		}
	}
	return &ua.GetEndpointsResponse{Endpoints: filtered}
}
