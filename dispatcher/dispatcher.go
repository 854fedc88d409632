// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package dispatcher implements the Service Dispatcher:
// classifying inbound requests, mapping each to its response type,
// validating session/channel binding per class, and substituting a
// ServiceFault on any service-layer error. It is the server-side
// counterpart to reqtable's client-side symmetric response validation,
// generalized from the upstream client's per-service switch in client.go's
// request-sending helpers.
package dispatcher

import (
	"reflect"

	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/internal/debug"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

// Class is the message classification assigned to every inbound
// request.
type Class int

const (
	ClassUnknown Class = iota
	ClassSessionTreatment
	ClassSessionService
	ClassDiscovery
)

// classify maps a request to its message classification.
func classify(req ua.Request) Class {
	switch req.(type) {
	case *ua.CreateSessionRequest, *ua.ActivateSessionRequest, *ua.CloseSessionRequest, *ua.CancelRequest:
		return ClassSessionTreatment
	case *ua.ReadRequest, *ua.WriteRequest, *ua.BrowseRequest, *ua.BrowseNextRequest,
		*ua.TranslateBrowsePathsToNodeIDsRequest, *ua.RegisterNodesRequest,
		*ua.UnregisterNodesRequest, *ua.DeleteSubscriptionsRequest:
		return ClassSessionService
	case *ua.FindServersRequest, *ua.GetEndpointsRequest:
		return ClassDiscovery
	default:
		return ClassUnknown
	}
}

// responseType is the pure total request->response type mapping.
// Unknown request types map to BadServiceUnsupported (ok=false).
func responseType(req ua.Request) (reflect.Type, bool) {
	switch req.(type) {
	case *ua.CreateSessionRequest:
		return reflect.TypeOf(&ua.CreateSessionResponse{}), true
	case *ua.ActivateSessionRequest:
		return reflect.TypeOf(&ua.ActivateSessionResponse{}), true
	case *ua.CloseSessionRequest:
		return reflect.TypeOf(&ua.CloseSessionResponse{}), true
	case *ua.CancelRequest:
		return reflect.TypeOf(&ua.CancelResponse{}), true
	case *ua.ReadRequest:
		return reflect.TypeOf(&ua.ReadResponse{}), true
	case *ua.WriteRequest:
		return reflect.TypeOf(&ua.WriteResponse{}), true
	case *ua.BrowseRequest:
		return reflect.TypeOf(&ua.BrowseResponse{}), true
	case *ua.BrowseNextRequest:
		return reflect.TypeOf(&ua.BrowseNextResponse{}), true
	case *ua.TranslateBrowsePathsToNodeIDsRequest:
		return reflect.TypeOf(&ua.TranslateBrowsePathsToNodeIDsResponse{}), true
	case *ua.RegisterNodesRequest:
		return reflect.TypeOf(&ua.RegisterNodesResponse{}), true
	case *ua.UnregisterNodesRequest:
		return reflect.TypeOf(&ua.UnregisterNodesResponse{}), true
	case *ua.DeleteSubscriptionsRequest:
		return reflect.TypeOf(&ua.DeleteSubscriptionsResponse{}), true
	case *ua.FindServersRequest:
		return reflect.TypeOf(&ua.FindServersResponse{}), true
	case *ua.GetEndpointsRequest:
		return reflect.TypeOf(&ua.GetEndpointsResponse{}), true
	default:
		return nil, false
	}
}

// SessionResolver resolves the session bound to an AuthenticationToken
// NodeID, for the channel+token+session-state validation the
// session-service class requires.
type SessionResolver func(token *ua.NodeID) (*session.Session, bool)

// Handler invokes the service body for req arriving on ch for session
// s (nil for discovery/treatment-without-session-yet requests) and
// returns the populated response, or an error status to be faulted.
type Handler func(ch channel.ID, s *session.Session, req ua.Request) (ua.Response, ua.StatusCode)

// Dispatch classifies, validates, and routes one inbound request.
// resolve looks up the session bound to the request's
// AuthenticationToken; handle actually runs the service. Dispatch
// itself never touches transport: encoding and handing the response
// to the channel manager is the caller's responsibility.
func Dispatch(ch channel.ID, req ua.Request, resolve SessionResolver, handle Handler) ua.Response {
	class := classify(req)
	respType, known := responseType(req)
	if !known {
		debug.Printf("dispatcher: unknown request type %T", req)
		return fault(req, ua.StatusBadServiceUnsupported)
	}

	var s *session.Session
	switch class {
	case ClassDiscovery:
		// no session validation
	case ClassSessionTreatment:
		if _, ok := req.(*ua.CreateSessionRequest); !ok {
			var ok2 bool
			s, ok2 = resolve(req.Header().AuthenticationToken)
			if !ok2 {
				return fault(req, ua.StatusBadSessionIDInvalid)
			}
		}
	case ClassSessionService:
		var ok2 bool
		s, ok2 = resolve(req.Header().AuthenticationToken)
		if !ok2 {
			return fault(req, ua.StatusBadSessionIDInvalid)
		}
		if s.State() != session.StateUserActivated {
			return fault(req, ua.StatusBadSessionNotActivated)
		}
		if bound, ok3 := s.Channel(); !ok3 || bound != ch {
			return fault(req, ua.StatusBadSecureChannelIDInvalid)
		}
	default:
		return fault(req, ua.StatusBadServiceUnsupported)
	}

	resp, status := handle(ch, s, req)
	if status != ua.StatusOK {
		return fault(req, status)
	}
	if reflect.TypeOf(resp) != respType {
		debug.Printf("dispatcher: handler for %T returned unexpected response type %T", req, resp)
		return fault(req, ua.StatusBadInternalError)
	}
	resp.SetHeader(&ua.ResponseHeader{RequestHandle: req.Header().RequestHandle, ServiceResult: ua.StatusOK})
	return resp
}

// fault builds a ServiceFault response carrying status.
func fault(req ua.Request, status ua.StatusCode) ua.Response {
	f := &ua.ServiceFault{}
	f.SetHeader(&ua.ResponseHeader{RequestHandle: req.Header().RequestHandle, ServiceResult: status})
	return f
}

// ValidateResponse implements the client-side symmetric
// path: the response type must match what the outstanding
// RequestHandle expects.
func ValidateResponse(req ua.Request, resp ua.Response) bool {
	want, ok := responseType(req)
	if !ok {
		return false
	}
	return reflect.TypeOf(resp) == want
}
