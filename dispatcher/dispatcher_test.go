// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package dispatcher

import (
	"testing"

	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

func hdrReq(handle uint32, token *ua.NodeID) *ua.RequestHeader {
	return &ua.RequestHeader{RequestHandle: handle, AuthenticationToken: token}
}

func newActivatedSession(t *testing.T, ch channel.ID) *session.Session {
	t.Helper()
	mgr := session.NewManager(8)
	s, ok := mgr.InitNewSession()
	if !ok {
		t.Fatal("InitNewSession failed")
	}
	if err := mgr.CreateSessionReqAndResp(s, ch, []byte("nonce"), 60000); err != nil {
		t.Fatalf("CreateSessionReqAndResp: %v", err)
	}
	if _, err := mgr.ActivateSession(s, ch, nil); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	return s
}

func TestDispatchDiscoveryNeedsNoSession(t *testing.T) {
	req := &ua.GetEndpointsRequest{}
	req.SetHeader(hdrReq(1, nil))

	called := false
	resp := Dispatch(channel.ID(1), req, func(*ua.NodeID) (*session.Session, bool) {
		t.Fatal("resolve should not be called for discovery requests")
		return nil, false
	}, func(ch channel.ID, s *session.Session, r ua.Request) (ua.Response, ua.StatusCode) {
		called = true
		return &ua.GetEndpointsResponse{}, ua.StatusOK
	})

	if !called {
		t.Fatal("handle was not invoked")
	}
	if _, ok := resp.(*ua.GetEndpointsResponse); !ok {
		t.Fatalf("got response type %T, want *ua.GetEndpointsResponse", resp)
	}
	if resp.Header().ServiceResult != ua.StatusOK {
		t.Fatalf("got service result %v want OK", resp.Header().ServiceResult)
	}
}

func TestDispatchUnknownRequestFaults(t *testing.T) {
	req := &ua.CancelRequest{}
	req.SetHeader(hdrReq(7, nil))

	resp := Dispatch(channel.ID(1), &unknownRequest{req}, nil, nil)
	fault, ok := resp.(*ua.ServiceFault)
	if !ok {
		t.Fatalf("got %T, want *ua.ServiceFault", resp)
	}
	if fault.Header().ServiceResult != ua.StatusBadServiceUnsupported {
		t.Fatalf("got %v want BadServiceUnsupported", fault.Header().ServiceResult)
	}
}

type unknownRequest struct{ *ua.CancelRequest }

func TestDispatchSessionServiceRequiresSession(t *testing.T) {
	req := &ua.ReadRequest{}
	req.SetHeader(hdrReq(3, ua.NewNumericNodeID(0, 99)))

	resp := Dispatch(channel.ID(1), req, func(*ua.NodeID) (*session.Session, bool) {
		return nil, false
	}, func(channel.ID, *session.Session, ua.Request) (ua.Response, ua.StatusCode) {
		t.Fatal("handle should not run without a resolvable session")
		return nil, ua.StatusOK
	})

	fault := resp.(*ua.ServiceFault)
	if fault.Header().ServiceResult != ua.StatusBadSessionIDInvalid {
		t.Fatalf("got %v want BadSessionIDInvalid", fault.Header().ServiceResult)
	}
}

func TestDispatchSessionServiceRequiresBoundChannel(t *testing.T) {
	s := newActivatedSession(t, channel.ID(1))

	req := &ua.ReadRequest{}
	req.SetHeader(hdrReq(3, ua.NewNumericNodeID(0, uint32(s.ID))))

	// Dispatch arrives on a different channel than the session is bound to.
	resp := Dispatch(channel.ID(2), req, func(*ua.NodeID) (*session.Session, bool) {
		return s, true
	}, func(channel.ID, *session.Session, ua.Request) (ua.Response, ua.StatusCode) {
		t.Fatal("handle should not run for a mismatched channel")
		return nil, ua.StatusOK
	})

	fault := resp.(*ua.ServiceFault)
	if fault.Header().ServiceResult != ua.StatusBadSecureChannelIDInvalid {
		t.Fatalf("got %v want BadSecureChannelIDInvalid", fault.Header().ServiceResult)
	}
}

func TestDispatchSessionServiceSuccess(t *testing.T) {
	s := newActivatedSession(t, channel.ID(1))

	req := &ua.ReadRequest{}
	req.SetHeader(hdrReq(5, ua.NewNumericNodeID(0, uint32(s.ID))))

	resp := Dispatch(channel.ID(1), req, func(*ua.NodeID) (*session.Session, bool) {
		return s, true
	}, func(ch channel.ID, sess *session.Session, r ua.Request) (ua.Response, ua.StatusCode) {
		if sess != s {
			t.Fatal("handle did not receive the resolved session")
		}
		return &ua.ReadResponse{}, ua.StatusOK
	})

	got, ok := resp.(*ua.ReadResponse)
	if !ok {
		t.Fatalf("got %T, want *ua.ReadResponse", resp)
	}
	if got.Header().RequestHandle != 5 {
		t.Fatalf("got request handle %d want 5", got.Header().RequestHandle)
	}
}

func TestDispatchHandlerErrorFaults(t *testing.T) {
	s := newActivatedSession(t, channel.ID(1))
	req := &ua.ReadRequest{}
	req.SetHeader(hdrReq(9, ua.NewNumericNodeID(0, uint32(s.ID))))

	resp := Dispatch(channel.ID(1), req, func(*ua.NodeID) (*session.Session, bool) {
		return s, true
	}, func(channel.ID, *session.Session, ua.Request) (ua.Response, ua.StatusCode) {
		return nil, ua.StatusBadOutOfMemory
	})

	fault := resp.(*ua.ServiceFault)
	if fault.Header().ServiceResult != ua.StatusBadOutOfMemory {
		t.Fatalf("got %v want BadOutOfMemory", fault.Header().ServiceResult)
	}
}

func TestValidateResponse(t *testing.T) {
	if !ValidateResponse(&ua.ReadRequest{}, &ua.ReadResponse{}) {
		t.Fatal("matching request/response types should validate")
	}
	if ValidateResponse(&ua.ReadRequest{}, &ua.WriteResponse{}) {
		t.Fatal("mismatched response type should not validate")
	}
}
