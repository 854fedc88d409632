// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "time"

// RequestHeader is common to every service request (Part 4 §7.29).
type RequestHeader struct {
	AuthenticationToken *NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
}

// ResponseHeader is common to every service response (Part 4 §7.31).
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
	StringTable   []string
}

// Request is implemented by every *Request type. Header/SetHeader
// let the secure channel and dispatcher populate the common fields
// without a type switch per service, the way the upstream client's
// req.SetHeader(s.reqhdr) call does in client.go.
type Request interface {
	Header() *RequestHeader
	SetHeader(*RequestHeader)
}

// Response is implemented by every *Response type.
type Response interface {
	Header() *ResponseHeader
	SetHeader(*ResponseHeader)
}

// baseRequest/baseResponse are embedded by every concrete service
// struct to satisfy Request/Response without repeating the method
// bodies -- the same embedding idiom the upstream client applies implicitly
// via struct-tag codegen, made explicit here since this module hand
// writes the service types instead of generating them from an XSD.
type baseRequest struct {
	RequestHeader *RequestHeader
}

func (r *baseRequest) Header() *RequestHeader     { return r.RequestHeader }
func (r *baseRequest) SetHeader(h *RequestHeader) { r.RequestHeader = h }

type baseResponse struct {
	ResponseHeader *ResponseHeader
}

func (r *baseResponse) Header() *ResponseHeader     { return r.ResponseHeader }
func (r *baseResponse) SetHeader(h *ResponseHeader) { r.ResponseHeader = h }

// ServiceFault is returned by the dispatcher in place of the proper
// response type when a service-layer error occurs.
type ServiceFault struct {
	baseResponse
}
