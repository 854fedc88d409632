// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package reqtable implements the client-side Request-Handle Table
//: tracking outstanding requests so an inbound response
// can be matched back to the call that sent it and, on channel loss,
// released with a synthetic error. It generalizes the upstream client's
// per-call `respCh := make(chan Response, 1)` pattern (visible in the
// recovered uasc.SecureChannel.sendAsyncWithTimeout) into an explicit
// table satisfying invariant 7.
package reqtable

import (
	"reflect"
	"sync"

	"github.com/wattgrid/opcua-core/channel"
	"github.com/wattgrid/opcua-core/ua"
)

// Entry is one outstanding request.
type Entry struct {
	Handle               uint32
	ReqType              reflect.Type
	ExpectedResponseType reflect.Type
	Channel              channel.ID
	IsApplicative        bool
	AppContext           interface{}

	done chan Entry
	resp ua.Response
	err  error
}

// Table tracks outstanding client requests, goroutine-safe.
type Table struct {
	mu      sync.Mutex
	nextSeq uint32
	entries map[uint32]*Entry
}

// NewTable builds an empty request-handle table.
func NewTable() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// Register allocates a fresh handle for an outbound request on ch,
// expecting a response of type respType.
func (t *Table) Register(reqType, respType reflect.Type, ch channel.ID, isApplicative bool, appContext interface{}) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	e := &Entry{
		Handle:               t.nextSeq,
		ReqType:              reqType,
		ExpectedResponseType: respType,
		Channel:              ch,
		IsApplicative:        isApplicative,
		AppContext:           appContext,
		done:                 make(chan Entry, 1),
	}
	t.entries[e.Handle] = e
	return e
}

// Accept delivers resp as the reply to handle, arriving on ch.
// Acceptance requires: the handle exists, its channel equals the
// delivering channel, and the response type matches -- otherwise the
// handle is released and the message dropped.
func (t *Table) Accept(handle uint32, ch channel.ID, resp ua.Response) bool {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if e.Channel != ch {
		e.err = ua.StatusBadSecureChannelIDInvalid
		e.done <- *e
		return false
	}
	if e.ExpectedResponseType != nil && reflect.TypeOf(resp) != e.ExpectedResponseType {
		e.err = ua.StatusBadUnknownResponse
		e.done <- *e
		return false
	}
	e.resp = resp
	e.done <- *e
	return true
}

// Fail completes handle with err directly (e.g. a ServiceFault
// substitution).
func (t *Table) Fail(handle uint32, err error) bool {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.err = err
	e.done <- *e
	return true
}

// Forget removes handle without completing it, for a caller that
// tracks its own reply out-of-band (e.g. uasc.SecureChannel's direct
// call/response channel) and only needs the table for invariant 7's
// channel-loss release.
func (t *Table) Forget(handle uint32) {
	t.mu.Lock()
	delete(t.entries, handle)
	t.mu.Unlock()
}

// Wait blocks until e's response or error arrives.
func (e *Entry) Wait() (ua.Response, error) {
	r := <-e.done
	return r.resp, r.err
}

// ReleaseChannel releases every outstanding handle bound to ch with
// BadSecureChannelClosed, mirroring invariant 7 ("on channel loss it
// is released") and the cancellation rule.
func (t *Table) ReleaseChannel(ch channel.ID) {
	t.mu.Lock()
	var released []*Entry
	for h, e := range t.entries {
		if e.Channel == ch {
			released = append(released, e)
			delete(t.entries, h)
		}
	}
	t.mu.Unlock()

	for _, e := range released {
		e.err = ua.StatusBadSecureChannelClosed
		e.done <- *e
	}
}
