// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package continuation implements per-session bounded storage of
// Browse/BrowseNext iterator state, keyed by an opaque token handed
// back to the client.
package continuation

import (
	"crypto/rand"
	"sync"

	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/session"
	"github.com/wattgrid/opcua-core/ua"
)

// BrowseState is the iterator state a continuation point remembers.
type BrowseState struct {
	NodeID          *ua.NodeID
	Direction       ua.BrowseDirection
	ReferenceTypeID *ua.NodeID
	IncludeSubtypes bool
	NodeClassMask   uint32
	StartIndex      int
}

// Registry is a per-session bounded map from opaque continuation-point
// tokens to BrowseState.
type Registry struct {
	mu       sync.Mutex
	quota    int
	points   map[session.ID]map[string]*BrowseState
}

// NewRegistry builds a Registry allowing up to quota continuation
// points per session.
func NewRegistry(quota int) *Registry {
	return &Registry{quota: quota, points: make(map[session.ID]map[string]*BrowseState)}
}

func newHandle() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", uaerr.Wrap(err, "continuation: generate handle")
	}
	return string(b), nil
}

// Create stores st for sid and returns its opaque token. Fails with
// BadNoContinuationPoints if the session's quota is full. Creation
// success is reported precisely: Create returns ok=true iff a point
// was actually stored.
func (r *Registry) Create(sid session.ID, st *BrowseState) (token []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.points[sid]
	if bucket == nil {
		bucket = make(map[string]*BrowseState)
		r.points[sid] = bucket
	}
	if len(bucket) >= r.quota {
		return nil, false, nil
	}
	h, err := newHandle()
	if err != nil {
		return nil, false, err
	}
	bucket[h] = st
	return []byte(h), true, nil
}

// Consume retrieves and removes the continuation point identified by
// token for sid. BrowseNext consumption is destructive by design: a
// continuation point is single-use.
func (r *Registry) Consume(sid session.ID, token []byte) (*BrowseState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.points[sid]
	if bucket == nil {
		return nil, false
	}
	st, ok := bucket[string(token)]
	if !ok {
		return nil, false
	}
	delete(bucket, string(token))
	return st, true
}

// ReleaseSession drops every continuation point owned by sid, called
// on session close.
func (r *Registry) ReleaseSession(sid session.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.points, sid)
}

// ReleaseTokens releases specific tokens without consuming their
// state, used by BrowseNext's releaseContinuationPoints=true path.
func (r *Registry) ReleaseTokens(sid session.ID, tokens [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.points[sid]
	if bucket == nil {
		return
	}
	for _, tok := range tokens {
		delete(bucket, string(tok))
	}
}
