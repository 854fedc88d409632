// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package continuation

import (
	"testing"

	"github.com/wattgrid/opcua-core/session"
)

func TestCreateEnforcesPerSessionQuota(t *testing.T) {
	r := NewRegistry(2)
	sid := session.ID(1)

	if _, ok, err := r.Create(sid, &BrowseState{}); err != nil || !ok {
		t.Fatalf("first Create: (%v, %v)", ok, err)
	}
	if _, ok, err := r.Create(sid, &BrowseState{}); err != nil || !ok {
		t.Fatalf("second Create: (%v, %v)", ok, err)
	}
	if _, ok, err := r.Create(sid, &BrowseState{}); err != nil || ok {
		t.Fatalf("third Create should fail once quota is exhausted, got (%v, %v)", ok, err)
	}

	other := session.ID(2)
	if _, ok, err := r.Create(other, &BrowseState{}); err != nil || !ok {
		t.Fatal("quota is per-session, a different session should still have room")
	}
}

func TestConsumeIsDestructive(t *testing.T) {
	r := NewRegistry(4)
	sid := session.ID(1)
	want := &BrowseState{StartIndex: 5}
	token, ok, err := r.Create(sid, want)
	if err != nil || !ok {
		t.Fatalf("Create: (%v, %v)", ok, err)
	}

	got, ok := r.Consume(sid, token)
	if !ok || got != want {
		t.Fatalf("got (%v, %v) want (%v, true)", got, ok, want)
	}

	if _, ok := r.Consume(sid, token); ok {
		t.Fatal("a consumed continuation point must not be retrievable again")
	}
}

func TestConsumeUnknownTokenFails(t *testing.T) {
	r := NewRegistry(4)
	if _, ok := r.Consume(session.ID(1), []byte("nonexistent")); ok {
		t.Fatal("Consume should fail for a token that was never created")
	}
}

func TestReleaseSessionDropsAllPoints(t *testing.T) {
	r := NewRegistry(4)
	sid := session.ID(1)
	tok1, _, _ := r.Create(sid, &BrowseState{})
	tok2, _, _ := r.Create(sid, &BrowseState{})

	r.ReleaseSession(sid)

	if _, ok := r.Consume(sid, tok1); ok {
		t.Fatal("ReleaseSession should drop every point owned by the session")
	}
	if _, ok := r.Consume(sid, tok2); ok {
		t.Fatal("ReleaseSession should drop every point owned by the session")
	}

	// the session's quota bucket should also be free for new points again.
	if _, ok, err := r.Create(sid, &BrowseState{}); err != nil || !ok {
		t.Fatal("a released session should regain its full quota")
	}
}

func TestReleaseTokensOnlyDropsNamed(t *testing.T) {
	r := NewRegistry(4)
	sid := session.ID(1)
	keep, _, _ := r.Create(sid, &BrowseState{StartIndex: 1})
	drop, _, _ := r.Create(sid, &BrowseState{StartIndex: 2})

	r.ReleaseTokens(sid, [][]byte{drop})

	if _, ok := r.Consume(sid, drop); ok {
		t.Fatal("the released token should no longer resolve")
	}
	if _, ok := r.Consume(sid, keep); !ok {
		t.Fatal("a token not named in ReleaseTokens should remain usable")
	}
}
