// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package auth implements the security/user manager collaborator
//: authenticating an incoming UserIdentityToken
// and producing the addrspace.Identity that flows through subsequent
// Read/Write authorization checks.
package auth

import (
	"github.com/wattgrid/opcua-core/ua"
)

// User is the concrete addrspace.Identity this package hands back
// from Authenticate.
type User struct {
	ID string
}

// UserID implements addrspace.Identity.
func (u *User) UserID() string { return u.ID }

// Anonymous is the Identity produced for UserTokenTypeAnonymous.
var Anonymous = &User{ID: ""}

// Manager authenticates identity tokens for one endpoint, mirroring
// a security/user manager collaborator (`authenticate`, `deallocate_user`).
type Manager struct {
	// credentials maps username -> password for UserName tokens. A nil
	// map rejects every UserName token.
	credentials map[string]string
}

// NewManager builds a Manager with the given username/password table.
func NewManager(credentials map[string]string) *Manager {
	return &Manager{credentials: credentials}
}

// Authenticate validates token and returns the resulting Identity,
// mirroring the security manager's authenticate(endpointIdx, token).
func (m *Manager) Authenticate(token *ua.ExtensionObject) (ua.StatusCode, *User) {
	if token == nil {
		return ua.StatusOK, Anonymous
	}
	switch t := token.Value.(type) {
	case nil, *ua.AnonymousIdentityToken:
		return ua.StatusOK, Anonymous
	case *ua.UserNameIdentityToken:
		want, ok := m.credentials[t.UserName]
		if !ok || want != string(t.Password) {
			return ua.StatusBadIdentityTokenRejected, nil
		}
		return ua.StatusOK, &User{ID: "username:" + t.UserName}
	case *ua.X509IdentityToken:
		if len(t.CertificateData) == 0 {
			return ua.StatusBadIdentityTokenInvalid, nil
		}
		return ua.StatusOK, &User{ID: "x509:" + string(t.CertificateData)}
	case *ua.IssuedIdentityToken:
		if len(t.TokenData) == 0 {
			return ua.StatusBadIdentityTokenInvalid, nil
		}
		return ua.StatusOK, &User{ID: "issued:" + string(t.TokenData)}
	default:
		return ua.StatusBadIdentityTokenInvalid, nil
	}
}

// Deallocate releases any resources held for user. The in-memory
// Manager holds none, so this is a no-op kept for interface parity
// with the deallocate_user collaborator operation.
func (m *Manager) Deallocate(user *User) {}
