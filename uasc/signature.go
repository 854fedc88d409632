// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/wattgrid/opcua-core/internal/uaerr"
	"github.com/wattgrid/opcua-core/ua"
)

// sessionSignatureAlgorithm is the only signature algorithm this
// module's crypto layer implements (RSA-SHA256), mirroring a
// client-side reliance on sechan.NewSessionSignature returning a
// fixed algorithm URI alongside the signature bytes.
const sessionSignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// NewSessionSignature signs the concatenation of the server
// certificate and nonce with the channel's local private key, proving
// to the server that this client is the same entity that opened the
// secure channel (Part 4 §5.6.3), mirroring
// c.sechan.NewSessionSignature(s.serverCertificate, s.serverNonce).
func (s *SecureChannel) NewSessionSignature(serverCert, serverNonce []byte) (sig []byte, alg string, err error) {
	if s.cfg.LocalKey == nil {
		return nil, "", nil
	}
	digest := sha256.Sum256(append(append([]byte{}, serverCert...), serverNonce...))
	sig, err = rsa.SignPKCS1v15(rand.Reader, s.cfg.LocalKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, "", uaerr.Wrap(err, "uasc: sign session signature")
	}
	return sig, sessionSignatureAlgorithm, nil
}

// VerifySessionSignature checks a signature produced by the peer's
// NewSessionSignature, mirroring
// c.sechan.VerifySessionSignature(res.ServerCertificate, nonce, res.ServerSignature.Signature).
func (s *SecureChannel) VerifySessionSignature(localCert, localNonce, signature []byte) error {
	if s.cfg.SecurityMode == ua.MessageSecurityModeNone {
		return nil
	}
	cert, err := x509.ParseCertificate(localCert)
	if err != nil {
		return uaerr.Wrap(err, "uasc: parse certificate for signature verification")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return ua.StatusBadCertificateInvalid
	}
	digest := sha256.Sum256(append(append([]byte{}, localCert...), localNonce...))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return ua.StatusBadUserAccessDenied
	}
	return nil
}

// NewUserTokenSignature signs the server certificate+nonce with a
// certificate-based (X509) user identity token's private key,
// mirroring c.sechan.NewUserTokenSignature(policyURI, serverCert, serverNonce).
// Only RSA-SHA256 is supported, matching NewSessionSignature.
func (s *SecureChannel) NewUserTokenSignature(policyURI string, serverCert, serverNonce []byte) (sig []byte, alg string, err error) {
	return s.NewSessionSignature(serverCert, serverNonce)
}

// EncryptUserPassword encrypts a UserName identity token's password
// with the server's public key, mirroring
// c.sechan.EncryptUserPassword(policyURI, password, serverCert, serverNonce).
// With SecurityPolicyURINone the password is sent in clear text, as
// Part 4 §7.36.3 requires when no policy negotiates encryption.
func (s *SecureChannel) EncryptUserPassword(policyURI string, password []byte, serverCert, serverNonce []byte) (encrypted []byte, alg string, err error) {
	if policyURI == "" || policyURI == ua.SecurityPolicyURINone {
		return password, "", nil
	}
	cert, err := x509.ParseCertificate(serverCert)
	if err != nil {
		return nil, "", uaerr.Wrap(err, "uasc: parse server certificate")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, "", ua.StatusBadCertificateInvalid
	}
	plain := append(append([]byte{}, password...), serverNonce...)
	enc, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plain, nil)
	if err != nil {
		return nil, "", uaerr.Wrap(err, "uasc: encrypt user password")
	}
	return enc, "http://www.w3.org/2001/04/xmlenc#rsa-oaep", nil
}
