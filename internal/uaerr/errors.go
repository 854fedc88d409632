// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uaerr is a thin façade over github.com/pkg/errors, kept
// separate so call sites never import pkg/errors directly. This is
// the same indirection the upstream client uses for its internal "errors"
// package.
package uaerr

import "github.com/pkg/errors"

// Errorf formats an error, annotated with the call site.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with a message. Returns nil if err is nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause returns the underlying cause of err, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}
