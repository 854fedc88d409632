// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package testutil centralizes the deep-equal assertion helper used by
// the ua package's unit tests, built on the goe verify library.
package testutil

import (
	"testing"

	"github.com/pascaldekloe/goe/verify"
)

// Equal fails the test with a readable diff if got != want.
func Equal(t *testing.T, label string, got, want interface{}) {
	t.Helper()
	verify.Values(t, label, got, want)
}
