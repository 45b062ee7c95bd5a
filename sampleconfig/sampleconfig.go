// Copyright (c) 2017-2022 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sampleconfig houses the commented example configuration of umbrad.
package sampleconfig

import (
	_ "embed"
)

// sampleUmbradConf is a string containing the commented example config for
// umbrad.
//
//go:embed sample-umbrad.conf
var sampleUmbradConf string

// Umbrad returns a string containing the commented example config for umbrad.
func Umbrad() string {
	return sampleUmbradConf
}
