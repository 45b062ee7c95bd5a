// Copyright (c) 2020 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrDialNil is used to indicate that Dial cannot be nil in the
	// configuration.
	ErrDialNil = ErrorKind("ErrDialNil")

	// ErrSourceNil is used to indicate that Source cannot be nil in the
	// configuration.
	ErrSourceNil = ErrorKind("ErrSourceNil")

	// ErrNoPendingConn indicates there is no pending connection to the
	// requested address.
	ErrNoPendingConn = ErrorKind("ErrNoPendingConn")

	// ErrStopped indicates the connection manager was stopped before the
	// request could be processed.
	ErrStopped = ErrorKind("ErrStopped")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to the connection manager.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// MakeError creates an Error given a set of arguments.
func MakeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
