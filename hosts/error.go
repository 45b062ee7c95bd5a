// Copyright (c) 2024 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrMalformedAddress indicates a peer address string could not be
	// parsed or carries parts that a peer endpoint never has, such as user
	// info, a query or a fragment.
	ErrMalformedAddress = ErrorKind("ErrMalformedAddress")

	// ErrMissingScheme indicates a peer address string does not specify the
	// transport scheme.
	ErrMissingScheme = ErrorKind("ErrMissingScheme")

	// ErrOpaqueAddress indicates a peer address string is not hierarchical
	// (for example "tcp:example.com:80") and therefore has no authority.
	ErrOpaqueAddress = ErrorKind("ErrOpaqueAddress")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an address related error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason for
// the error by checking the underlying error.
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

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
