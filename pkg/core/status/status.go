// Package status exports the error kinds produced by castor packages.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/core and the lower
// level packages (registry, layout, manifest, resolver).
package status

import (
	"github.com/oneconcern/castor/pkg/errors"
)

var (
	// ErrAlreadyExists indicates that a bootstrap target is already present on the filesystem
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound indicates that an artifact name or some content is absent from every source
	ErrNotFound = errors.New("not found")

	// ErrMalformed indicates an unparsable registry or manifest, or an invalid name
	ErrMalformed = errors.New("malformed")

	// ErrIntegrity indicates that a fetched chunk does not hash to its expected identifier
	ErrIntegrity = errors.New("integrity check failed")

	// ErrIO indicates a filesystem or network failure
	ErrIO = errors.New("i/o failure")

	// ErrNotSupported indicates that the underlying filesystem lacks a required capability (e.g. symlinks)
	ErrNotSupported = errors.New("not supported")
)
