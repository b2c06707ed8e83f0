// Copyright © 2018 One Concern

// Package status declares error constants returned by
// implementations of the Source interface.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/source and one
// of its implementations.
package status

import "github.com/oneconcern/castor/pkg/errors"

var (
	// ErrNotFound indicates that the source definitely does not hold the requested object
	ErrNotFound = errors.New("object not found")

	// ErrForbidden indicates that the source denies access to the requested object
	ErrForbidden = errors.New("forbidden")

	// ErrTooBig indicates that the object exceeds the configured maximum size
	ErrTooBig = errors.New("object too big")

	// ErrSourceAPI indicates any other failure reported by a remote source
	ErrSourceAPI = errors.New("source API error")
)
