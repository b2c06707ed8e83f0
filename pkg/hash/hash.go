// Copyright © 2018 One Concern

// Package hash provides the content identity used to name chunks and manifests.
//
// Hashes are fast and non-cryptographic: they protect against accidental collisions
// and transport corruption, not against deliberate forgeries.
// Identifiers are rendered as unsigned decimal strings, so they are stable across platforms.
package hash

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
	"github.com/zeebo/xxh3"
)

const (
	// SchemeXXH3 is the default scheme, based on 64-bit XXH3 with seed 0
	SchemeXXH3 = "xxh3"

	// SchemeXXHash uses the 64-bit xxHash (XXH64)
	SchemeXXHash = "xxhash"

	// SchemeFarm uses the 64-bit FarmHash fingerprint
	SchemeFarm = "farm"
)

// Hasher computes the content identity of some bytes
type Hasher interface {
	Sum([]byte) string
	Scheme() string
}

// Default returns the default hasher
func Default() Hasher {
	return xxh3Hasher{}
}

// New hasher for a named scheme. An empty scheme selects the default one.
func New(scheme string) (Hasher, error) {
	switch scheme {
	case "", SchemeXXH3:
		return xxh3Hasher{}, nil
	case SchemeXXHash:
		return xxHasher{}, nil
	case SchemeFarm:
		return farmHasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported hash scheme: %q", scheme)
	}
}

// Sum is a shorthand for Default().Sum(data)
func Sum(data []byte) string {
	return Default().Sum(data)
}

type xxh3Hasher struct{}

func (xxh3Hasher) Sum(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 10)
}

func (xxh3Hasher) Scheme() string { return SchemeXXH3 }

type xxHasher struct{}

func (xxHasher) Sum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 10)
}

func (xxHasher) Scheme() string { return SchemeXXHash }

type farmHasher struct{}

func (farmHasher) Sum(data []byte) string {
	return strconv.FormatUint(farm.Fingerprint64(data), 10)
}

func (farmHasher) Scheme() string { return SchemeFarm }
