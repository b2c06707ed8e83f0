package core

import (
	"github.com/oneconcern/castor/pkg/layout"
	"github.com/oneconcern/castor/pkg/source"
)

// Store describes a local installation target and where to get content from
type Store struct {
	// Path to the store root, holding chunks, manifests and artifacts
	Path string

	// CacheRoot holds content fetched from the sources
	CacheRoot string

	// Sources are consulted in order
	Sources []source.Source

	// Layout of both the store and the repositories behind the sources.
	// A zero value selects the default layout.
	Layout layout.Layout
}

func (s Store) layout() layout.Layout {
	if s.Layout == (layout.Layout{}) {
		return layout.Default()
	}
	return s.Layout
}
