package hash

import (
	"strconv"
	"strings"
)

// Triple is the hashed view of a manifest entry
type Triple interface {
	Fields() (path string, chunk string, executable bool)
}

// Manifest computes the identity of an ordered list of manifest entries.
//
// The hash covers path, chunk id and executable flag of every entry, in order:
// reordering entries yields a different identity. An empty list hashes like empty input.
func Manifest[T Triple](h Hasher, entries []T) string {
	var b strings.Builder
	for _, e := range entries {
		path, chunk, executable := e.Fields()
		b.WriteString(path)
		b.WriteString(chunk)
		b.WriteString(strconv.FormatBool(executable))
	}
	return h.Sum([]byte(b.String()))
}
