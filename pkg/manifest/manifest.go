// Copyright © 2018 One Concern

// Package manifest describes the content of an artifact: an ordered list of
// files, each pointing to the chunk holding its bytes.
//
// The serialized form is a JSON document:
//
//	{
//	  "format": 1,
//	  "files": [
//	    ["bin/tool", "5720161489736958493", true],
//	    ["doc/README", "1134987123563402712", false]
//	  ]
//	}
//
// Each entry is a 3-element array: path relative to the artifact root, chunk identifier, executable flag.
package manifest

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/oneconcern/castor/pkg/hash"
)

// Format is the current version of the manifest document
const Format = 1

// Entry describes one file of an artifact
type Entry struct {
	Path       string
	Hash       string
	Executable bool
}

// Fields of the entry that make the manifest identity
func (e Entry) Fields() (string, string, bool) {
	return e.Path, e.Hash, e.Executable
}

// RelPath is the cleaned path of the entry relative to the artifact root,
// tolerating a leading slash.
func (e Entry) RelPath() string {
	return path.Clean(strings.TrimPrefix(e.Path, "/"))
}

// MarshalJSON renders the entry as a [path, hash, executable] array
func (e Entry) MarshalJSON() ([]byte, error) {
	return jsoniter.Marshal([]interface{}{e.Path, e.Hash, e.Executable})
}

// UnmarshalJSON reads an entry from a [path, hash, executable] array
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields []jsoniter.RawMessage
	if err := jsoniter.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("manifest entry is not an array: %w", err)
	}
	if len(fields) != 3 {
		return fmt.Errorf("manifest entry must have 3 elements, got %d", len(fields))
	}
	if err := jsoniter.Unmarshal(fields[0], &e.Path); err != nil {
		return fmt.Errorf("manifest entry path: %w", err)
	}
	if err := jsoniter.Unmarshal(fields[1], &e.Hash); err != nil {
		return fmt.Errorf("manifest entry hash: %w", err)
	}
	if err := jsoniter.Unmarshal(fields[2], &e.Executable); err != nil {
		return fmt.Errorf("manifest entry executable flag: %w", err)
	}
	return nil
}

// Manifest lists the files of an artifact
type Manifest struct {
	Format int     `json:"format"`
	Files  []Entry `json:"files"`
}

// New manifest for some entries, in the current format
func New(entries []Entry) *Manifest {
	if entries == nil {
		entries = []Entry{}
	}
	return &Manifest{Format: Format, Files: entries}
}

// Hash computes the manifest identifier
func (m *Manifest) Hash(h hash.Hasher) string {
	return hash.Manifest(h, m.Files)
}

// Chunks returns the distinct chunk identifiers referenced by the manifest, in order of first appearance
func (m *Manifest) Chunks() []string {
	seen := make(map[string]struct{}, len(m.Files))
	chunks := make([]string, 0, len(m.Files))
	for _, e := range m.Files {
		if _, ok := seen[e.Hash]; ok {
			continue
		}
		seen[e.Hash] = struct{}{}
		chunks = append(chunks, e.Hash)
	}
	return chunks
}

// Validate the format tag and every entry
func (m *Manifest) Validate() error {
	if m.Format != Format {
		return status.ErrMalformed.Wrap(fmt.Errorf("unsupported manifest format %d", m.Format))
	}
	for i, e := range m.Files {
		if err := validateEntry(e); err != nil {
			return status.ErrMalformed.Wrap(fmt.Errorf("manifest entry %d: %w", i, err))
		}
	}
	return nil
}

func validateEntry(e Entry) error {
	p := strings.TrimPrefix(e.Path, "/")
	switch {
	case p == "":
		return fmt.Errorf("empty path")
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("absolute path %q", e.Path)
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("path %q contains a NUL byte", e.Path)
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." {
			return fmt.Errorf("path %q escapes the artifact root", e.Path)
		}
	}
	if clean := path.Clean(p); clean == "." {
		return fmt.Errorf("path %q designates the artifact root", e.Path)
	}

	if e.Hash == "" || e.Hash == "." || e.Hash == ".." || strings.ContainsAny(e.Hash, "/\\\x00") {
		return fmt.Errorf("invalid chunk identifier %q for %q", e.Hash, e.Path)
	}
	return nil
}

// Encode a manifest as an indented JSON document
func Encode(m *Manifest) ([]byte, error) {
	data, err := jsoniter.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// Decode and validate a manifest document
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := jsoniter.Unmarshal(bytes.TrimSpace(data), &m); err != nil {
		return nil, status.ErrMalformed.Wrap(fmt.Errorf("decoding manifest: %w", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Files == nil {
		m.Files = []Entry{}
	}
	return &m, nil
}
