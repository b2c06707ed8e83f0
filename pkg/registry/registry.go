// Copyright © 2018 One Concern

// Package registry maintains the mapping from artifact names to manifest hashes.
//
// The registry is a UTF-8 text file with one "name:value" record per line.
// The split happens on the first colon, so values may contain colons while names may not.
//
// Updates rewrite the whole file through a staged rename: a crash never leaves a truncated registry.
// Concurrent writers are not coordinated and may lose updates.
package registry

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/oneconcern/castor/internal/fsutil"
	"github.com/oneconcern/castor/pkg/core/status"
	"github.com/spf13/afero"
)

const separator = ":"

// Record associates an artifact name with a manifest hash
type Record struct {
	Name  string
	Value string
}

// String renders the record as a registry line, without line terminator
func (r Record) String() string {
	return r.Name + separator + r.Value
}

// Registry reads and updates a registry file
type Registry struct {
	fs   afero.Fs
	path string
}

// New registry located at path on fs. The file need not exist.
func New(fs afero.Fs, path string) *Registry {
	return &Registry{fs: fs, path: path}
}

// Path to the registry file
func (r *Registry) Path() string {
	return r.path
}

// List all records, in file order. A missing registry file is an empty registry.
func (r *Registry) List() ([]Record, error) {
	content, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, status.ErrIO.Wrap(fmt.Errorf("reading registry %q: %w", r.path, err))
	}
	return parse(r.path, content)
}

// Get the value recorded for an artifact name.
//
// The first matching record wins. Every line is parsed first: a malformed line
// fails the lookup even when a matching record precedes it.
func (r *Registry) Get(name string) (string, error) {
	records, err := r.List()
	if err != nil {
		return "", err
	}

	for _, rec := range records {
		if rec.Name == name {
			return rec.Value, nil
		}
	}
	return "", status.ErrNotFound.Wrap(fmt.Errorf("artifact %q is not registered in %q", name, r.path))
}

// Put records value for name, replacing any previous record for that name.
//
// The new record is appended last. Other records keep their relative order.
func (r *Registry) Put(name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return status.ErrMalformed.Wrap(fmt.Errorf("registry value for %q contains a line break", name))
	}

	records, err := r.List()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, rec := range records {
		if rec.Name == name {
			continue
		}
		buf.WriteString(rec.String())
		buf.WriteByte('\n')
	}
	buf.WriteString(Record{Name: name, Value: value}.String())
	buf.WriteByte('\n')

	if err := fsutil.WriteFileAtomic(r.fs, r.path, buf.Bytes(), 0644); err != nil {
		return status.ErrIO.Wrap(fmt.Errorf("updating registry: %w", err))
	}
	return nil
}

// ValidateName checks that an artifact name may be stored as a registry record
func ValidateName(name string) error {
	switch {
	case name == "":
		return status.ErrMalformed.Wrap(fmt.Errorf("empty artifact name"))
	case strings.Contains(name, separator):
		return status.ErrMalformed.Wrap(fmt.Errorf("artifact name %q contains %q", name, separator))
	case strings.ContainsAny(name, "\r\n"):
		return status.ErrMalformed.Wrap(fmt.Errorf("artifact name %q contains a line break", name))
	}
	return nil
}

func parse(path string, content []byte) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		name, value, ok := strings.Cut(line, separator)
		if !ok {
			return nil, status.ErrMalformed.Wrap(fmt.Errorf("registry %q, line %d: missing %q separator", path, lineno, separator))
		}
		records = append(records, Record{Name: name, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, status.ErrIO.Wrap(fmt.Errorf("scanning registry %q: %w", path, err))
	}
	return records, nil
}
