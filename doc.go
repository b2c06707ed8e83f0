/*
Package castor distributes build artifacts as content-addressed chunks.

A producer builds a directory into a repository: each distinct file content is stored once,
compressed, under the hash of its raw bytes. A manifest lists the files of an artifact and is stored
under its own hash, and a registry file maps artifact names to manifests.

A consumer installs an artifact into a local store, fetching what it lacks from an ordered list of
sources through a local cache, verifying every chunk, and switching the artifact pointer atomically.

See cmd/castor for the CLI and pkg/core for the Build and Install operations.
*/
package castor
