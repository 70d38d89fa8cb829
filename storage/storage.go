// Package storage provides the versioned key-value store backing
// trader journals and the rendered report. Each key keeps a bounded
// number of revisions; every Put is atomic, so a crash mid-write leaves
// the previous revision intact.
package storage

// Storage is one key's handle.
type Storage interface {
	// Load decodes the newest revision into dst. The bool is false when
	// the key has never been written.
	Load(dst any) (bool, error)

	// Put encodes src as the new newest revision in one atomic step.
	Put(src any) error

	// Erase removes the key and all its revisions.
	Erase() error
}

// Factory creates per-key handles over one backing store.
type Factory interface {
	Create(name string) Storage
}
