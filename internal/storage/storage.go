// Package storage provides the primitive key-to-bytes store beneath the
// context store. Keys are logical paths with '/' as separator.
package storage

// ReadResult is the outcome of a ReadFrom call.
type ReadResult struct {
	Content   []byte
	NewOffset int64
}

// Backend is the narrow storage contract. Implementations must guarantee
// per-key atomicity for Write and Append; there are no transactions across
// keys.
type Backend interface {
	// Read returns the full content, or (nil, false, nil) when the key is
	// absent. Absence is not an error.
	Read(key string) (content []byte, ok bool, err error)

	// ReadFrom returns content starting at byte offset. When offset is at or
	// past the end it returns empty content with NewOffset equal to the
	// current size. An absent key yields empty content at offset 0. A
	// concurrent append may cause a short read, but the returned content is
	// always a valid prefix continuation.
	ReadFrom(key string, offset int64) (ReadResult, error)

	// Write atomically replaces the content of key, creating parents on
	// demand.
	Write(key string, content []byte) error

	// Append atomically appends to key, creating it if absent. Concurrent
	// appenders never interleave partial writes.
	Append(key string, content []byte) error

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// List returns keys under prefix, relative to it, recursively, sorted
	// lexicographically.
	List(prefix string) ([]string, error)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string) error
}
