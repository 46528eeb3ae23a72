package baodb

import (
	"context"
	"errors"
	"io"
)

// Outboard is the hash tree of a blob, kept apart from the blob's content.
type Outboard interface {
	// Root is the hash the tree proves: the blob's Hash.
	Root() Hash

	// Size is the length of the blob's content in bytes.
	Size() uint64

	// Bytes is the serialized form of the tree,
	// as written to disk.
	Bytes() []byte

	// Verify reads the blob's content from r
	// and checks it block by block against the tree.
	// After each verified block it calls progress (if non-nil)
	// with the offset verified so far.
	// It stops at the first block that does not match.
	Verify(r io.Reader, progress func(offset uint64)) error
}

// DataReader is random access to the content of a blob.
// Callers must Close it when done.
type DataReader interface {
	io.ReaderAt
	io.Closer

	// Size is the number of bytes available.
	Size() int64
}

// Map is a read-only collection of blobs with precomputed outboards.
type Map interface {
	// Lookup returns the entry for a hash.
	// It is a pure index lookup that performs no I/O,
	// so it is also the way to test whether a hash is present.
	Lookup(Hash) (MapEntry, bool)
}

// MapEntry is a cheap handle on one blob in a Map.
// Opening its outboard or content is deferred to the methods that do it,
// and those may fail.
type MapEntry interface {
	// Hash is the key under which the entry was found.
	Hash() Hash

	// Outboard produces the blob's hash tree.
	Outboard(context.Context) (Outboard, error)

	// DataReader opens the blob's content.
	DataReader(context.Context) (DataReader, error)
}

// ReadonlyMap is a Map that can also enumerate and validate its contents.
type ReadonlyMap interface {
	Map

	// Blobs lists every hash in the map,
	// including collections, which are blobs too.
	Blobs() []Hash

	// Roots lists the hashes that were added as top-level objects
	// (collections and other internally held blobs)
	// rather than merely referenced as files.
	Roots() []Hash

	// Validate re-verifies every blob against its outboard,
	// sending progress events on ch.
	// The set of blobs is fixed when Validate is called;
	// blobs added later are not validated.
	//
	// A blob that fails verification is reported in its ValidateDone event
	// and does not stop the sweep.
	// Validate returns an error only when the sweep itself cannot continue:
	// the context is canceled or a verification worker fails outside
	// the normal error path.
	Validate(ctx context.Context, ch chan<- ValidateEvent) error
}

// ErrNotFound is the error returned
// when a hash is not in a Map.
var ErrNotFound = errors.New("not found")

// Open looks up h in m and opens both its outboard and its content.
func Open(ctx context.Context, m Map, h Hash) (Outboard, DataReader, error) {
	e, ok := m.Lookup(h)
	if !ok {
		return nil, nil, ErrNotFound
	}
	ob, err := e.Outboard(ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.DataReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ob, r, nil
}
