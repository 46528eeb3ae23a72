// Package baodb is the storage core of a content-addressable blob store
// whose blobs can be verified incrementally.
//
// Every blob is named by its hash,
// the root of a hash tree built over the blob's content in fixed-size blocks.
// Alongside each blob the store keeps an "outboard":
// the hash tree itself, stored separately from the content.
// With the outboard,
// a reader can check any block of a blob as it arrives,
// without first holding the whole blob,
// and can tell exactly where corrupt data begins.
// (See the bao subpackage.)
//
// Content reaches consumers through the Map interface.
// A lookup is a cheap check of an in-memory index;
// opening the outboard and the data is deferred to the MapEntry it returns.
//
// Two backends implement Map.
// The one in store/file keeps a mutable index of blobs,
// some held in memory ("collections") and some referencing files on disk,
// and persists that index to a directory tree.
// The one in store/mem holds small synthesized blobs entirely in memory.
//
// Both can re-verify everything they hold against its outboard
// with ReadonlyMap.Validate,
// which reports its progress as a stream of ValidateEvents.
package baodb
