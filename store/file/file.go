// Package file implements a mutable blob store whose index is persisted to a directory tree.
//
// Each blob in the store is either external,
// with its content in a file somewhere on disk that the store only refers to,
// or internal,
// with its content held by the store itself
// (used for collections and other small generated blobs).
// Either way the store keeps the blob's outboard in memory.
//
// See Snapshot for the on-disk format.
package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/bao"
	"github.com/bobg/baodb/blocking"
	"github.com/bobg/baodb/store"
)

var _ baodb.ReadonlyMap = &Database{}

// Entry describes where one blob's content lives, plus its outboard.
//
// Copying an Entry is cheap:
// the outboard and content buffers are shared, not duplicated.
// They must not be modified.
type Entry struct {
	Outboard []byte

	// Path is the file holding the content of an external entry.
	// It is empty for internal entries.
	Path string

	// Size is the content length:
	// as declared when the entry was added, for external entries,
	// or len(Data) for internal ones.
	Size uint64

	// Data is the content of an internal entry.
	Data []byte
}

// External produces an Entry for content in the file at path.
func External(path string, size uint64, outboard []byte) Entry {
	return Entry{Outboard: outboard, Path: path, Size: size}
}

// Internal produces an Entry for content held in memory.
func Internal(data, outboard []byte) Entry {
	return Entry{Outboard: outboard, Size: uint64(len(data)), Data: data}
}

// IsExternal tells whether e refers to a file.
func (e Entry) IsExternal() bool {
	return e.Path != ""
}

func (e Entry) open() (io.ReadCloser, error) {
	if e.IsExternal() {
		return os.Open(e.Path)
	}
	return io.NopCloser(bytes.NewReader(e.Data)), nil
}

// Database is a mutable, concurrently readable index of blobs.
// Share it by passing the pointer around;
// all holders see the same index.
type Database struct {
	mu      sync.RWMutex
	entries map[baodb.Hash]Entry

	log     *zap.Logger
	workers int
	pool    *blocking.Pool
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(db *Database) {
		db.log = l.With(zap.String("component", "Database"))
	}
}

// WithWorkers sets how many entries Validate checks at once.
// The default is the number of CPUs.
func WithWorkers(n int) Option {
	return func(db *Database) {
		db.workers = n
	}
}

// WithPool sets the pool used for filesystem and hashing work.
// The default is blocking.Default().
func WithPool(p *blocking.Pool) Option {
	return func(db *Database) {
		db.pool = p
	}
}

// New produces a new, empty Database.
func New(opts ...Option) *Database {
	db := &Database{
		entries: make(map[baodb.Hash]Entry),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.pool == nil {
		db.pool = blocking.Default()
	}
	return db
}

// Get gets the entry for a hash.
func (db *Database) Get(h baodb.Hash) (Entry, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.entries[h]
	return e, ok
}

// UnionWith adds the entries in other whose hashes are not already present.
// Existing entries are never replaced.
func (db *Database) UnionWith(other map[baodb.Hash]Entry) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for h, e := range other {
		db.insert(h, e)
	}
}

// Caller must hold the write lock.
func (db *Database) insert(h baodb.Hash, e Entry) bool {
	if _, ok := db.entries[h]; ok {
		return false
	}
	db.entries[h] = e
	return true
}

// AddFile adds the file at path as an external entry,
// unless its hash is already present.
// The file is read and hashed on the blocking pool.
// The entry records the absolute path.
func (db *Database) AddFile(ctx context.Context, path string) (baodb.Hash, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return baodb.Zero, errors.Wrapf(err, "resolving %s", path)
	}

	var ob *bao.Outboard
	err = db.pool.Do(ctx, func() error {
		f, err := os.Open(abs)
		if err != nil {
			return errors.Wrapf(err, "opening %s", abs)
		}
		defer f.Close()

		ob, err = bao.ComputeReader(f)
		return errors.Wrapf(err, "computing outboard for %s", abs)
	})
	if err != nil {
		return baodb.Zero, err
	}

	h := ob.Root()

	db.mu.Lock()
	added := db.insert(h, External(abs, ob.Size(), ob.Bytes()))
	db.mu.Unlock()

	db.log.Debug("added file", zap.String("path", abs), zap.Stringer("hash", h), zap.Bool("added", added))
	return h, nil
}

// AddBytes adds data as an internal entry,
// unless its hash is already present.
// The buffer is retained and must not be modified.
func (db *Database) AddBytes(data []byte) baodb.Hash {
	ob := bao.Compute(data)
	h := ob.Root()

	db.mu.Lock()
	defer db.mu.Unlock()

	db.insert(h, Internal(data, ob.Bytes()))
	return h
}

// ExternalEntry is an element of the list produced by Database.External.
type ExternalEntry struct {
	Hash baodb.Hash
	Path string
	Size uint64
}

// External lists the external entries, in hash order.
// The list is a copy, unaffected by later changes to db.
func (db *Database) External() []ExternalEntry {
	db.mu.RLock()
	var out []ExternalEntry
	for h, e := range db.entries {
		if e.IsExternal() {
			out = append(out, ExternalEntry{Hash: h, Path: e.Path, Size: e.Size})
		}
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Hash.Less(out[j].Hash) })
	return out
}

// InternalEntry is an element of the list produced by Database.Internal.
type InternalEntry struct {
	Hash baodb.Hash
	Data []byte
}

// Internal lists the internal entries, in hash order.
// The list is a copy, unaffected by later changes to db.
func (db *Database) Internal() []InternalEntry {
	db.mu.RLock()
	var out []InternalEntry
	for h, e := range db.entries {
		if !e.IsExternal() {
			out = append(out, InternalEntry{Hash: h, Data: e.Data})
		}
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Hash.Less(out[j].Hash) })
	return out
}

// ToInner produces a copy of the whole index.
func (db *Database) ToInner() map[baodb.Hash]Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.copyEntries()
}

// Caller must hold the read lock.
func (db *Database) copyEntries() map[baodb.Hash]Entry {
	out := make(map[baodb.Hash]Entry, len(db.entries))
	for h, e := range db.entries {
		out[h] = e
	}
	return out
}

// Len is the number of entries.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.entries)
}

// Lookup implements baodb.Map.
func (db *Database) Lookup(h baodb.Hash) (baodb.MapEntry, bool) {
	e, ok := db.Get(h)
	if !ok {
		return nil, false
	}
	return mapEntry{hash: h, e: e}, true
}

// Blobs implements baodb.ReadonlyMap.
// Hashes are in lexicographic order.
func (db *Database) Blobs() []baodb.Hash {
	return db.hashes(func(Entry) bool { return true })
}

// Roots implements baodb.ReadonlyMap.
// The roots of a Database are its internal entries.
// Hashes are in lexicographic order.
func (db *Database) Roots() []baodb.Hash {
	return db.hashes(func(e Entry) bool { return !e.IsExternal() })
}

func (db *Database) hashes(pred func(Entry) bool) []baodb.Hash {
	db.mu.RLock()
	out := make([]baodb.Hash, 0, len(db.entries))
	for h, e := range db.entries {
		if pred(e) {
			out = append(out, h)
		}
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type mapEntry struct {
	hash baodb.Hash
	e    Entry
}

func (m mapEntry) Hash() baodb.Hash { return m.hash }

func (m mapEntry) Outboard(ctx context.Context) (baodb.Outboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ob, err := bao.Parse(m.hash, m.e.Outboard)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing outboard for %s", m.hash)
	}
	return ob, nil
}

func (m mapEntry) DataReader(ctx context.Context) (baodb.DataReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.e.IsExternal() {
		return baodb.OpenFile(m.e.Path)
	}
	return baodb.BytesReader(m.e.Data), nil
}

func init() {
	store.Register("file", func(ctx context.Context, conf map[string]interface{}) (baodb.ReadonlyMap, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		var opts []Option
		if workers, ok := store.Int(conf, "workers"); ok {
			opts = append(opts, WithWorkers(workers))
		}
		if l, ok := store.Logger(ctx); ok {
			opts = append(opts, WithLogger(l))
		}
		return Load(ctx, root, opts...)
	})
}
