// Package mem implements an in-memory blob store
// for small generated content such as collections and test fixtures.
package mem

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync/atomic"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/bao"
	"github.com/bobg/baodb/store"
	"github.com/bobg/baodb/validate"
)

var _ baodb.ReadonlyMap = &Database{}

type entry struct {
	ob   *bao.Outboard
	data []byte
}

type inner struct {
	shared  atomic.Bool
	entries map[baodb.Hash]entry
}

// Database is a memory-based blob store.
//
// The underlying map is never modified once it is shared:
// Clone produces a second handle on the same map,
// and the first Insert on either handle copies it.
// A single handle is not safe for concurrent Insert.
type Database struct {
	in *inner
}

// NamedBlob is an input to New.
type NamedBlob struct {
	Name string
	Data []byte
}

// New produces a Database holding the given blobs,
// together with a map from each blob's name to its hash.
// Names are assumed unique;
// if one repeats, the last blob with that name wins the map entry
// (all blobs are stored regardless).
func New(blobs []NamedBlob) (*Database, map[string]baodb.Hash) {
	var (
		entries = make(map[baodb.Hash]entry, len(blobs))
		names   = make(map[string]baodb.Hash, len(blobs))
	)
	for _, b := range blobs {
		h, e := newEntry(b.Data)
		entries[h] = e
		names[b.Name] = h
	}
	return &Database{in: &inner{entries: entries}}, names
}

func newEntry(data []byte) (baodb.Hash, entry) {
	data = append([]byte(nil), data...)
	ob := bao.Compute(data)
	return ob.Root(), entry{ob: ob, data: data}
}

// Clone produces a new handle sharing db's contents.
func (db *Database) Clone() *Database {
	db.in.shared.Store(true)
	return &Database{in: db.in}
}

// Insert adds a copy of data to db and returns its hash.
// If db's contents are shared with a clone,
// they are copied first,
// so the clone does not see the new blob.
func (db *Database) Insert(data []byte) baodb.Hash {
	if db.in.shared.Load() {
		entries := make(map[baodb.Hash]entry, len(db.in.entries)+1)
		for h, e := range db.in.entries {
			entries[h] = e
		}
		db.in = &inner{entries: entries}
	}
	h, e := newEntry(data)
	db.in.entries[h] = e
	return h
}

// Get gets the content of a blob.
// The result must not be modified.
func (db *Database) Get(h baodb.Hash) ([]byte, bool) {
	e, ok := db.in.entries[h]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Len is the number of blobs in db.
func (db *Database) Len() int {
	return len(db.in.entries)
}

// Lookup implements baodb.Map.
func (db *Database) Lookup(h baodb.Hash) (baodb.MapEntry, bool) {
	e, ok := db.in.entries[h]
	if !ok {
		return nil, false
	}
	return mapEntry{e: e}, true
}

// Blobs implements baodb.ReadonlyMap.
// Hashes are in lexicographic order.
func (db *Database) Blobs() []baodb.Hash {
	out := make([]baodb.Hash, 0, len(db.in.entries))
	for h := range db.in.entries {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Roots implements baodb.ReadonlyMap.
// A mem Database has no roots:
// its contents are generated, not explicitly added.
func (db *Database) Roots() []baodb.Hash {
	return nil
}

// Validate implements baodb.ReadonlyMap.
func (db *Database) Validate(ctx context.Context, ch chan<- baodb.ValidateEvent) error {
	items := make([]validate.Item, 0, len(db.in.entries))
	for h, e := range db.in.entries {
		items = append(items, validate.Item{
			Hash:     h,
			Size:     e.ob.Size(),
			Outboard: e.ob.Bytes(),
			Open:     e.open,
		})
	}
	return validate.Run(ctx, items, ch)
}

func (e entry) open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

type mapEntry struct {
	e entry
}

func (m mapEntry) Hash() baodb.Hash { return m.e.ob.Root() }

func (m mapEntry) Outboard(context.Context) (baodb.Outboard, error) {
	return m.e.ob, nil
}

func (m mapEntry) DataReader(context.Context) (baodb.DataReader, error) {
	return baodb.BytesReader(m.e.data), nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (baodb.ReadonlyMap, error) {
		db, _ := New(nil)
		return db, nil
	})
}
