// Package lru implements a Map that caches parsed outboards from a nested Map
// in a least-recently-used cache.
//
// Parsing an outboard rehashes its whole tree to check it against the root,
// so a server handing out the same blobs repeatedly saves that work here.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/baodb"
	"github.com/bobg/baodb/store"
)

var _ baodb.ReadonlyMap = &Map{}

// Map wraps a nested ReadonlyMap,
// caching the results of MapEntry.Outboard.
// Everything else passes through to the nested map.
type Map struct {
	c *lru.Cache // Hash->baodb.Outboard
	baodb.ReadonlyMap
}

// New produces a new Map wrapping m and caching up to size outboards.
func New(m baodb.ReadonlyMap, size int) (*Map, error) {
	c, err := lru.New(size)
	return &Map{c: c, ReadonlyMap: m}, err
}

// Lookup implements baodb.Map.
func (m *Map) Lookup(h baodb.Hash) (baodb.MapEntry, bool) {
	e, ok := m.ReadonlyMap.Lookup(h)
	if !ok {
		return nil, false
	}
	return &mapEntry{MapEntry: e, c: m.c}, true
}

type mapEntry struct {
	baodb.MapEntry
	c *lru.Cache
}

func (e *mapEntry) Outboard(ctx context.Context) (baodb.Outboard, error) {
	h := e.Hash()
	if got, ok := e.c.Get(h); ok {
		return got.(baodb.Outboard), nil
	}
	ob, err := e.MapEntry.Outboard(ctx)
	if err != nil {
		return nil, err
	}
	e.c.Add(h, ob)
	return ob, nil
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (baodb.ReadonlyMap, error) {
		size, ok := store.Int(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		return New(nested, size)
	})
}
